// Package cli builds the standardized service command tree: worker, health,
// status, enqueue, replay and version subcommands wired to the configured
// Redis broker.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smontoya86/curatorq/pkg/brokerpool"
	"github.com/smontoya86/curatorq/pkg/config"
	"github.com/smontoya86/curatorq/pkg/health"
	"github.com/smontoya86/curatorq/pkg/jobs"
	"github.com/smontoya86/curatorq/pkg/observability/logger"
	"github.com/smontoya86/curatorq/pkg/observability/metrics"
	"github.com/smontoya86/curatorq/pkg/observability/tracing"
	"github.com/smontoya86/curatorq/pkg/server"
	"github.com/smontoya86/curatorq/pkg/version"
)

const defaultEnvPrefix = "CURATORQ"

// ServiceOptions defines callbacks for service-specific logic.
type ServiceOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: registers job handlers before the worker command starts
	// processing. A worker with no handlers routes every reserved job to
	// the failed registry.
	ConfigureWorker func(cfg *config.Config, log logger.Logger, worker jobs.Worker) error

	// Optional: veto hook consulted by the enqueue command before pushing.
	EnqueuePrecondition jobs.Precondition

	// Optional: additional service-specific commands.
	CustomCommands []*cobra.Command
}

// runtimeDeps bundles the broker-facing components shared by subcommands.
type runtimeDeps struct {
	cfg     *config.Config
	log     *logger.ZapLogger
	pools   *brokerpool.Manager
	backend *jobs.RedisBackend
}

func (d *runtimeDeps) close() {
	if d.backend != nil {
		if err := d.backend.Close(); err != nil {
			d.log.Error("failed to close jobs backend", "error", err)
		}
	}
	if d.pools != nil {
		if err := d.pools.Close(); err != nil {
			d.log.Error("failed to close broker pools", "error", err)
		}
	}
	if d.log != nil {
		_ = d.log.Sync()
	}
}

// NewServiceCommand creates the root command with worker, health, status,
// enqueue, replay and version subcommands.
func NewServiceCommand(opts ServiceOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "curatorq"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = defaultEnvPrefix
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")

	loadDeps := func(ctx context.Context) (*runtimeDeps, error) {
		return loadRuntimeDeps(ctx, cfgPath, opts.EnvPrefix)
	}

	rootCmd.AddCommand(newVersionCommand(opts.Name))
	rootCmd.AddCommand(newWorkerCommand(opts, loadDeps))
	rootCmd.AddCommand(newHealthCommand(loadDeps))
	rootCmd.AddCommand(newStatusCommand(loadDeps))
	rootCmd.AddCommand(newEnqueueCommand(opts, loadDeps))
	rootCmd.AddCommand(newReplayCommand(loadDeps))

	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}
	return rootCmd
}

// Execute runs the command and exits with a non-zero code on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// LoadConfigAndLogger loads configuration and builds the process logger.
func LoadConfigAndLogger(cfgPath, envPrefix string) (*config.Config, *logger.ZapLogger, error) {
	loader := config.NewViperLoader(cfgPath, envPrefix)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}
	format, err := logger.ParseLogFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log format: %w", err)
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func loadRuntimeDeps(ctx context.Context, cfgPath, envPrefix string) (*runtimeDeps, error) {
	cfg, log, err := LoadConfigAndLogger(cfgPath, envPrefix)
	if err != nil {
		return nil, err
	}

	pools, err := brokerpool.NewManager(cfg.Redis.URL, brokerpool.Config{
		PoolSize:            cfg.Redis.PoolSize,
		DialTimeout:         cfg.Redis.DialTimeout,
		ReadTimeout:         cfg.Redis.ReadTimeout,
		WriteTimeout:        cfg.Redis.WriteTimeout,
		KeepAlive:           cfg.Redis.KeepAlive,
		HealthCheckInterval: cfg.Redis.HealthCheckInterval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create broker pools: %w", err)
	}

	backend, err := jobs.NewRedisBackend(ctx, pools, jobs.RedisBackendConfig{
		URL:    cfg.Redis.URL,
		Prefix: cfg.Jobs.Prefix,
	}, log)
	if err != nil {
		if closeErr := pools.Close(); closeErr != nil {
			log.Error("failed to close broker pools", "error", closeErr)
		}
		return nil, fmt.Errorf("create jobs backend: %w", err)
	}

	return &runtimeDeps{cfg: cfg, log: log, pools: pools, backend: backend}, nil
}

func newVersionCommand(serviceName string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(serviceName)
			fmt.Printf("Service:    %s\n", info.Service)
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
		},
	}
}

// workerFlags holds worker command overrides; zero values defer to config.
type workerFlags struct {
	queues      []string
	concurrency int
	leaseTTL    time.Duration
	attemptTO   time.Duration
}

func (f *workerFlags) bind(flags *pflag.FlagSet) {
	flags.StringSliceVar(&f.queues, "queue", nil, "queue names to consume (repeatable, default from config)")
	flags.IntVar(&f.concurrency, "concurrency", 0, "worker goroutines per queue (default from config)")
	flags.DurationVar(&f.leaseTTL, "lease-ttl", 0, "lease duration per reserved job (default from config)")
	flags.DurationVar(&f.attemptTO, "attempt-timeout", 0, "timeout for a single job execution (default from config)")
}

func newWorkerCommand(opts ServiceOptions, loadDeps func(context.Context) (*runtimeDeps, error)) *cobra.Command {
	var flags workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background jobs worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := loadDeps(runCtx)
			if err != nil {
				return err
			}
			defer deps.close()
			cfg, log := deps.cfg, deps.log

			tracerProvider, err := tracing.NewTracerProvider(runCtx, tracing.TracerConfig{
				ServiceName:    cfg.Service.Name,
				ServiceVersion: cfg.Service.Version,
				Environment:    cfg.Service.Environment,
				Endpoint:       cfg.Tracing.Endpoint,
				SampleRate:     cfg.Tracing.SampleRate,
				Enabled:        cfg.Tracing.Enabled,
			})
			if err != nil {
				return fmt.Errorf("create tracer provider: %w", err)
			}
			defer func() {
				if shutdownErr := tracerProvider.Shutdown(context.Background()); shutdownErr != nil {
					log.Error("failed to shut down tracer provider", "error", shutdownErr)
				}
			}()

			worker, err := jobs.NewWorker(deps.backend, log, jobs.WorkerConfig{
				Queues:            resolveQueues(flags.queues, cfg),
				Concurrency:       pickInt(flags.concurrency, cfg.Jobs.Concurrency),
				LeaseTTL:          pickDuration(flags.leaseTTL, cfg.Jobs.LeaseTTL),
				AttemptTimeout:    pickDuration(flags.attemptTO, cfg.Jobs.DefaultTimeout),
				HeartbeatInterval: cfg.Jobs.HeartbeatInterval,
				Policy:            cfg.RetryPolicy(),
			})
			if err != nil {
				return fmt.Errorf("create worker: %w", err)
			}
			if opts.ConfigureWorker != nil {
				if err := opts.ConfigureWorker(cfg, log, worker); err != nil {
					return fmt.Errorf("configure worker: %w", err)
				}
			} else {
				log.Warn("no job handlers registered; reserved jobs will be routed to the failed registry")
			}

			if cfg.Management.Enabled {
				go runManagementServer(runCtx, deps, stop)
			}
			return worker.Start(runCtx)
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

// runManagementServer serves /healthz, /readyz, /queues and /metrics until
// the context is cancelled. A serve failure stops the whole process.
func runManagementServer(ctx context.Context, deps *runtimeDeps, stop context.CancelFunc) {
	cfg, log := deps.cfg, deps.log

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(jobs.NewBackendHealthChecker("jobs-backend", deps.backend, 0))
	healthRegistry.Register(jobs.NewBrokerHealthChecker("broker-pool", deps.pools, 0))

	monitor, err := jobs.NewQueueHealthMonitor(deps.backend, cfg.Jobs.HeartbeatWindow, log)
	if err != nil {
		log.Error("failed to create queue health monitor", "error", err)
		stop()
		return
	}

	mgmt := server.NewManagementServer(cfg.Management, log, healthRegistry, metrics.NewRegistry(), monitor, cfg.Queues())
	if err := mgmt.Start(ctx); err != nil {
		log.Error("management server failed", "error", err)
		stop()
	}
}

func newHealthCommand(loadDeps func(context.Context) (*runtimeDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report per-queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()

			monitor, err := jobs.NewQueueHealthMonitor(deps.backend, deps.cfg.Jobs.HeartbeatWindow, deps.log)
			if err != nil {
				return fmt.Errorf("create queue health monitor: %w", err)
			}
			report := monitor.Check(cmd.Context(), deps.cfg.Queues())
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Overall == health.StatusUnhealthy {
				return fmt.Errorf("queue health is unhealthy")
			}
			return nil
		},
	}
}

func newStatusCommand(loadDeps func(context.Context) (*runtimeDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status <owner-key>",
		Short: "Show job status for an owner key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()

			statusService, err := jobs.NewStatusService(deps.backend, deps.cfg.Queues(), deps.log)
			if err != nil {
				return fmt.Errorf("create status service: %w", err)
			}
			return printJSON(statusService.OwnerStatus(cmd.Context(), args[0]))
		},
	}
}

func newEnqueueCommand(opts ServiceOptions, loadDeps func(context.Context) (*runtimeDeps, error)) *cobra.Command {
	var (
		queue    string
		ownerKey string
		timeout  time.Duration
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-name> [arg...]",
		Short: "Enqueue a job with positional string arguments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()
			cfg := deps.cfg

			enqueuer, err := jobs.NewEnqueuer(deps.backend, deps.log, jobs.EnqueuerConfig{
				DefaultQueue:   cfg.Jobs.DefaultQueue,
				DefaultTimeout: cfg.Jobs.DefaultTimeout,
				Policy:         cfg.RetryPolicy(),
				Precondition:   opts.EnqueuePrecondition,
			})
			if err != nil {
				return fmt.Errorf("create enqueuer: %w", err)
			}

			jobArgs := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				jobArgs = append(jobArgs, arg)
			}
			req := &jobs.EnqueueRequest{
				Name:     args[0],
				Queue:    queue,
				Args:     jobArgs,
				OwnerKey: ownerKey,
				Timeout:  timeout,
			}
			if delay > 0 {
				req.RunAt = time.Now().Add(delay)
			}
			handle, err := enqueuer.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(handle)
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "target queue (default from config)")
	cmd.Flags().StringVar(&ownerKey, "owner", "", "owner key attached to the job")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-job execution timeout (default from config)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "schedule the job this far in the future")
	return cmd
}

func newReplayCommand(loadDeps func(context.Context) (*runtimeDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <queue> <failed-id>...",
		Short: "Re-enqueue permanently failed jobs with fresh retry budgets",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.close()

			replayed, err := deps.backend.ReplayFailed(cmd.Context(), args[0], args[1:])
			if err != nil {
				return fmt.Errorf("replay failed jobs: %w", err)
			}
			fmt.Printf("replayed %d job(s) from queue %s\n", replayed, args[0])
			return nil
		},
	}
}

func resolveQueues(flagQueues []string, cfg *config.Config) []string {
	queues := make([]string, 0, len(flagQueues))
	for _, queue := range flagQueues {
		if trimmed := strings.TrimSpace(queue); trimmed != "" {
			queues = append(queues, trimmed)
		}
	}
	if len(queues) > 0 {
		return queues
	}
	return cfg.Queues()
}

func pickInt(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func pickDuration(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
