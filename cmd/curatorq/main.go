// Command curatorq runs the background job reliability layer: a Redis-backed
// worker process plus operator commands for queue health, owner status,
// enqueueing and failed-job replay.
package main

import (
	"github.com/smontoya86/curatorq/pkg/cli"
)

func main() {
	cli.Execute(cli.NewServiceCommand(cli.ServiceOptions{
		Name:        "curatorq",
		Description: "Reliable background job processing over Redis",
	}))
}
