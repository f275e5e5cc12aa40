package jobs

import "strings"

// keySpace centralizes the Redis key layout. All runtime state for one queue
// lives under prefix:queue:<name>:* plus the shared lease namespace.
type keySpace struct {
	prefix string
}

func newKeySpace(prefix string) keySpace {
	return keySpace{prefix: strings.TrimRight(strings.TrimSpace(prefix), ":")}
}

func (k keySpace) ready(queue string) string {
	return k.prefix + ":queue:" + strings.TrimSpace(queue) + ":ready"
}

func (k keySpace) delayed(queue string) string {
	return k.prefix + ":queue:" + strings.TrimSpace(queue) + ":delayed"
}

func (k keySpace) started(queue string) string {
	return k.prefix + ":queue:" + strings.TrimSpace(queue) + ":started"
}

func (k keySpace) finished(queue string) string {
	return k.prefix + ":queue:" + strings.TrimSpace(queue) + ":finished"
}

func (k keySpace) workers(queue string) string {
	return k.prefix + ":queue:" + strings.TrimSpace(queue) + ":workers"
}

func (k keySpace) failedIndex(queue string) string {
	return k.prefix + ":failed:index:" + strings.TrimSpace(queue)
}

func (k keySpace) failedEntry(queue, id string) string {
	return k.prefix + ":failed:entry:" + strings.TrimSpace(queue) + ":" + strings.TrimSpace(id)
}

func (k keySpace) lease(token string) string {
	return k.prefix + ":lease:" + strings.TrimSpace(token)
}

func (k keySpace) leasePrefix() string {
	return k.prefix + ":lease:"
}
