package model

import "time"

// Params are the run parameters shared by all fetch tasks in one aggregation
// run. They are validated by the config loader; the merge engine only
// consumes them.
type Params struct {
	// Timeout applies per fetch attempt, not per source.
	Timeout time.Duration

	// MaxRetry is the number of additional attempts after the first one,
	// so a source is tried MaxRetry+1 times in total.
	MaxRetry int

	// Workers is the requested upper bound on concurrent fetches. The
	// engine further caps it (see merge.HardWorkerCap).
	Workers int
}

// Registry is the immutable input of one aggregation run: the ordered
// upstream source URLs plus the run parameters. It is built once by the
// config collaborator and consumed once by the merge engine.
type Registry struct {
	Sources []string
	Params  Params
}
