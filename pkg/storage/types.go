package storage

import "time"

// Run is one invocation of the grab command.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress or if it crashed
	Root       string

	Queued     int
	Downloaded int
	Skipped    int
	Failed     int
	Requests   int
	Bytes      int64
}

// Download records the outcome of a single queue entry.
type Download struct {
	RunID      string
	ItemID     int64
	Path       string
	Status     string // downloaded | skipped | failed
	Bytes      int64
	Error      string
	OccurredAt time.Time
}

// Stats aggregates all recorded runs.
type Stats struct {
	Runs       int
	Downloaded int
	Failed     int
	Bytes      int64
}
