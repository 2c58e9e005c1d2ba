package runner

import "fmt"

// RankError names the rank and the resource behind a fatal setup failure
type RankError struct {
	Rank     int
	Resource string
	Err      error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("rank %d: %s: %v", e.Rank, e.Resource, e.Err)
}

func (e *RankError) Unwrap() error { return e.Err }
