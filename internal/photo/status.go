package photo

import "fmt"

// Status is the processing status of a Photo.
//
// Transitions are monotonic: PENDING -> RUNNING -> {SUCCEEDED, FAILED}.
// The two terminal states are absorbing.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// rank orders statuses for the monotonicity check. Both terminal states
// share the highest rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether s is SUCCEEDED or FAILED.
func (s Status) Terminal() bool {
	return s.rank() == 2
}

// CanTransition reports whether a record in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() == s.rank()+1
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown processing status %q", v)
	}
	return s, nil
}
