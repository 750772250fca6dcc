package record

import (
	"fmt"
	"time"
)

// Handle identifies one submitted recording task. The zero value means "no task".
type Handle string

// IsZero reports whether h refers to no task
func (h Handle) IsZero() bool {
	return h == ""
}

// OutcomeKind is the terminal result of a recording task
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

var outcomeKindNames = [...]string{"succeeded", "cancelled", "failed"}

func (k OutcomeKind) String() string {
	if int(k) >= 0 && int(k) < len(outcomeKindNames) {
		return outcomeKindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Outcome is delivered exactly once per Handle
type Outcome struct {
	Handle      Handle
	Kind        OutcomeKind
	Err         error // set for OutcomeFailed
	Address     string
	Destination string
	StartedAt   time.Time
	Duration    time.Duration
}

// Reason returns the failure reason, or an empty string
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
