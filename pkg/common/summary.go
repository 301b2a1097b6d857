package common

import (
	"encoding/json"
	"fmt"
)

// SummaryState is the discriminator of the Summary sum type.
type SummaryState string

const (
	SummaryUnrequested SummaryState = "unrequested"
	SummaryPending     SummaryState = "pending"
	SummaryReady       SummaryState = "ready"
	SummaryFailed      SummaryState = "failed"
)

// Summary is the AI-written summary attached to a node. The zero value is
// Unrequested. Ready carries Text and Analysis, Failed carries Error.
//
// Use the constructors below instead of filling the struct by hand so the
// payload always matches the state.
type Summary struct {
	State    SummaryState `json:"state"`
	Text     string       `json:"summary,omitempty"`
	Analysis string       `json:"analysis,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func PendingSummary() Summary {
	return Summary{State: SummaryPending}
}

func ReadySummary(text, analysis string) Summary {
	return Summary{State: SummaryReady, Text: text, Analysis: analysis}
}

func FailedSummary(err error) Summary {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Summary{State: SummaryFailed, Error: msg}
}

// IsUnrequested reports whether no summary was ever asked for. An empty
// state is treated the same way so that documents written without the
// field still decode to a sensible value.
func (s Summary) IsUnrequested() bool {
	return s.State == "" || s.State == SummaryUnrequested
}

// UnmarshalJSON validates the discriminator.
func (s *Summary) UnmarshalJSON(data []byte) error {
	type raw Summary
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.State {
	case "", SummaryUnrequested:
		*s = Summary{State: SummaryUnrequested}
	case SummaryPending:
		// a pending request does not survive a reload
		*s = Summary{State: SummaryUnrequested}
	case SummaryReady:
		*s = ReadySummary(r.Text, r.Analysis)
	case SummaryFailed:
		*s = Summary{State: SummaryFailed, Error: r.Error}
	default:
		return fmt.Errorf("unknown summary state %q", r.State)
	}
	return nil
}
