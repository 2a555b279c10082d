package domain

// Status is the externally observable projection of a JobState.
type Status struct {
	Busy   bool    `json:"busy"`
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

// Project maps a JobState onto the facets the presentation layer renders.
func Project(state JobState) Status {
	status := Status{Busy: state.Phase.Busy()}
	switch state.Phase {
	case PhaseSucceeded:
		result := state.Result
		status.Result = &result
	case PhaseFailed:
		msg := state.ErrorMessage
		status.Error = &msg
	}
	return status
}

// Equal reports whether two projections render identically.
func (s Status) Equal(other Status) bool {
	return s.Busy == other.Busy && equalPtr(s.Result, other.Result) && equalPtr(s.Error, other.Error)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
