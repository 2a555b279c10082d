package domain

// Phase enumerates the job lifecycle states.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Busy reports whether the phase has outstanding work.
func (p Phase) Busy() bool {
	switch p {
	case PhaseValidating, PhaseSubmitting, PhasePolling:
		return true
	default:
		return false
	}
}

// Terminal reports whether the phase only changes on a new request or reset.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// JobRequest is the validated input of a single job. It is never mutated
// after submission.
type JobRequest struct {
	Input string
}

// JobHandle is the opaque identifier the remote service assigns to a job.
type JobHandle string

// JobState is the single mutable entity of a job lifecycle.
type JobState struct {
	Phase        Phase
	Handle       JobHandle
	Result       string
	ErrorMessage string
	Err          error
	Generation   uint64
}

// SnapshotStatus classifies a remote status read.
type SnapshotStatus string

const (
	SnapshotPending   SnapshotStatus = "pending"
	SnapshotSucceeded SnapshotStatus = "succeeded"
	SnapshotFailed    SnapshotStatus = "failed"
)

// JobSnapshot is one point-in-time status read of a remote job.
type JobSnapshot struct {
	Status SnapshotStatus
	// Output is set for SnapshotSucceeded. An empty output on success is
	// treated as a malformed response.
	Output string
	// Reason is set for SnapshotFailed.
	Reason string
	// RemoteStatus is the raw status string reported by the service.
	RemoteStatus string
}
