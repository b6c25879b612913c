package scheduler

// OutcomeKind classifies the result of one job invocation.
type OutcomeKind int

const (
	// KindDone means the job finished its work and must not run again.
	KindDone OutcomeKind = iota
	// KindRetry means the job could not finish yet and wants another run.
	KindRetry
	// KindFatal means the job hit a permanent failure and must stop.
	KindFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case KindDone:
		return "done"
	case KindRetry:
		return "retry"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the tri-state result a job handler returns. Retry outcomes carry
// a reason so the scheduler can tell a stuck job from one making progress.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Done reports that the job completed.
func Done() Outcome {
	return Outcome{Kind: KindDone}
}

// Retry asks for another run. The reason is compared across runs: a changed
// reason restarts the backoff from the base interval.
func Retry(reason string) Outcome {
	return Outcome{Kind: KindRetry, Reason: reason}
}

// Fatal stops the job permanently.
func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Err: err}
}
