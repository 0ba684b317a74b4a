package app

// ErrorKind classifies the fatal failure modes of a diagnosis run. Every
// kind aborts the run after cleanup; each gets its own exit code and
// remediation message.
type ErrorKind int

const (
	KindPrerequisite ErrorKind = iota + 1
	KindCertificate
	KindProxyStart
	KindTimeout
	KindProxyDied
)

// RunError is a fatal run failure with a remediation hint.
type RunError struct {
	Kind   ErrorKind
	Remedy string
	Err    error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitCode maps the failure kind to a distinct process exit code.
func (e *RunError) ExitCode() int {
	switch e.Kind {
	case KindPrerequisite:
		return 2
	case KindCertificate:
		return 3
	case KindProxyStart:
		return 4
	case KindTimeout:
		return 5
	case KindProxyDied:
		return 6
	default:
		return 1
	}
}
