package model

import "fmt"

// Kind tags the error vocabulary the core control loop consumes and
// produces. Each kind implies a distinct recovery behavior, noted below.
type Kind int

const (
	// KindMissing: hardware/device not present at sampling time.
	// Recovered locally: callers emit the emergency temperature or retain
	// the last-known duty.
	KindMissing Kind = iota
	// KindTransientIO: a single sysfs read failed, an NVML call blipped,
	// a helper RPC timed out. Recovered locally: previous status stands.
	KindTransientIO
	// KindUnsupportedOperation: the adapter does not support the requested
	// actuation (e.g. a profile curve on a GPU without curve control).
	KindUnsupportedOperation
	// KindUserError: invalid duty bounds, invalid function parameters,
	// invalid custom-sensor file content. Surfaced to the caller; never
	// reaches the control loop because validation happens at config time.
	KindUserError
	// KindInternal: a violated invariant. Logged at error level, tick
	// continues.
	KindInternal
	// KindInit: mandatory discovery input absent (e.g. cpuinfo missing,
	// helper unreachable after the retry budget). Aborts repository
	// initialization; other repositories proceed.
	KindInit
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "Missing"
	case KindTransientIO:
		return "TransientIO"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindUserError:
		return "UserError"
	case KindInternal:
		return "Internal"
	case KindInit:
		return "Init"
	default:
		return "Unknown"
	}
}

// CoreError is the typed error every repository and processor returns.
// Wrapping (via errors.Is/errors.As) is preferred over string matching.
type CoreError struct {
	Kind    Kind
	Op      string // component/operation that raised it, e.g. "hwmon.initialize_devices"
	Message string
	Err     error // underlying cause, if any
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &CoreError{Kind: KindMissing}) style matching
// by Kind alone, ignoring Op/Message/Err.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind Kind, op, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Message: message, Err: cause}
}

func Missing(op, msg string) *CoreError { return NewError(KindMissing, op, msg, nil) }

func TransientIO(op string, cause error) *CoreError {
	return NewError(KindTransientIO, op, "transient I/O failure", cause)
}

func Unsupported(op string) *CoreError {
	return NewError(KindUnsupportedOperation, op, "operation not supported by this adapter", nil)
}

func UserError(op, msg string) *CoreError { return NewError(KindUserError, op, msg, nil) }

func Internal(op, msg string) *CoreError { return NewError(KindInternal, op, msg, nil) }

func InitError(op, msg string, cause error) *CoreError {
	return NewError(KindInit, op, msg, cause)
}
