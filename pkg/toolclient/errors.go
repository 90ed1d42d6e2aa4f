package toolclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"syscall"
)

var (
	// ErrUnreachable means the tool host could not be contacted.
	ErrUnreachable = errors.New("tool host unreachable")
	// ErrTimeout means the tool host did not answer within the call timeout.
	ErrTimeout = errors.New("tool host timed out")
)

// TransportError wraps a network-level failure. It matches ErrTimeout or
// ErrUnreachable with errors.Is.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	kind := ErrUnreachable
	if e.Timeout {
		kind = ErrTimeout
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches the transport sentinel for this failure.
func (e *TransportError) Is(target error) bool {
	if e.Timeout {
		return target == ErrTimeout
	}
	return target == ErrUnreachable
}

// ProtocolError means the host answered with something that could not be interpreted.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: protocol error: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ExecutionError is an application-level failure reported by the tool itself.
type ExecutionError struct {
	Tool    string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// IsRetryable reports whether err is a transport failure worth retrying.
// Retrying is only done for discovery.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// Reason returns a short description of err that is safe to show to a user.
func Reason(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return "invalid response from tool host"
	}
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout.Error()
	}
	if errors.Is(err, ErrUnreachable) {
		return ErrUnreachable.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// classify maps a raw transport error onto the package error taxonomy.
// Errors that are already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		transportErr *TransportError
		protoErr     *ProtocolError
		execErr      *ExecutionError
	)
	if errors.As(err, &transportErr) || errors.As(err, &protoErr) || errors.As(err, &execErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Timeout: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Op: op, Timeout: true, Err: err}
	}

	var (
		opErr   *net.OpError
		dnsErr  *net.DNSError
		urlErr  *url.Error
		execRun *exec.Error
		pathErr *os.PathError
	)
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled),
		errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.As(err, &urlErr),
		errors.As(err, &execRun),
		errors.As(err, &pathErr):
		return &TransportError{Op: op, Err: err}
	}

	return &ProtocolError{Op: op, Reason: "unexpected failure", Err: err}
}
