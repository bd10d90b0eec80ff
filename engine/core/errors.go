package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	ErrDeviceRemoved = errors.New("device removed")
	ErrHeapExhausted = errors.New("descriptor heap exhausted")
	ErrNotFound      = errors.New("not found")
	ErrInvalidHandle = errors.New("invalid descriptor handle")
	ErrNotRecording  = errors.New("command list is not recording")
	ErrUnknown       = errors.New("unknown")
)

// ErrorKind classifies a DeviceError for the frame driver.
type ErrorKind uint8

const (
	// Object creation or any other failed device call.
	KindDevice ErrorKind = iota
	// The device was lost, usually detected at present time.
	KindDeviceRemoved
	// A named pipeline state or root signature was never registered.
	KindNotFound
	// A programmer contract was violated.
	KindContract
)

func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindDeviceRemoved:
		return "device-removed"
	case KindNotFound:
		return "not-found"
	case KindContract:
		return "contract"
	}
	return "unknown"
}

// DeviceError is the result carried back from every device-call wrapper.
type DeviceError struct {
	Kind ErrorKind
	// Op is the call that failed.
	Op   string
	File string
	Line int
	// Code is the backend result code, if any.
	Code string
	// Messages holds the validation messages queued since the last checkpoint.
	Messages []string
	Err      error
}

// NewDeviceError builds a DeviceError whose origin is the caller of this function.
func NewDeviceError(kind ErrorKind, op string, code string, err error, messages []string) *DeviceError {
	return newDeviceError(2, kind, op, code, err, messages)
}

func newDeviceError(skip int, kind ErrorKind, op string, code string, err error, messages []string) *DeviceError {
	e := &DeviceError{
		Kind:     kind,
		Op:       op,
		Code:     code,
		Err:      err,
		Messages: messages,
	}
	if _, file, line, ok := runtime.Caller(skip); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	return e
}

func (e *DeviceError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Kind, e.Op)
	if e.File != "" {
		fmt.Fprintf(&sb, " (%s:%d)", e.File, e.Line)
	}
	if e.Code != "" {
		fmt.Fprintf(&sb, " code=%s", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err)
	}
	for _, m := range e.Messages {
		fmt.Fprintf(&sb, "\n\t%s", m)
	}
	return sb.String()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is lets removed-device errors match ErrDeviceRemoved even when the backend
// reported a different cause.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrDeviceRemoved:
		return e.Kind == KindDeviceRemoved
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// IsFatal reports whether err must terminate the frame loop. Only named lookups
// are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind != KindNotFound
	}
	return true
}

// KindOf returns the kind of the first DeviceError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
