package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceBusy        = errors.New("capture device is busy")
	ErrDeviceUnavailable = errors.New("capture device is unavailable")
	ErrNoActiveCapture   = errors.New("no active capture")
	ErrNotFound          = errors.New("not found")
	ErrNoActiveSession   = errors.New("no active practice session")
	ErrActionNotAllowed  = errors.New("action not allowed in current phase")
	ErrSessionClosed     = errors.New("session is closed")
	ErrAlreadyCompleted  = errors.New("session already completed")
)

// DeviceErrorKind narrows a capture device failure.
type DeviceErrorKind string

const (
	DeviceBusy            DeviceErrorKind = "busy"
	DeviceUnavailable     DeviceErrorKind = "unavailable"
	DeviceNoActiveCapture DeviceErrorKind = "no_active_capture"
	DeviceStopFailed      DeviceErrorKind = "stop_failed"
	DevicePlaybackFailed  DeviceErrorKind = "playback_failed"
)

// DeviceError reports a capture or playback failure.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture device: %s", e.Kind)
	}
	return fmt.Sprintf("capture device: %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to the error kind.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrDeviceBusy:
		return e.Kind == DeviceBusy
	case ErrDeviceUnavailable:
		return e.Kind == DeviceUnavailable
	case ErrNoActiveCapture:
		return e.Kind == DeviceNoActiveCapture
	}
	return false
}

// ServiceError reports a failed advisory or scoring call.
type ServiceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("advisory service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ValidationReason explains why a recording was rejected.
type ValidationReason string

const (
	ValidationTooShort ValidationReason = "too_short"
	ValidationTooSmall ValidationReason = "too_small"
)

// ValidationError rejects a captured artifact. Message is user-visible.
type ValidationError struct {
	Reason  ValidationReason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// PersistenceError reports a failed write during completion.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError reports an activity that cannot be resolved.
type ConfigError struct {
	ActivityID string
	Detail     string
}

func (e *ConfigError) Error() string {
	if e.ActivityID == "" {
		return "invalid session config: " + e.Detail
	}
	return fmt.Sprintf("invalid session config for %q: %s", e.ActivityID, e.Detail)
}

// ErrorInfo is the serializable form of the last surfaced error.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Describe maps an error onto its user-facing category and message.
func Describe(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Code: ErrorCodeInternal, Message: "Something went wrong.", Detail: err.Error()}

	var (
		devErr     *DeviceError
		svcErr     *ServiceError
		valErr     *ValidationError
		persistErr *PersistenceError
		cfgErr     *ConfigError
	)
	switch {
	case errors.As(err, &valErr):
		info.Code = ErrorCodeValidation
		info.Message = valErr.Message
	case errors.As(err, &devErr):
		info.Code = ErrorCodeDevice
		switch devErr.Kind {
		case DeviceBusy:
			info.Message = "The microphone is in use by another session."
		case DeviceNoActiveCapture:
			info.Message = "Nothing is being recorded."
		case DevicePlaybackFailed:
			info.Code = ErrorCodePlayback
			info.Message = "Playback failed."
		default:
			info.Message = "The microphone is unavailable. Check the input device and try again."
		}
	case errors.As(err, &svcErr):
		info.Code = ErrorCodeAdvisory
		info.Message = "The practice partner did not respond. The round was kept without a reply."
	case errors.As(err, &persistErr):
		info.Code = ErrorCodePersistence
		info.Message = "Saving the session failed. Retry to save your results."
	case errors.As(err, &cfgErr):
		info.Code = ErrorCodeConfig
		info.Message = "This activity could not be loaded."
	case errors.Is(err, ErrActionNotAllowed):
		info.Message = "That action is not available right now."
	}
	return info
}
