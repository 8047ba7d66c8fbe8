package shared

import "errors"

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key configured")
	ErrAuthentication        = errors.New("service credential missing or rejected")
	ErrConnection            = errors.New("live transport failed")
	ErrPermissionDenied      = errors.New("camera/microphone access denied")
	ErrDeviceUnavailable     = errors.New("no capture device available")
	ErrEncoding              = errors.New("chunk encoding failed")
	ErrNoActiveStream        = errors.New("no active capture stream")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionClosed         = errors.New("session is closed")
	ErrRecorderBusy          = errors.New("a clip is already recording")
)
