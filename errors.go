package fanmon

import "errors"

// Bus errors
var (
	ErrBusNotFound = errors.New("bus: device not found")
	ErrBusTimeout  = errors.New("bus: timeout")
	ErrBusNack     = errors.New("bus: nack")
)

// Sensor errors
var (
	ErrNotInitialized = errors.New("sensor: not initialized")
	ErrReadFailed     = errors.New("sensor: read failed")
	ErrInvalidData    = errors.New("sensor: invalid data")
	ErrSensorTimeout  = errors.New("sensor: timeout")
)

// Network errors
var (
	ErrConnectionFailed = errors.New("network: connection failed")
	ErrRequestFailed    = errors.New("network: request failed")
	ErrNetworkTimeout   = errors.New("network: timeout")
)

// Config errors
var (
	ErrStoreOpen    = errors.New("config: store open failed")
	ErrInvalidValue = errors.New("config: invalid value")
)

var ErrNotImplemented = errors.New("not implemented")

func IsBusError(err error) bool {
	return isAny(err, ErrBusNotFound, ErrBusTimeout, ErrBusNack)
}

func IsSensorError(err error) bool {
	return isAny(err, ErrNotInitialized, ErrReadFailed, ErrInvalidData, ErrSensorTimeout)
}

func IsNetworkError(err error) bool {
	return isAny(err, ErrConnectionFailed, ErrRequestFailed, ErrNetworkTimeout)
}

func IsConfigError(err error) bool {
	return isAny(err, ErrStoreOpen, ErrInvalidValue)
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
