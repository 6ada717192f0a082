package lss

import "time"

// BitRateValidator decides whether the device can run at a bit rate.
type BitRateValidator interface {
	BitRateSupported(kbit uint16) bool
}

// BitRateActivator is told to switch to the pending bit rate. The host must
// keep the device silent for switchDelay before and after the switch.
type BitRateActivator interface {
	ActivateBitRate(switchDelay time.Duration)
}

// ConfigStorer persists the pending node id and bit rate.
type ConfigStorer interface {
	StoreConfig(nodeID uint8, kbit uint16) error
}

// Capabilities groups the optional slave capabilities. A nil field means
// the device does not support the feature.
type Capabilities struct {
	Validator BitRateValidator
	Activator BitRateActivator
	Storer    ConfigStorer
}

// BitRateValidatorFunc adapts a function to BitRateValidator.
type BitRateValidatorFunc func(kbit uint16) bool

// BitRateSupported calls fn(kbit).
func (fn BitRateValidatorFunc) BitRateSupported(kbit uint16) bool { return fn(kbit) }

// BitRateActivatorFunc adapts a function to BitRateActivator.
type BitRateActivatorFunc func(switchDelay time.Duration)

// ActivateBitRate calls fn(switchDelay).
func (fn BitRateActivatorFunc) ActivateBitRate(switchDelay time.Duration) { fn(switchDelay) }

// ConfigStorerFunc adapts a function to ConfigStorer.
type ConfigStorerFunc func(nodeID uint8, kbit uint16) error

// StoreConfig calls fn(nodeID, kbit).
func (fn ConfigStorerFunc) StoreConfig(nodeID uint8, kbit uint16) error { return fn(nodeID, kbit) }
