package lss

import "errors"

// Result is the outcome of a master step function.
type Result uint8

// Master results.
const (
	// ResultWait means the operation is still waiting for a reply.
	ResultWait Result = iota
	// ResultOK means the operation completed successfully.
	ResultOK
	// ResultOKWithSlaveObjection means the slave answered but rejected the value.
	ResultOKWithSlaveObjection
	// ResultTimeout means no reply arrived in time.
	ResultTimeout
	// ResultIllegalArgument means the request parameters were invalid.
	ResultIllegalArgument
	// ResultInvalidState means another operation is in progress or no
	// slave is selected.
	ResultInvalidState
	// ResultFastscanNoMatch means fastscan could not confirm a field.
	ResultFastscanNoMatch
	// ResultFastscanAllConfigured means no unconfigured slave answered.
	ResultFastscanAllConfigured
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultWait:
		return "WAIT"
	case ResultOK:
		return "OK"
	case ResultOKWithSlaveObjection:
		return "OK_WITH_SLAVE_OBJECTION"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultIllegalArgument:
		return "ILLEGAL_ARGUMENT"
	case ResultInvalidState:
		return "INVALID_STATE"
	case ResultFastscanNoMatch:
		return "FASTSCAN_NO_MATCH"
	case ResultFastscanAllConfigured:
		return "FASTSCAN_ALL_CONFIGURED"
	default:
		return "UNKNOWN"
	}
}

// Done reports whether r is terminal.
func (r Result) Done() bool {
	return r != ResultWait
}

// LSS errors.
var (
	ErrIllegalArgument = errors.New("lss: illegal argument")
	ErrNilBus          = errors.New("lss: nil bus")
)
