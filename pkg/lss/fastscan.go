package lss

import "time"

// FastscanMode selects how one address field is determined.
type FastscanMode uint8

const (
	// FastscanScan finds the field by bitwise search.
	FastscanScan FastscanMode = iota
	// FastscanSkip leaves the field out. The vendor field cannot be skipped.
	FastscanSkip
	// FastscanMatch checks the value given in FastscanParams.Match.
	FastscanMatch
)

// FastscanParams configures one fastscan run and receives its result.
type FastscanParams struct {
	// Modes holds the mode per field: vendor, product, revision, serial.
	Modes [4]FastscanMode

	// Match holds the values used by FastscanMatch fields.
	Match Address

	// Found is the address of the slave left selected. Skipped fields are 0.
	Found Address
}

// ScanAll returns parameters that search every field.
func ScanAll() *FastscanParams {
	return &FastscanParams{}
}

type fastscanPhase uint8

const (
	phaseConfirm fastscanPhase = iota
	phaseScanBit
	phaseVerify
)

type fastscanProgress struct {
	phase fastscanPhase
	field uint8
	bit   uint8
	id    uint32
	found Address
}

func validFastscan(p *FastscanParams) bool {
	if p == nil || p.Modes[FastscanVendor] == FastscanSkip {
		return false
	}
	scanned := false
	for i, mode := range p.Modes {
		if mode > FastscanMatch {
			return false
		}
		if i > int(FastscanVendor) && mode != FastscanSkip {
			scanned = true
		}
	}
	// The slave only completes when the last field points back to a
	// lower one, so at least one field after vendor is required.
	return scanned
}

// IdentifyFastscan searches for one unconfigured slave. On ResultOK the
// slave is in configuration state, params.Found holds its address and the
// master is selected. ResultFastscanAllConfigured means no slave took part.
func (m *Master) IdentifyFastscan(elapsed time.Duration, params *FastscanParams) Result {
	if r, ok := m.check(opFastscan); !ok {
		return r
	}

	if m.op == opNone {
		if !validFastscan(params) {
			return ResultIllegalArgument
		}
		if m.selected {
			return ResultInvalidState
		}
		m.op = opFastscan
		m.scan = fastscanProgress{phase: phaseConfirm}
		m.logger.Debug("fastscan started")
		return m.fastscanSend(fastscanFrame(0, FastscanConfirm, FastscanVendor, FastscanVendor))
	}

	_, res := m.poll(elapsed)
	if res == ResultWait {
		return ResultWait
	}
	acked := res == ResultOK

	switch m.scan.phase {
	case phaseConfirm:
		if !acked {
			m.logger.Debug("fastscan found no unconfigured slave")
			return m.finish(ResultFastscanAllConfigured)
		}
		return m.fastscanField(params, FastscanVendor)

	case phaseScanBit:
		if !acked {
			// Nobody has a 0 here, so every remaining slave has a 1.
			m.scan.id |= 1 << m.scan.bit
		}
		if m.scan.bit == 0 {
			return m.fastscanVerify(params)
		}
		m.scan.bit--
		return m.fastscanTestBit()

	default:
		if !acked {
			m.logger.Debug("fastscan field not confirmed", "field", m.scan.field, "value", m.scan.id)
			return m.finish(ResultFastscanNoMatch)
		}
		m.scan.found.SetField(m.scan.field, m.scan.id)
		next, ok := nextFastscanField(params, m.scan.field)
		if !ok {
			params.Found = m.scan.found
			m.selected = true
			m.logger.Info("fastscan selected slave", "address", params.Found)
			return m.finish(ResultOK)
		}
		return m.fastscanField(params, next)
	}
}

func nextFastscanField(p *FastscanParams, field uint8) (uint8, bool) {
	for i := field + 1; i <= FastscanSerial; i++ {
		if p.Modes[i] != FastscanSkip {
			return i, true
		}
	}
	return 0, false
}

func (m *Master) fastscanField(p *FastscanParams, field uint8) Result {
	m.scan.field = field
	if p.Modes[field] == FastscanMatch {
		m.scan.id = p.Match.Field(field)
		return m.fastscanVerify(p)
	}
	m.scan.id = 0
	m.scan.bit = 31
	return m.fastscanTestBit()
}

// fastscanTestBit asks whether any slave has a 0 at the bit under test,
// given the higher bits found so far.
func (m *Master) fastscanTestBit() Result {
	m.scan.phase = phaseScanBit
	f := m.scan.field
	return m.fastscanSend(fastscanFrame(m.scan.id, m.scan.bit, f, f))
}

// fastscanVerify confirms the complete field and moves matching slaves on
// to the next field. After the last field lssNext wraps to vendor, which
// makes the remaining slave enter configuration state.
func (m *Master) fastscanVerify(p *FastscanParams) Result {
	m.scan.phase = phaseVerify
	next, ok := nextFastscanField(p, m.scan.field)
	if !ok {
		next = FastscanVendor
	}
	return m.fastscanSend(fastscanFrame(m.scan.id, 0, m.scan.field, next))
}

func (m *Master) fastscanSend(f frame) Result {
	if !m.request(f, CmdIdentifySlave, m.fastscanTimeout) {
		return m.finish(ResultTimeout)
	}
	return ResultWait
}
