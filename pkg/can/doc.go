// Package can provides the CAN frame type, the bus interface the protocol
// stack consumes, and an in-memory bus for tests and simulation.
//
// Bus has the shape of the Bus interface in github.com/samsamfire/gocanopen:
// Send puts a frame on the wire and Subscribe registers a handler for
// received frames whose identifier matches id under mask. Here Subscribe
// also returns a function that removes the handler, so an LSS master or
// slave can detach from the bus when it is closed. Frame.Validate checks
// the classical CAN limits the way github.com/notnil/canbus does: an 11-bit
// identifier and at most 8 data bytes.
//
// VirtualBus connects any number of ports in one process. Ports only
// exchange frames while they run at the same bit rate, which lets the
// simulator reproduce a bit rate switch.
package can
