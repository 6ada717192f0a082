// Package log provides structured protocol logging for the CANopen stack.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (bus, LSS, storage, node).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/canopen/node.clog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Bus: Raw CAN frames (FrameEvent)
//   - LSS / Node: State changes (StateChangeEvent)
//   - Storage: Region load/save/restore/erase (StorageEvent)
//
// Errors have a dedicated event type.
//
// # File Format
//
// Captures are appended CBOR maps in a .clog file. Frames must fit
// classical CAN (11-bit identifier, at most 8 data bytes). Reader filters
// on LSS terms such as command specifier and node id. The lss-log CLI
// reads captures back.
package log
