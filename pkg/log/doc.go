package log

// Package log provides a small wrapper around Go's standard library logging
// facilities used by every component of the SDK.
//
// Key Features
//
//   - Per component loggers via ForComponent(name)
//   - Automatic prefix in every line: `[name>]` (example: `[command>] started`)
//   - Convenience level helpers: Infof, Warnf, Errorf, Debugf
//   - Debug logging can be enabled globally (SetGlobalDebug) or per component
//     (EnableDebugFor / DisableDebugFor)
//   - Central output writer (SetOutput) that updates existing loggers
//
// Non-Goals
//
//   - Structured / JSON logging
//   - Log sampling, rotation, or asynchronous buffering
//
// Basic Usage
//
//	l := log.ForComponent("command")
//	l.Infof("manager started")
//	l.Debugf("queue length: %d", n) // only prints if debug enabled
//
// Thread Safety
//
// All exported functions are safe for concurrent use. Internally the package
// relies on sync.Map and atomic primitives for minimal locking.
//
// Testing
//
// Tests can redirect output by calling SetOutput with a bytes.Buffer,
// enabling assertions on log contents.
