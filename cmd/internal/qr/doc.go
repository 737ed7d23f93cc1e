// Package qr implements the QR session lifecycle and the scan submission
// protocol: issuing tokens bound to a display, validating and consuming them
// exactly once, and expiring stale sessions.
//
// Persistence lives behind Store; broadcasting lives behind Publisher. The
// package owns the state machine (active -> used | expired) and its
// invariants, not the storage engine or the transport.
package qr
