// Package protocol owns the guest book envelope contract.
//
// Ownership boundary:
// - request and response kinds and their per-kind payload contracts
// - envelope construction and shape validation
// - protocol and transport error taxonomy
//
// Byte-level framing lives in frame, tlv and wire.
package protocol
