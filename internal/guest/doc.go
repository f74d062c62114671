// Package guest owns the guest book record shapes shared by the wire
// protocol and every store backend.
//
// Ownership boundary:
// - guest record identity and field validation
// - visit log and comment entry facts
// - timestamp layout used on the wire and in storage
package guest
