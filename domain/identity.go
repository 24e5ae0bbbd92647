// Package domain contains core concepts of the relay.
// Identities are durable references to user accounts; connection handles
// are ephemeral and live only between connect and disconnect.
package domain

// Identity is the durable unique reference to a user account,
// assigned by the identity verifier and immutable afterwards.
type Identity string

// ConnectionHandle identifies one live transport connection.
type ConnectionHandle string

func (i Identity) String() string         { return string(i) }
func (h ConnectionHandle) String() string { return string(h) }
