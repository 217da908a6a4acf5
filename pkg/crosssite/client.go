// Package crosssite adapts the templated cross-site transport
// controller (the domain's configured flow-control endpoint) behind a
// two-operation interface, so pkg/egress never depends on the
// controller's REST shape directly. The controller itself is an
// external collaborator; the step-by-step processor manipulation
// below is this one adapter's implementation detail, grounded on the
// original node's NiFi-based transfer routine.
package crosssite

import "context"

// Client moves a zipped artifact set to a named remote input port on
// a remote node, then tears down whatever ephemeral flow state it
// created to do so.
type Client interface {
	// SendFile instantiates a transfer flow, points it at zipPath, and
	// blocks until the remote process group reports at least one flow
	// file sent (or ctx or the client's poll timeout expires).
	SendFile(ctx context.Context, targetURI, targetRemoteInputPort, zipPath string) error

	// Cleanup removes any ephemeral flow / remote-group instance left
	// behind by the most recent SendFile, whether or not it succeeded.
	Cleanup(ctx context.Context) error
}
