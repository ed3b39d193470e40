package network

import "context"

// Manager is the surface every transport exposes to the application.
type Manager interface {
	// Availability reports hardware and grant status.
	Availability() Availability
	// Listen prepares to accept one inbound peer.
	Listen(ctx context.Context) error
	// Discover starts a peer scan.
	Discover(ctx context.Context) (Discovery, error)
	// Connect pairs with and opens a session to peerID.
	Connect(ctx context.Context, peerID string) error
	// Send delivers one text message to the connected peer.
	Send(ctx context.Context, text string) error
	// States subscribes to connection state changes.
	States() (<-chan ConnectionState, func())
	// Close releases every resource. It is idempotent.
	Close() error
}
