// Package radio implements the RFCOMM-style transport: discovery, bonding
// and a single duplex socket stream per manager.
package radio

import (
	"context"
	"io"

	"peerlink/models"
	"peerlink/network"
)

// EventKind identifies a provider broadcast.
type EventKind string

const (
	// EventPeerFound reports one peer seen during discovery.
	EventPeerFound EventKind = "peer_found"
	// EventDiscoveryFinished reports the end of a discovery run.
	EventDiscoveryFinished EventKind = "discovery_finished"
	// EventBondState reports a bond state change for Peer.
	EventBondState EventKind = "bond_state"
	// EventLinkDisconnected reports that the low-level link to Peer dropped.
	EventLinkDisconnected EventKind = "link_disconnected"
)

// BondState is the pairing state of one peer.
type BondState string

const (
	BondNone    BondState = "NONE"
	BondBonding BondState = "BONDING"
	BondBonded  BondState = "BONDED"
)

// Event is one provider broadcast. Bond is set for EventBondState.
type Event struct {
	Kind EventKind
	Peer models.Peer
	Bond BondState
}

// Provider is the platform radio stack.
//
// Subscribe handlers may be invoked from any goroutine. Providers must not
// hold internal locks while invoking them, so a handler may unsubscribe.
type Provider interface {
	// Availability reports whether the adapter exists and is powered.
	Availability() network.Availability
	Discoverable() bool

	Subscribe(handler func(Event)) (unsubscribe func())
	StartDiscovery() error
	CancelDiscovery() error

	BondedPeers() ([]models.Peer, error)
	BondState(peerID string) BondState
	// CreateBond starts pairing. The outcome arrives as EventBondState.
	CreateBond(peerID string) error

	// Listen registers a service record and returns a listener for it.
	Listen(ctx context.Context, serviceName, serviceUUID string) (network.Listener, error)
	// Dial opens a stream to the service on peerID.
	Dial(ctx context.Context, peerID, serviceUUID string) (io.ReadWriteCloser, error)
}

// modernPermissionLevel is the first platform level with split radio grants.
const modernPermissionLevel = 31

func scanPermissions(level int) []network.Permission {
	if level >= modernPermissionLevel {
		return []network.Permission{network.PermissionRadioScan, network.PermissionRadioConnect}
	}
	return []network.Permission{network.PermissionRadioLegacy}
}

func connectPermissions(level int) []network.Permission {
	if level >= modernPermissionLevel {
		return []network.Permission{network.PermissionRadioConnect}
	}
	return []network.Permission{network.PermissionRadioLegacy}
}
