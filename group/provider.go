package group

import (
	"peerlink/models"
	"peerlink/network"
)

// Info describes the group this device currently belongs to.
type Info struct {
	NetworkName string
	IsOwner     bool
	Clients     []models.Peer
}

// Event is one connection-change broadcast. Formed is false once the group
// is gone. Info may be nil when the platform omits it; the manager then asks
// the provider for it. OwnerAddress is the owner's reachable host and is set
// for non-owners.
type Event struct {
	Formed       bool
	Info         *Info
	OwnerAddress string
}

// Provider is the platform group stack. Every request reports its outcome
// exactly once through done, from any goroutine.
//
// Subscribe handlers must be invoked without provider locks held.
type Provider interface {
	Availability() network.Availability
	Subscribe(handler func(Event)) (unsubscribe func())

	CreateGroup(credential Credential, done func(error))
	Connect(credential Credential, done func(error))
	RemoveGroup(done func(error))
	RequestGroupInfo(done func(*Info))
}

// modernPermissionLevel is the first platform level that gates group
// operations on the nearby-devices grant instead of location.
const modernPermissionLevel = 33

func groupPermissions(level int) []network.Permission {
	if level >= modernPermissionLevel {
		return []network.Permission{network.PermissionNearbyDevices}
	}
	return []network.Permission{network.PermissionFineLocation}
}
