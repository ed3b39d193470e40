package tag

import (
	"context"
	"sync"

	"peerlink/network"
)

// DeactivationReason tells the host why the reader went away.
type DeactivationReason int

const (
	DeactivatedLinkLoss DeactivationReason = iota
	DeactivatedDeselected
)

func (r DeactivationReason) String() string {
	switch r {
	case DeactivatedLinkLoss:
		return "link_loss"
	case DeactivatedDeselected:
		return "deselected"
	default:
		return "unknown"
	}
}

// Tag is one card in range of the reader.
type Tag interface {
	// ID is the anti-collision identifier of the card.
	ID() []byte
	Connect(ctx context.Context) error
	Transceive(ctx context.Context, command []byte) ([]byte, error)
	Close() error
}

// ReaderProvider polls for cards.
type ReaderProvider interface {
	// Availability is On when the controller is present and enabled.
	Availability() network.Availability
	// EnableReader starts polling and calls onTag for each card that enters
	// the field until disable is called.
	EnableReader(onTag func(Tag)) (disable func(), err error)
}

// APDUHandler answers commands while this device emulates a card.
type APDUHandler interface {
	ProcessCommand(command []byte) []byte
	Deactivated(reason DeactivationReason)
}

// HostProvider routes commands for an application ID to a handler.
type HostProvider interface {
	// Availability is On when card emulation can be offered.
	Availability() network.Availability
	Register(aid string, handler APDUHandler) (unregister func(), err error)
}

func tagPermissions() []network.Permission {
	return []network.Permission{network.PermissionTag}
}

// acquireTag enables the reader until the first card arrives. Any other card
// delivered meanwhile, or a card that loses the race with ctx, is closed.
func acquireTag(ctx context.Context, reader ReaderProvider) (Tag, error) {
	var (
		mu    sync.Mutex
		taken bool
		held  Tag
	)
	card, err := network.Await(ctx, func(resolve func(Tag)) (func(), error) {
		return reader.EnableReader(func(next Tag) {
			mu.Lock()
			if taken {
				mu.Unlock()
				_ = next.Close()
				return
			}
			taken, held = true, next
			mu.Unlock()
			resolve(next)
		})
	})
	if err != nil {
		mu.Lock()
		lost := held
		held = nil
		mu.Unlock()
		if lost != nil {
			_ = lost.Close()
		}
		return nil, err
	}
	return card, nil
}
