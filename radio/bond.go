package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerlink/network"
)

// DefaultBondTimeout bounds one pairing attempt.
const DefaultBondTimeout = 60 * time.Second

// bond pairs with peerID. It reports true when the peer ends up bonded and
// false when the provider settles on any other state.
func bond(ctx context.Context, provider Provider, peerID string, timeout time.Duration) (bool, error) {
	if provider.BondState(peerID) == BondBonded {
		return true, nil
	}
	if timeout <= 0 {
		timeout = DefaultBondTimeout
	}

	bondCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bonded, err := network.Await(bondCtx, func(resolve func(bool)) (func(), error) {
		unsubscribe := provider.Subscribe(func(event Event) {
			if event.Kind != EventBondState || event.Peer.ID != peerID || event.Bond == BondBonding {
				return
			}
			resolve(event.Bond == BondBonded)
		})
		if err := provider.CreateBond(peerID); err != nil {
			return unsubscribe, fmt.Errorf("%w: create bond: %v", network.ErrHandshakeFailed, err)
		}
		return unsubscribe, nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, fmt.Errorf("%w: bond with %s timed out", network.ErrHandshakeFailed, peerID)
		}
		return false, err
	}
	return bonded, nil
}
