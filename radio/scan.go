package radio

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"peerlink/network"
)

// scan runs one discovery pass. The returned stream is seeded with bonded
// peers, grows with every peer the provider reports and completes with
// network.ErrScanComplete when the provider reports the run finished.
func scan(ctx context.Context, provider Provider, log *zap.Logger, onRelease func(*network.PeerStream)) (*network.PeerStream, error) {
	// A scan already in progress would swallow our finish event.
	_ = provider.CancelDiscovery()

	stream := network.NewPeerStream(ctx)
	unsubscribe := provider.Subscribe(func(event Event) {
		switch event.Kind {
		case EventPeerFound:
			stream.Observe(event.Peer)
		case EventDiscoveryFinished:
			stream.Finish(network.ErrScanComplete)
		}
	})
	stream.Bind(func() {
		_ = provider.CancelDiscovery()
		unsubscribe()
		if onRelease != nil {
			onRelease(stream)
		}
	})

	if err := provider.StartDiscovery(); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("%w: start discovery: %v", network.ErrProviderUnavailable, err)
	}

	bonded, err := provider.BondedPeers()
	if err != nil {
		log.Warn("list bonded peers", zap.Error(err))
	}
	stream.Observe(bonded...)

	return stream, nil
}
