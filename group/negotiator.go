package group

import (
	"context"
	"fmt"

	"peerlink/network"
)

// awaitRequest bridges one callback-style provider request.
func awaitRequest(ctx context.Context, request func(done func(error))) error {
	result, err := network.Await(ctx, func(resolve func(error)) (func(), error) {
		request(resolve)
		return nil, nil
	})
	if err != nil {
		return err
	}
	return result
}

func removeGroup(ctx context.Context, provider Provider) error {
	if err := awaitRequest(ctx, provider.RemoveGroup); err != nil {
		return fmt.Errorf("remove group: %w", err)
	}
	return nil
}

func createGroup(ctx context.Context, provider Provider, credential Credential) error {
	err := awaitRequest(ctx, func(done func(error)) {
		provider.CreateGroup(credential, done)
	})
	if err != nil {
		return fmt.Errorf("%w: create group %s: %v", network.ErrHandshakeFailed, credential.NetworkName, err)
	}
	return nil
}

func joinGroup(ctx context.Context, provider Provider, credential Credential) error {
	err := awaitRequest(ctx, func(done func(error)) {
		provider.Connect(credential, done)
	})
	if err != nil {
		return fmt.Errorf("%w: join group %s: %v", network.ErrHandshakeFailed, credential.NetworkName, err)
	}
	return nil
}

func requestGroupInfo(ctx context.Context, provider Provider) (*Info, error) {
	return network.Await(ctx, func(resolve func(*Info)) (func(), error) {
		provider.RequestGroupInfo(resolve)
		return nil, nil
	})
}
