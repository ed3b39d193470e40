package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"peerlink/models"
	"peerlink/network"
	"peerlink/radio"
)

func newRadioCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "radio",
		Short: "scan, host or connect over the radio link",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "list bonded and nearby devices until the scan completes",
		Args:  cobra.NoArgs,
		RunE: runApp(flags, func(ctx context.Context, a *app, _ []string) error {
			m, closeAll, err := a.radioManager()
			if err != nil {
				return err
			}
			defer closeAll()

			scan, err := m.Discover(ctx)
			if err != nil {
				return err
			}
			defer scan.Stop()

			var last []models.Peer
			for snapshot := range scan.Updates() {
				for _, peer := range snapshot[len(last):] {
					fmt.Fprintf(a.out, "%s\t%s\n", peer.ID, peer.Name)
				}
				last = snapshot
			}
			if err := scan.Err(); err != nil && !errors.Is(err, network.ErrScanComplete) && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(a.out, "%d device(s)\n", len(last))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "accept one inbound radio connection and chat over it",
		Args:  cobra.NoArgs,
		RunE: runApp(flags, func(ctx context.Context, a *app, _ []string) error {
			m, closeAll, err := a.radioManager()
			if err != nil {
				return err
			}
			defer closeAll()
			a.serveFeed(ctx, flags)

			if m.IsDiscoverable() {
				fmt.Fprintln(a.out, "Discoverable:    yes")
			}
			if err := m.Listen(ctx); err != nil {
				return err
			}
			return a.chat(ctx, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "connect device-address",
		Short: "pair with a device and chat over the radio link",
		Args:  cobra.ExactArgs(1),
		RunE: runApp(flags, func(ctx context.Context, a *app, args []string) error {
			m, closeAll, err := a.radioManager()
			if err != nil {
				return err
			}
			defer closeAll()
			a.serveFeed(ctx, flags)

			if err := m.Connect(ctx, args[0]); err != nil {
				return err
			}
			return a.chat(ctx, m)
		}),
	})
	return cmd
}

func (a *app) radioManager() (*radio.Manager, func(), error) {
	provider, err := radio.NewBlueZ(a.log)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if closer, ok := provider.(io.Closer); ok {
			_ = closer.Close()
		}
	}

	m, err := radio.NewManager(radio.Options{
		Provider:     provider,
		Capabilities: network.GrantAll{},
		Store:        a.store,
		Logger:       a.log,
		ServiceName:  a.cfg.RadioServiceName,
		ServiceUUIDs: []string{a.cfg.RadioServiceUUID},
		OnMessage:    a.onMessage,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	stopWatching := a.watchStates(models.TransportRadio, m)
	return m, func() {
		_ = m.Close()
		stopWatching()
		release()
	}, nil
}
