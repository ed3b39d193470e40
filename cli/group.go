package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"peerlink/discovery"
	"peerlink/group"
	"peerlink/models"
	"peerlink/network"
)

func newGroupCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "form or join a group on the local network",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "host",
		Short: "create a group, print its QR payload and wait for one member",
		Args:  cobra.NoArgs,
		RunE: runApp(flags, func(ctx context.Context, a *app, _ []string) error {
			m, closeAll, err := a.groupManager()
			if err != nil {
				return err
			}
			defer closeAll()
			a.serveFeed(ctx, flags)

			payload, err := m.CreateQRCode(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "QR payload:      %s\n", payload)
			return a.chat(ctx, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "join qr-payload",
		Short: "join the group described by a QR payload",
		Args:  cobra.ExactArgs(1),
		RunE: runApp(flags, func(ctx context.Context, a *app, args []string) error {
			m, closeAll, err := a.groupManager()
			if err != nil {
				return err
			}
			defer closeAll()
			a.serveFeed(ctx, flags)

			if err := m.ConnectUsingQR(ctx, args[0]); err != nil {
				return err
			}
			return a.chat(ctx, m)
		}),
	})

	var timeout time.Duration
	list := &cobra.Command{
		Use:   "list",
		Short: "list groups advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: runApp(flags, func(ctx context.Context, a *app, _ []string) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			groups, err := discovery.Browse(ctx, discovery.Config{BrowseTimeout: timeout}, nil)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintln(a.out, "no groups found")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(a.out, "%s\towner=%s\t%v:%d\n", g.Name, g.OwnerID, g.Addresses, g.Port)
			}
			return nil
		}),
	}
	list.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "how long to browse")
	cmd.AddCommand(list)
	return cmd
}

func (a *app) groupManager() (*group.Manager, func(), error) {
	lan, err := group.NewLAN(group.LANOptions{
		OwnerID: a.cfg.DeviceID,
		Port:    a.cfg.GroupPort,
		Logger:  a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	m, err := group.NewManager(group.Options{
		Provider:     lan,
		Capabilities: network.GrantAll{},
		Store:        a.store,
		Logger:       a.log,
		Port:         a.cfg.GroupPort,
		OnMessage:    a.onMessage,
	})
	if err != nil {
		_ = lan.Close()
		return nil, nil, err
	}
	stopWatching := a.watchStates(models.TransportGroup, m)
	return m, func() {
		_ = m.Close()
		stopWatching()
		_ = lan.Close()
	}, nil
}
