package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"peerlink/models"
)

func newHistoryCommand(flags *rootFlags) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history transport [peer]",
		Short: "list peers of a transport, or the stored conversation with one peer",
		Long:  `history prints the stored conversation with a peer. Without a peer it lists every peer the transport has messages for. Transports are bt, wifi, nfc and sms.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: runApp(flags, func(_ context.Context, a *app, args []string) error {
			transport, err := parseTransport(args[0])
			if err != nil {
				return err
			}

			if len(args) == 1 {
				peers, err := a.store.GetPeers(transport)
				if err != nil {
					return err
				}
				for _, peer := range peers {
					fmt.Fprintln(a.out, peer)
				}
				return nil
			}

			messages, err := a.store.GetMessages(transport, args[1], limit, offset)
			if err != nil {
				return err
			}
			for _, message := range messages {
				direction := "<"
				if message.FromMe {
					direction = ">"
				}
				stamp := time.UnixMilli(message.CreatedAt).Format(time.DateTime)
				fmt.Fprintf(a.out, "%s %s %s [%s]\n", stamp, direction, message.Body, message.Status)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum messages to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "messages to skip")
	return cmd
}

func parseTransport(value string) (models.Transport, error) {
	switch transport := models.Transport(value); transport {
	case models.TransportRadio, models.TransportGroup, models.TransportTag, models.TransportSMS:
		return transport, nil
	default:
		return "", errors.New("transport must be one of bt, wifi, nfc, sms")
	}
}
