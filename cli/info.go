package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newInfoCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print this device's identity and storage paths",
		Args:  cobra.NoArgs,
		RunE: runApp(flags, func(_ context.Context, a *app, _ []string) error {
			fmt.Fprintf(a.out, "Device ID:       %s\n", a.cfg.DeviceID)
			fmt.Fprintf(a.out, "Device Name:     %s\n", a.cfg.DeviceName)
			fmt.Fprintf(a.out, "Group Port:      %d\n", a.cfg.GroupPort)
			fmt.Fprintf(a.out, "Radio Service:   %s (%s)\n", a.cfg.RadioServiceName, a.cfg.RadioServiceUUID)
			fmt.Fprintf(a.out, "Tag AID:         %s\n", a.cfg.TagAID)
			fmt.Fprintf(a.out, "Config File:     %s\n", a.cfgPath)
			fmt.Fprintf(a.out, "Data Directory:  %s\n", a.dataDir)
			fmt.Fprintf(a.out, "Database File:   %s\n", a.dbPath)
			return nil
		}),
	}
}
