package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/facebridge-ai/facebridge/internal/config"
	"github.com/facebridge-ai/facebridge/internal/config/store"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

func newStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show bridge configuration and probe VTube Studio availability",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}
	addEndpointFlags(statusCmd)
	statusCmd.Flags().Bool("probe", true, "Connect to the host and query its API state")
	return statusCmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	_, hasToken, err := vts.NewTokenStore(paths.TokenFile).Load()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Host:\t%s:%d\n", settings.Host, settings.Port)
	fmt.Fprintf(w, "Plugin:\t%s (%s)\n", settings.PluginName, settings.PluginDeveloper)
	fmt.Fprintf(w, "Tracker:\t%s\n", settings.TrackerAddr)
	fmt.Fprintf(w, "Interval:\t%s\n", settings.SendInterval)
	fmt.Fprintf(w, "Token:\t%v\n", hasToken)

	if probe, _ := cmd.Flags().GetBool("probe"); probe {
		fmt.Fprintf(w, "Available:\t%s\n", probeHost(cmd.Context(), settings))
	}
	return w.Flush()
}

// probeHost opens a short-lived connection and asks the host for its API
// state. Failures are reported inline rather than failing the command.
func probeHost(parent context.Context, settings store.BridgeSettings) string {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	client, err := connectClient(ctx, settings, false)
	if err != nil {
		return fmt.Sprintf("no (%v)", err)
	}
	defer client.Close(ctx, "status probe complete")

	state, err := client.CheckState(ctx)
	if err != nil {
		return fmt.Sprintf("no (%v)", err)
	}
	if !state.Active {
		return "api inactive"
	}
	return fmt.Sprintf("yes (VTube Studio %s)", state.Version)
}
