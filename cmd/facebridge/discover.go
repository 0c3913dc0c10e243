package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facebridge-ai/facebridge/internal/config"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

func newDiscoverCommand() *cobra.Command {
	discoverCmd := &cobra.Command{
		Use:           "discover",
		Short:         "Resolve the VTube Studio API port from its UDP state broadcast",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDiscover,
	}
	addEndpointFlags(discoverCmd)
	discoverCmd.Flags().Duration("wait", 0, "How long to listen for the broadcast before falling back")
	return discoverCmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	wait, _ := cmd.Flags().GetDuration("wait")
	client := vts.New(vts.Config{
		Host:            settings.Host,
		Port:            settings.Port,
		PluginName:      settings.PluginName,
		PluginDeveloper: settings.PluginDeveloper,
		TokenPath:       config.GetPaths().TokenFile,
		DiscoveryWait:   wait,
	})

	port, err := client.DiscoverPort(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", port)
	return nil
}
