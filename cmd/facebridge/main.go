package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facebridge-ai/facebridge/internal/config"
	"github.com/facebridge-ai/facebridge/internal/config/store"
	"github.com/facebridge-ai/facebridge/internal/version"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "facebridge",
		Short:         "Bridge face-tracking data into VTube Studio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.AddCommand(
		newRunCommand(),
		newAuthCommand(),
		newDiscoverCommand(),
		newStatusCommand(),
		newSettingsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings opens the settings store, resolves the bridge settings and
// applies any command-line overrides.
func loadSettings(cmd *cobra.Command) (store.BridgeSettings, error) {
	st, err := store.Open(store.Options{})
	if err != nil {
		return store.BridgeSettings{}, err
	}
	defer st.Close()

	settings, err := st.LoadBridgeSettings(cmd.Context())
	if err != nil {
		return store.BridgeSettings{}, err
	}

	if cmd.Flags().Changed("host") {
		settings.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		settings.Port, _ = cmd.Flags().GetInt("port")
	}
	return settings, nil
}

// addEndpointFlags registers the flags shared by commands that talk to
// the host.
func addEndpointFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "VTube Studio host (overrides stored setting)")
	cmd.Flags().Int("port", 0, "VTube Studio API port (overrides stored setting)")
}

// newClient builds a protocol client from resolved settings.
func newClient(settings store.BridgeSettings) *vts.Client {
	paths := config.GetPaths()
	return vts.New(vts.Config{
		Host:            settings.Host,
		Port:            settings.Port,
		PluginName:      settings.PluginName,
		PluginDeveloper: settings.PluginDeveloper,
		TokenPath:       paths.TokenFile,
	})
}

// connectClient dials the host, optionally resolving the port via the UDP
// state broadcast first.
func connectClient(ctx context.Context, settings store.BridgeSettings, discover bool) (*vts.Client, error) {
	if discover {
		probe := newClient(settings)
		port, err := probe.DiscoverPort(ctx)
		if err != nil {
			return nil, err
		}
		settings.Port = port
	}

	client := newClient(settings)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
