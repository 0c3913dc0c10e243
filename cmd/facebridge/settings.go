package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/facebridge-ai/facebridge/internal/config/store"
)

var settableKeys = []string{
	store.KeyHost,
	store.KeyPort,
	store.KeyPluginName,
	store.KeyPluginDeveloper,
	store.KeyTrackerAddr,
	store.KeySendInterval,
	store.KeyCurve,
}

func newSettingsCommand() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:           "settings",
		Short:         "Show or change persisted bridge settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listSettings,
	}

	setCmd := &cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Persist one setting",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          setSetting,
	}

	settingsCmd.AddCommand(setCmd)
	return settingsCmd
}

func listSettings(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.LoadSettings(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, key := range settableKeys {
		value, ok := stored[key]
		if !ok {
			value = "(default)"
		}
		fmt.Fprintf(w, "%s\t%s\n", key, value)
	}
	return w.Flush()
}

func setSetting(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	known := false
	for _, k := range settableKeys {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown setting %q", key)
	}

	st, err := store.Open(store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveSettings(cmd.Context(), map[string]string{key: value}); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", key, value)
	return nil
}
