package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/facebridge-ai/facebridge/internal/config"
	"github.com/facebridge-ai/facebridge/internal/vts"
)

func newAuthCommand() *cobra.Command {
	authCmd := &cobra.Command{
		Use:           "auth",
		Short:         "Manage the VTube Studio authentication token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAuth,
	}
	addEndpointFlags(authCmd)
	authCmd.Flags().Bool("request", false, "Request a fresh token from VTube Studio and persist it")
	authCmd.Flags().String("token", "", "Persist the given token without contacting the host")
	authCmd.Flags().Bool("prompt", false, "Read a token from the terminal without echo and persist it")
	authCmd.Flags().Bool("clear", false, "Remove the persisted token")
	authCmd.Flags().Bool("show", false, "Report whether a token is persisted")
	return authCmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	tokens := vts.NewTokenStore(paths.TokenFile)

	if show, _ := cmd.Flags().GetBool("show"); show {
		_, ok, err := tokens.Load()
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Token persisted at %s\n", paths.TokenFile)
		} else {
			fmt.Println("No token persisted")
		}
		return nil
	}

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		if err := tokens.Clear(); err != nil {
			return err
		}
		fmt.Println("Token cleared")
		return nil
	}

	if token, _ := cmd.Flags().GetString("token"); token != "" {
		if err := tokens.Save(token); err != nil {
			return err
		}
		fmt.Println("Token saved")
		return nil
	}

	if prompt, _ := cmd.Flags().GetBool("prompt"); prompt {
		if !terminal.IsTerminal(0) {
			return errors.New("--prompt requires an interactive terminal")
		}
		fmt.Print("Token: ")
		raw, err := terminal.ReadPassword(0)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			return errors.New("empty token")
		}
		if err := tokens.Save(token); err != nil {
			return err
		}
		fmt.Println("Token saved")
		return nil
	}

	if request, _ := cmd.Flags().GetBool("request"); request {
		return requestToken(cmd)
	}

	return cmd.Help()
}

// requestToken connects, asks the host to mint a token (the host prompts
// its operator to allow the plugin) and persists the result.
func requestToken(cmd *cobra.Command) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	client, err := connectClient(ctx, settings, true)
	if err != nil {
		return err
	}
	defer client.Close(ctx, "token request complete")

	fmt.Println("Requesting token; allow the plugin in the VTube Studio popup...")
	token, err := client.RequestToken(ctx)
	if err != nil {
		return err
	}
	if err := client.SaveToken(token); err != nil {
		return err
	}

	authenticated, err := client.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if !authenticated {
		return errors.New("host rejected the freshly minted token")
	}
	fmt.Println("Token saved and verified")
	return nil
}
