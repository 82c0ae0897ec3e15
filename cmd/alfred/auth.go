package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/mail-alfred/internal/cli"
	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/config"
	"github.com/Veraticus/mail-alfred/internal/credential"
	"github.com/Veraticus/mail-alfred/internal/gmail"
)

var secretKeys = []string{credential.KeyOpenAI, credential.KeyAnthropic, credential.KeyIMAPPassword}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage mailbox and model credentials",
	}

	cmd.AddCommand(authGmailCmd())
	cmd.AddCommand(authSetSecretCmd())
	cmd.AddCommand(authDeleteSecretCmd())
	cmd.AddCommand(authListCmd())

	return cmd
}

func authGmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gmail",
		Short: "Authorize access to Gmail",
		Long: `Run the OAuth flow for Gmail.

This command will:
1. Start a local callback server
2. Print the consent URL to open in your browser
3. Save the token to gmail.token_path

Run it again whenever the token is revoked or expires.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadGmailConfig()
			oauthConfig, err := gmail.LoadOAuthConfig(cfg.CredentialsPath)
			if err != nil {
				return err
			}
			if _, err := gmail.AuthenticateInteractive(cmd.Context(), oauthConfig, cfg); err != nil {
				return fmt.Errorf("gmail authorization failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Gmail authorized, token saved to "+cfg.TokenPath))
			return nil
		},
	}
}

func authSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret KEY [VALUE]",
		Short: "Store a secret in the OS keyring",
		Long: fmt.Sprintf(`Store an API key or password in the OS keyring.

KEY is one of: %s
Without VALUE the secret is read from the first line of stdin.`, strings.Join(secretKeys, ", ")),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := checkSecretKey(key); err != nil {
				return err
			}

			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				fmt.Fprint(cmd.ErrOrStderr(), cli.InfoStyle.Render(key+": "))
				v, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = v
			}
			if value == "" {
				return common.NewUserError("secret value is empty", common.ErrInvalidConfig)
			}

			store, err := credential.Open(config.Dir())
			if err != nil {
				return err
			}
			if err := store.Set(key, value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Stored "+key))
			return nil
		},
	}
}

func authDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-secret KEY",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSecretKey(args[0]); err != nil {
				return err
			}
			store, err := credential.Open(config.Dir())
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted "+args[0]))
			return nil
		},
	}
}

func authListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secrets stored in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := credential.Open(config.Dir())
			if err != nil {
				return err
			}
			keys, err := store.Keys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No secrets stored"))
				return nil
			}
			slices.Sort(keys)
			for _, key := range keys {
				fmt.Fprintln(out, "  "+key)
			}
			return nil
		},
	}
}

func checkSecretKey(key string) error {
	if slices.Contains(secretKeys, key) {
		return nil
	}
	return common.NewUserError(
		fmt.Sprintf("unknown secret %q, expected one of: %s", key, strings.Join(secretKeys, ", ")),
		common.ErrInvalidConfig)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
