package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conciergebot/concierge/pkg/concierge/config"
)

// secretKeys maps the user-facing secret names to keyring keys.
var secretKeys = map[string]string{
	"gateway": "gateway_api_key",
	"engine":  "engine_api_key",
}

// newSecretCmd creates the `concierge secret` command group for
// managing API keys in the OS keyring.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage API keys in the OS keyring",
		Long: `Store, inspect and remove API keys in the operating system's
native keyring so they never live in the config file.

Examples:
  concierge secret set gateway
  concierge secret check
  concierge secret delete engine`,
	}

	cmd.AddCommand(newSecretSetCmd(), newSecretCheckCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <gateway|engine>",
		Short: "Store an API key in the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := secretKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (want gateway or engine)", args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s: ", args[0])
			reader := bufio.NewReader(cmd.InOrStdin())
			value, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("empty key, nothing stored")
			}

			if err := config.StoreKeyring(key, value); err != nil {
				return fmt.Errorf("store in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key in the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newSecretCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show which API keys are present in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range []string{"gateway", "engine"} {
				state := "missing"
				if config.GetKeyring(secretKeys[name]) != "" {
					state = "present"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", name, state)
			}
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <gateway|engine>",
		Short: "Remove an API key from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := secretKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown secret %q (want gateway or engine)", args[0])
			}
			if err := config.DeleteKeyring(key); err != nil {
				return fmt.Errorf("delete from keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s key from the OS keyring.\n", args[0])
			return nil
		},
	}
}
