package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/network"
	"flyingcarpet/internal/ui"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Generate a password to enter on the other device",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := keys.GeneratePassword()
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		_, networkName := keys.Derive(password)
		fmt.Fprintf(cmd.OutOrStdout(), "Password: %s\n", password)
		fmt.Fprintf(cmd.OutOrStdout(), "Network:  %s\n", networkName)
		return nil
	},
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List WiFi interfaces known to NetworkManager",
	RunE: func(cmd *cobra.Command, args []string) error {
		ifaces, err := network.NewNMCLI(ui.Nop{}, log).Interfaces(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list interfaces: %w", err)
		}
		if len(ifaces) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No WiFi interfaces found.")
			return nil
		}
		for _, iface := range ifaces {
			fmt.Fprintln(cmd.OutOrStdout(), iface)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(interfacesCmd)
}
