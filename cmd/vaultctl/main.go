// Command vaultctl is the admin CLI for a running vault node: status,
// pin management, garbage collection, storage proofs, and the ban
// override, all driven over the node's own HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	nodeURL      string
	serviceToken string
)

func main() {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "admin CLI for a vault storage node",
	}
	root.PersistentFlags().StringVar(&nodeURL, "node", "http://localhost:8080", "base URL of the vault node")
	root.PersistentFlags().StringVar(&serviceToken, "token", os.Getenv("VAULT_SERVICE_TOKEN"), "service token for admin routes")

	root.AddCommand(
		newStatusCmd(),
		newPinCmd(),
		newUnpinCmd(),
		newPinListCmd(),
		newGCCmd(),
		newProofCmd(),
		newBanCmd(),
		newUnbanCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}
