package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

var unbindCmd = &cobra.Command{
	Use:   "unbind <session-id>",
	Short: "Remove a caller session's workflow binding",
	Long: `Remove the binding between a caller session and its workflow.
Unbinding a session that has no binding is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnbind,
}

func init() {
	rootCmd.AddCommand(unbindCmd)
}

func runUnbind(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	store := rt.openStore()
	registry := rt.openRegistry(store)

	sessionID := core.SessionID(args[0])
	if err := registry.Clear(cmd.Context(), sessionID); err != nil {
		return err
	}

	fmt.Printf("Unbound session %s\n", sessionID)
	return nil
}
