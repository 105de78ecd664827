package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

var bindCmd = &cobra.Command{
	Use:   "bind <session-id> [workflow-id]",
	Short: "Bind a caller session to a workflow",
	Long: `Bind an interactive caller session to a workflow so later
invocations within that session rediscover it without re-passing an id.

Without a workflow id the most recently updated workflow is bound.
Rebinding overwrites the previous binding.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBind,
}

func init() {
	rootCmd.AddCommand(bindCmd)
}

func runBind(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	store := rt.openStore()
	registry := rt.openRegistry(store)
	ctx := cmd.Context()

	sessionID := core.SessionID(args[0])
	query := ""
	if len(args) > 1 {
		query = args[1]
	}

	stored, err := resolveWorkflow(ctx, store, registry, query, "")
	if err != nil {
		return err
	}

	if err := registry.Bind(ctx, sessionID, stored.Path, stored.State.WorkflowID); err != nil {
		return err
	}
	if err := registry.Touch(ctx, sessionID); err != nil {
		rt.log.Warn("could not refresh session marker",
			"session_id", sessionID, "error", err)
	}

	fmt.Printf("Bound session %s to workflow %s\n", sessionID, stored.State.WorkflowID)
	return nil
}
