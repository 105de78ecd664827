package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/history"
	"github.com/zb-ss/opencode-workflows-sub001/internal/core"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [query]",
	Short: "Move a completed workflow to the completed root",
	Long: `Move a workflow record from the active root to the completed root
and index it in history.

Only workflows whose gates are all passed or skipped archive cleanly;
--force moves an unfinished record anyway.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArchive,
}

var archiveForce bool

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().BoolVar(&archiveForce, "force", false,
		"archive even when gates are still unfinished")
}

func runArchive(cmd *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	machine, err := rt.openMachine()
	if err != nil {
		return err
	}
	store := rt.openStore()
	registry := rt.openRegistry(store)
	ctx := cmd.Context()

	query := ""
	if len(args) > 0 {
		query = args[0]
	}
	stored, err := resolveWorkflow(ctx, store, registry, query, "")
	if err != nil {
		return err
	}

	if !machine.AllMandatoryGatesPassed(stored.State) && !archiveForce {
		pending := machine.PendingGates(stored.State)
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("workflow %s still has %d unfinished gate(s); use --force to archive anyway",
				stored.State.WorkflowID, len(pending)))
	}

	dest, ok := store.Archive(ctx, stored.Path)
	if !ok {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("could not archive workflow %s", stored.State.WorkflowID))
	}

	if rt.cfg.History.Enabled {
		if err := recordHistory(cmd, rt.cfg.History.Path, stored.State, dest); err != nil {
			fmt.Printf("%s history record failed: %v\n", paint(styleActive, "⚠"), err)
		}
	}

	fmt.Printf("Archived workflow %s\n  %s\n", stored.State.WorkflowID, dest)
	return nil
}

func recordHistory(cmd *cobra.Command, dbPath string, st *core.WorkflowState, dest string) error {
	hist, err := history.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()
	return hist.RecordArchive(cmd.Context(), st, dest)
}
