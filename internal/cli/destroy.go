package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
	"github.com/converge-io/converge/internal/state"
)

var (
	destroyAutoApprove bool
	destroyParallelism int
	destroyTargets     []string
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [declarations]",
	Short: "Destroy managed infrastructure",
	Long: `Destroys resources tracked in state, in reverse dependency order.

Without --target, every tracked resource is destroyed. Declarations are
only read to resolve provider assignments and lifecycle settings; the
set of resources to delete comes from state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", engine.DefaultParallelism, "Maximum number of concurrent resource operations")
	destroyCmd.Flags().StringArrayVar(&destroyTargets, "target", nil, "Limit destruction to a resource and its dependents (repeatable)")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	decls, err := loadDeclarations(args)
	if err != nil {
		// Destroy still works when the declarations are gone; state
		// carries everything needed to delete.
		decls = nil
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Lock(ctx, state.DefaultLockTTL); err != nil {
		return err
	}
	defer store.Unlock(ctx)

	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if snap.Empty() {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	targets, err := targetAddresses(destroyTargets)
	if err != nil {
		return err
	}

	eng := engine.New(newRegistry(),
		engine.WithTargets(targets),
		engine.WithParallelism(destroyParallelism),
		engine.WithPersister(store),
		engine.WithEvents(printApplyEvent),
	)

	plan, diags := eng.PlanDestroy(decls, snap)
	if diags.HasErrors() {
		return diags
	}
	if plan.Empty() {
		fmt.Println("No resources to destroy.")
		return nil
	}

	fmt.Println("\nConverge will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy these resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resource(s)...\n\n", len(plan.Changes))
	report, applyErr := eng.Apply(ctx, plan, snap)
	if report == nil {
		return applyErr
	}

	renderApplyReport(report)
	auditApply("destroy", plan, report, applyErr)

	return applyErr
}
