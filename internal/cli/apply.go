package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
	"github.com/converge-io/converge/internal/state"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTargets     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [declarations]",
	Short: "Apply declarations",
	Long: `Builds or changes infrastructure to match the declared resources.

Independent resources apply concurrently; every resource waits for its
dependencies. State commits after each resource, so an interrupted run
resumes from whatever finished.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum number of concurrent resource operations")
	applyCmd.Flags().StringArrayVar(&applyTargets, "target", nil, "Limit the run to a resource and its dependencies (repeatable)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	decls, err := loadDeclarations(args)
	if err != nil {
		return err
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

	targets, err := targetAddresses(applyTargets)
	if err != nil {
		return err
	}

	eng := engine.New(newRegistry(),
		engine.WithTargets(targets),
		engine.WithParallelism(applyParallelism),
		engine.WithPersister(store),
		engine.WithEvents(printApplyEvent),
	)

	fmt.Print("Calculating plan... ")
	plan, diags := eng.Plan(decls, snap)
	if diags.HasErrors() {
		fmt.Println("FAILED")
		return diags
	}
	fmt.Println("OK")

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nConverge will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d change(s)...\n\n", len(plan.Changes))
	report, applyErr := eng.Apply(ctx, plan, snap)
	if report == nil {
		return applyErr
	}

	renderApplyReport(report)
	auditApply("apply", plan, report, applyErr)

	return applyErr
}
