package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
)

var (
	planOutFile string
	planTargets []string
)

var planCmd = &cobra.Command{
	Use:   "plan [declarations]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions Converge will take
to reach the declared state.

The plan shows:
  • Resources to be created
  • Resources to be updated (with per-attribute diff)
  • Resources to be replaced, and which attribute forces it
  • Resources to be deleted`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as JSON to a file")
	planCmd.Flags().StringArrayVar(&planTargets, "target", nil, "Limit the plan to a resource and its dependencies (repeatable)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	decls, err := loadDeclarations(args)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}

	targets, err := targetAddresses(planTargets)
	if err != nil {
		return err
	}

	eng := engine.New(newRegistry(), engine.WithTargets(targets))

	fmt.Print("Calculating plan... ")
	plan, diags := eng.Plan(decls, snap)
	if diags.HasErrors() {
		fmt.Println("FAILED")
		return diags
	}
	fmt.Println("OK")

	if plan.Empty() {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nConverge will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if planOutFile != "" {
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}

	return nil
}
