package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/state"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [plan-file]",
	Short: "Show the current state or a saved plan",
	Long: `Displays a human-readable view of the current state, or of a plan file
previously written with 'converge plan -out'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showPlanFile(args[0])
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := state.EncodeSnapshot(snap)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", snap.Version, snap.Serial, snap.Lineage)
	fmt.Printf("Resources: %d\n\n", len(snap.Resources))

	for _, addr := range snap.Addresses() {
		rs := snap.Resource(addr)
		fmt.Printf("# %s\n", addr)
		fmt.Printf("  provider = %s\n", rs.Provider)
		fmt.Printf("  id       = %s\n", rs.ID)
		if rs.Tainted {
			fmt.Println("  tainted  = true")
		}
		for _, k := range sortedStateKeys(rs.Attrs) {
			fmt.Printf("  %s = %s\n", k, formatAttr(rs.Attrs[k]))
		}
		fmt.Println()
	}

	return nil
}

func showPlanFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan ir.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if showJSON {
		data, err := json.MarshalIndent(&plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}
	renderPlanChanges(&plan)
	renderPlanSummary(&plan)
	return nil
}
