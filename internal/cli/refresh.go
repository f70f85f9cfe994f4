package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
	"github.com/converge-io/converge/internal/state"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current state of all managed resources from their providers
and updates the state file to reflect actual infrastructure.

This detects drift between what Converge thinks exists and what actually
exists.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Lock(ctx, state.DefaultLockTTL); err != nil {
		return err
	}
	defer store.Unlock(ctx)

	fmt.Print("Reading state... ")
	snap, err := store.Load(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if snap.Empty() {
		fmt.Println("No resources to refresh.")
		return nil
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(snap.Resources))

	eng := engine.New(newRegistry())
	report, refreshErr := eng.Refresh(ctx, snap)
	if report == nil {
		return refreshErr
	}

	for _, addr := range report.Drifted {
		fmt.Printf("  %s~ %s: drifted (state updated)%s\n", colorize(colorYellow), addr, colorize(colorReset))
	}
	for _, addr := range report.Removed {
		fmt.Printf("  %s- %s: removed (no longer exists in provider)%s\n", colorize(colorRed), addr, colorize(colorReset))
	}

	if report.Changed() {
		if err := store.Save(ctx, snap); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. Checked %d: %d drifted, %d removed.\n",
		report.Checked, len(report.Drifted), len(report.Removed))
	return refreshErr
}
