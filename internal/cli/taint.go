package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/state"
)

var taintCmd = &cobra.Command{
	Use:   "taint <address>",
	Short: "Mark a resource for recreation",
	Long: `Marks a resource as tainted, forcing it to be destroyed and recreated
on the next apply.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaint,
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <address>",
	Short: "Remove taint from a resource",
	Long:  `Removes the taint mark from a resource, preventing forced recreation.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUntaint,
}

func runTaint(cmd *cobra.Command, args []string) error {
	return setTaint(cmd, args[0], true)
}

func runUntaint(cmd *cobra.Command, args []string) error {
	return setTaint(cmd, args[0], false)
}

func setTaint(cmd *cobra.Command, target string, tainted bool) error {
	addr, err := ir.ParseAddress(target)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
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
		return fmt.Errorf("failed to read state: %w", err)
	}

	rs := snap.Resource(addr)
	if rs == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}
	if rs.Tainted == tainted {
		if tainted {
			fmt.Printf("Resource %s is already tainted.\n", addr)
		} else {
			fmt.Printf("Resource %s is not tainted.\n", addr)
		}
		return nil
	}

	rs.Tainted = tainted
	snap.Serial++
	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if tainted {
		fmt.Printf("Resource %s has been tainted. It will be recreated on next apply.\n", addr)
	} else {
		fmt.Printf("Resource %s has been untainted.\n", addr)
	}
	return nil
}
