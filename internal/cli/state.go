package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage Converge state",
	Long:  `Commands for inspecting and modifying Converge state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

var statePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Print the raw state snapshot to stdout",
	RunE:  runStatePull,
}

var statePushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Overwrite remote state with a local snapshot",
	Long: `Reads a snapshot from a file (or stdin when the file is "-") and writes
it to the configured backend. Refuses lineage changes and serial
regressions unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatePush,
}

var statePushForce bool

func init() {
	statePushCmd.Flags().BoolVar(&statePushForce, "force", false, "Skip lineage and serial safety checks")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
	stateCmd.AddCommand(statePullCmd)
	stateCmd.AddCommand(statePushCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if snap.Empty() {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", snap.Version, snap.Serial, snap.Lineage)
	for _, addr := range snap.Addresses() {
		fmt.Printf("  %s (provider: %s)\n", addr, snap.Resource(addr).Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(snap.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	addr, err := ir.ParseAddress(args[0])
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	rs := snap.Resource(addr)
	if rs == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}

	fmt.Printf("# %s\n", addr)
	fmt.Printf("  provider = %s\n", rs.Provider)
	fmt.Printf("  type     = %s\n", rs.Type)
	fmt.Printf("  name     = %s\n", rs.Name)
	fmt.Printf("  id       = %s\n", rs.ID)
	if rs.Tainted {
		fmt.Println("  tainted  = true")
	}

	if len(rs.Inputs) > 0 {
		fmt.Println("\n  Inputs:")
		for _, k := range sortedStateKeys(rs.Inputs) {
			fmt.Printf("    %s = %s\n", k, formatAttr(rs.Inputs[k]))
		}
	}

	if len(rs.Attrs) > 0 {
		fmt.Println("\n  Attributes:")
		for _, k := range sortedStateKeys(rs.Attrs) {
			fmt.Printf("    %s = %s\n", k, formatAttr(rs.Attrs[k]))
		}
	}

	if len(rs.Deps) > 0 {
		fmt.Println("\n  Dependencies:")
		for _, dep := range rs.Deps {
			fmt.Printf("    %s\n", dep)
		}
	}

	return nil
}

func sortedStateKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runStateMv(cmd *cobra.Command, args []string) error {
	src, err := ir.ParseAddress(args[0])
	if err != nil {
		return fmt.Errorf("invalid source address: %w", err)
	}
	dst, err := ir.ParseAddress(args[1])
	if err != nil {
		return fmt.Errorf("invalid destination address: %w", err)
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

	rs := snap.Resource(src)
	if rs == nil {
		return fmt.Errorf("resource %s not found in state", src)
	}
	if snap.Resource(dst) != nil {
		return fmt.Errorf("destination %s already exists in state", dst)
	}

	snap.Remove(src)
	rs.Type, rs.Name = dst.Split()
	snap.Put(dst, rs)

	// Keep destruction ordering intact for everything that depended on
	// the old address.
	for _, addr := range snap.Addresses() {
		other := snap.Resource(addr)
		for i, dep := range other.Deps {
			if dep == src {
				other.Deps[i] = dst
			}
		}
	}

	snap.Serial++
	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(AuditEntry{
		Operation: "state.mv",
		Changes: []AuditChange{
			{Address: string(src), Action: "move"},
			{Address: string(dst), Action: "move"},
		},
	})

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	addr, err := ir.ParseAddress(args[0])
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

	if snap.Resource(addr) == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}

	snap.Remove(addr)
	snap.Serial++
	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(AuditEntry{
		Operation: "state.rm",
		Changes:   []AuditChange{{Address: string(addr), Action: "remove"}},
	})

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", addr)
	return nil
}

func runStatePull(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	data, err := state.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runStatePush(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if args[0] == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	pushed, err := state.DecodeSnapshot(raw)
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

	current, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current state: %w", err)
	}

	if !statePushForce && !current.Empty() {
		if current.Lineage != pushed.Lineage {
			return fmt.Errorf("lineage mismatch: remote %s, pushed %s (use --force to override)",
				current.Lineage, pushed.Lineage)
		}
		if pushed.Serial < current.Serial {
			return fmt.Errorf("serial regression: remote %d, pushed %d (use --force to override)",
				current.Serial, pushed.Serial)
		}
	}

	if err := store.Save(ctx, pushed); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("State pushed (serial %d).\n", pushed.Serial)
	return nil
}
