package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/provider"
	"github.com/converge-io/converge/internal/state"
)

var importCmd = &cobra.Command{
	Use:   "import <address> <id>",
	Short: "Import existing infrastructure into Converge state",
	Long: `Import an existing resource into the Converge state.

This does not generate configuration - you must write the corresponding
declaration manually. It only adds the resource to the state so that
Converge will manage it going forward.

Example:
  converge import bucket.assets my-bucket-name`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var importProvider string

func init() {
	importCmd.Flags().StringVar(&importProvider, "provider", "", "Provider to import with (defaults by resource type)")
}

func runImport(cmd *cobra.Command, args []string) error {
	addr, err := ir.ParseAddress(args[0])
	if err != nil {
		return err
	}
	id := args[1]

	providerName := importProvider
	if providerName == "" {
		providerName = ir.DefaultProvider(addr.Type())
	}

	registry := newRegistry()
	prov, err := registry.Get(providerName)
	if err != nil {
		return fmt.Errorf("provider not available: %w", err)
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
	if snap.Resource(addr) != nil {
		return fmt.Errorf("resource %s already exists in state", addr)
	}

	fmt.Printf("Importing %s (id: %s)...\n", addr, id)
	attrs, err := prov.Read(ctx, addr.Type(), id)
	if provider.IsNotFound(err) {
		return fmt.Errorf("resource %s with id %q does not exist", addr.Type(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to read resource from provider: %w", err)
	}

	typ, name := addr.Split()
	snap.Put(addr, &ir.ResourceState{
		Type:     typ,
		Name:     name,
		Provider: providerName,
		ID:       id,
		Inputs:   map[string]any{},
		Attrs:    attrs,
	})
	snap.Serial++

	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(AuditEntry{
		Operation: "import",
		Changes:   []AuditChange{{Address: string(addr), Action: "import"}},
	})

	fmt.Printf("Successfully imported %s\n", addr)
	fmt.Println("Note: You must also write the corresponding declaration for this resource.")
	return nil
}
