package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/provider"
	"github.com/converge-io/converge/internal/state"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-from-terraform [tf-dir]",
	Short: "Migrate from Terraform to Converge",
	Long: `Converts Terraform state to Converge state.

This command reads a Terraform state file (terraform.tfstate) and writes
the equivalent Converge state to the configured backend.

Note: This performs a best-effort conversion. You will still need to write
the corresponding declarations manually, but the state conversion ensures
Converge will manage the existing resources without recreating them.

Example:
  converge migrate-from-terraform .
  converge migrate-from-terraform /path/to/terraform/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

// TerraformState represents the Terraform state file format.
type TerraformState struct {
	Version          int                 `json:"version"`
	TerraformVersion string              `json:"terraform_version"`
	Serial           uint64              `json:"serial"`
	Lineage          string              `json:"lineage"`
	Outputs          map[string]TFOutput `json:"outputs"`
	Resources        []TFResource        `json:"resources"`
}

// TFOutput represents a Terraform state output.
type TFOutput struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// TFResource represents a Terraform state resource.
type TFResource struct {
	Module    string       `json:"module"`
	Mode      string       `json:"mode"` // "managed" or "data"
	Type      string       `json:"type"`
	Name      string       `json:"name"`
	Provider  string       `json:"provider"`
	Instances []TFInstance `json:"instances"`
}

// TFInstance represents a Terraform resource instance.
type TFInstance struct {
	SchemaVersion int            `json:"schema_version"`
	IndexKey      any            `json:"index_key"`
	Status        string         `json:"status"`
	Attributes    map[string]any `json:"attributes"`
	Dependencies  []string       `json:"dependencies"`
}

func runMigrate(cmd *cobra.Command, args []string) error {
	tfDir := "."
	if len(args) > 0 {
		tfDir = args[0]
	}

	statePath := filepath.Join(tfDir, "terraform.tfstate")
	data, err := os.ReadFile(statePath)
	if err != nil {
		return fmt.Errorf("failed to read terraform state from %s: %w", statePath, err)
	}

	var tfState TerraformState
	if err := json.Unmarshal(data, &tfState); err != nil {
		return fmt.Errorf("failed to parse terraform state: %w", err)
	}

	fmt.Printf("Found Terraform state: version=%d serial=%d lineage=%s\n",
		tfState.Version, tfState.Serial, tfState.Lineage)
	fmt.Printf("Resources: %d\n", len(tfState.Resources))

	snap := ir.NewSnapshot()
	snap.Serial = tfState.Serial
	if tfState.Lineage != "" {
		snap.Lineage = tfState.Lineage
	}

	registry := newRegistry()
	converted := 0
	for _, res := range tfState.Resources {
		if res.Mode != "managed" {
			continue
		}

		resourceType, providerName := mapTFResource(registry, res.Type, res.Provider)

		for i, inst := range res.Instances {
			addr := instanceAddress(ir.MakeAddress(resourceType, res.Name), inst.IndexKey, i, len(res.Instances))

			var id string
			if v, ok := inst.Attributes["id"]; ok {
				id = fmt.Sprintf("%v", v)
			}

			snap.Put(addr, &ir.ResourceState{
				Type:     resourceType,
				Name:     res.Name,
				Provider: providerName,
				ID:       id,
				Inputs:   map[string]any{},
				Attrs:    inst.Attributes,
				Deps:     mapTFDependencies(registry, inst.Dependencies),
				Tainted:  inst.Status == "tainted",
			})
			converted++
		}
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

	existing, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current state: %w", err)
	}
	if !existing.Empty() {
		return fmt.Errorf("current state already tracks %d resource(s); migrate into an empty workspace", len(existing.Resources))
	}

	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("\nMigration complete! Converted %d resource(s).\n", converted)
	if len(tfState.Outputs) > 0 {
		fmt.Printf("Note: %d output(s) were not migrated.\n", len(tfState.Outputs))
	}
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Write corresponding declarations in converge.json")
	fmt.Println("  2. Run 'converge plan' to verify no changes are needed")
	fmt.Println("  3. If plan shows changes, adjust your declarations to match")
	return nil
}

// instanceAddress picks the state address for a Terraform instance. The
// index key wins when present; a lone unkeyed instance maps to the bare
// address, anything else falls back to positional indexing.
func instanceAddress(base ir.Address, indexKey any, pos, total int) ir.Address {
	switch k := indexKey.(type) {
	case string:
		return base.Keyed(k)
	case float64:
		return base.Indexed(int(k))
	}
	if total == 1 {
		return base
	}
	return base.Indexed(pos)
}

// mapTFProvider maps a Terraform provider string to a Converge provider
// name. Terraform records providers as
// provider["registry.terraform.io/hashicorp/aws"].
func mapTFProvider(tfProvider string) string {
	parts := strings.Split(tfProvider, "/")
	name := parts[len(parts)-1]
	name = strings.Trim(name, "[]\"")
	switch name {
	case "aws", "docker", "null":
		return name
	}
	return "sim"
}

// mapTFResource decides where a Terraform resource lands. Types their
// native provider serves keep their names; everything else, including
// types the native provider does not implement, folds into the
// simulator's catalog.
func mapTFResource(registry *provider.Registry, tfType, tfProvider string) (string, string) {
	name := mapTFProvider(tfProvider)
	if name != "sim" {
		if prov, err := registry.Get(name); err == nil {
			if _, err := prov.Schema(tfType); err == nil {
				return tfType, name
			}
		}
	}
	return simType(tfType), "sim"
}

// simType maps a foreign Terraform resource type onto the simulator
// catalog.
func simType(tfType string) string {
	typeMap := map[string]string{
		"aws_instance":              "instance",
		"aws_vpc":                   "vpc",
		"aws_subnet":                "subnet",
		"aws_security_group":        "security_group",
		"aws_db_instance":           "database",
		"aws_lb":                    "load_balancer",
		"aws_route53_zone":          "dns_zone",
		"aws_route53_record":        "dns_record",
		"google_compute_instance":   "instance",
		"google_compute_network":    "vpc",
		"google_compute_subnetwork": "subnet",
		"google_compute_firewall":   "security_group",
		"google_storage_bucket":     "bucket",
		"google_sql_database":       "database",
		"azurerm_virtual_machine":   "instance",
		"azurerm_virtual_network":   "vpc",
		"azurerm_subnet":            "subnet",
		"azurerm_storage_account":   "bucket",
		"azurerm_lb":                "load_balancer",
	}

	if mapped, ok := typeMap[tfType]; ok {
		return mapped
	}

	// Best effort: strip the provider prefix from underscore format.
	if i := strings.Index(tfType, "_"); i > 0 {
		return tfType[i+1:]
	}
	return tfType
}

// mapTFDependencies rewrites Terraform dependency addresses into Converge
// addresses, dropping anything that does not parse. Each dependency type
// goes through the same native-or-simulator decision as the resources
// themselves so recorded edges keep pointing at migrated addresses.
func mapTFDependencies(registry *provider.Registry, deps []string) []ir.Address {
	var out []ir.Address
	for _, dep := range deps {
		parts := strings.Split(dep, ".")
		if len(parts) < 2 {
			continue
		}
		tfType := parts[len(parts)-2]
		typ, _ := mapTFResource(registry, tfType, ir.DefaultProvider(tfType))
		name := parts[len(parts)-1]
		out = append(out, ir.MakeAddress(typ, name))
	}
	return out
}
