package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/eval"
	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Converge project",
	Long:  `Creates a new Converge project with default configuration files.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(convergeDir(), 0755); err != nil {
		return fmt.Errorf("failed to create .converge directory: %w", err)
	}

	if _, err := os.Stat(eval.DefaultFileName); os.IsNotExist(err) {
		content := `{
  "resources": []
}
`
		if err := os.WriteFile(eval.DefaultFileName, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", eval.DefaultFileName, err)
		}
		fmt.Printf("Created %s\n", eval.DefaultFileName)
	}

	statePath := WorkspaceStatePath()
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		data, err := state.EncodeSnapshot(ir.NewSnapshot())
		if err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		if err := os.WriteFile(statePath, data, 0644); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", statePath)
	}

	fmt.Println("\nConverge initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to define your infrastructure\n", eval.DefaultFileName)
	fmt.Println("  2. Run 'converge plan' to see what will be created")
	fmt.Println("  3. Run 'converge apply' to create your infrastructure")

	return nil
}
