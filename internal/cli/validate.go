package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate declaration files",
	Long: `Validates declaration files without contacting providers or touching
state: syntax, addresses, reference targets, dependency cycles and
provider availability.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	decls, err := loadDeclarations(args)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	eng := engine.New(newRegistry())
	diags := eng.Validate(decls)
	if diags.HasErrors() {
		for _, d := range diags {
			fmt.Printf("%sError:%s %s\n", colorize(colorRed), colorize(colorReset), d.Error())
		}
		return fmt.Errorf("validation found %d problem(s)", len(diags))
	}

	fmt.Println("\nConfiguration is valid!")
	return nil
}
