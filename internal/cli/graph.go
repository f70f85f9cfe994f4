package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  converge graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	decls, err := loadDeclarations(args)
	if err != nil {
		return err
	}

	eng := engine.New(newRegistry())
	graph, diags := eng.BuildGraph(decls)
	if diags.HasErrors() {
		return fmt.Errorf("failed to build graph: %w", diags)
	}

	fmt.Println("digraph converge {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	addrs := graph.Addresses()
	for _, addr := range addrs {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range addrs {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
