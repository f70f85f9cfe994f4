package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/logging"
)

var (
	logLevel      string
	backendType   string
	backendConfig map[string]string
	varValues     map[string]string
	noColor       bool
)

var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Declarative infrastructure provisioning",
	Long: `Converge reconciles declared resources against recorded state.

It builds a dependency graph from JSON declarations, plans the minimal
set of changes, and applies them concurrently:
  • Cross-resource references with plan-time resolution
  • Plans with per-attribute diffs and replacement reasons
  • Parallel apply with bounded concurrency and retries
  • Pluggable state backends (local, s3, postgres)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("log-level") {
			if env := os.Getenv("CONVERGE_LOG_LEVEL"); env != "" {
				logLevel = env
			}
		}
		logging.Init(logLevel)
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&backendType, "backend", "local", "State backend (local, s3, postgres)")
	pf.StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")
	pf.StringToStringVar(&varValues, "var", nil, "Declaration variables (format: key=value)")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}
