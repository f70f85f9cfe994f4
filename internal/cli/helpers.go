package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/converge-io/converge/internal/engine"
	"github.com/converge-io/converge/internal/eval"
	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/provider"
	"github.com/converge-io/converge/internal/state"
	"github.com/converge-io/converge/providers/aws"
	"github.com/converge-io/converge/providers/docker"
	"github.com/converge-io/converge/providers/null"
	"github.com/converge-io/converge/providers/sim"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns the ANSI code, or nothing when color is disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

// varEnvPrefix is the environment prefix for declaration variables, as in
// CONVERGE_VAR_region=us-east-1.
const varEnvPrefix = "CONVERGE_VAR_"

// collectVars merges variable values from the environment and --var
// flags; flags win.
func collectVars() map[string]string {
	vars := map[string]string{}
	for _, kv := range os.Environ() {
		rest, ok := strings.CutPrefix(kv, varEnvPrefix)
		if !ok {
			continue
		}
		if name, value, found := strings.Cut(rest, "="); found && name != "" {
			vars[name] = value
		}
	}
	for k, v := range varValues {
		vars[k] = v
	}
	return vars
}

// loadDeclarations reads the declaration set named by the first positional
// argument, defaulting to converge.json.
func loadDeclarations(args []string) ([]*ir.Resource, error) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	return eval.NewLoader(collectVars()).Load(path)
}

// newRegistry builds the provider registry available to a run. The real
// providers initialize their clients lazily, so registering them costs
// nothing until a declaration actually uses one.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(sim.New())
	registry.Register(null.New())
	registry.Register(aws.New())
	registry.Register(docker.New())
	return registry
}

// openStore builds the state store from the --backend flags. The current
// workspace selects the local path, the s3 object key, and the postgres
// state name unless the backend config overrides them.
func openStore() (state.Store, error) {
	opts := make(map[string]string, len(backendConfig))
	for k, v := range backendConfig {
		opts[k] = v
	}

	ws := currentWorkspace()
	switch backendType {
	case "", "local":
		if opts["path"] == "" {
			opts["path"] = WorkspaceStatePath()
		}
	case "s3":
		if opts["key"] == "" && ws != defaultWorkspace {
			opts["key"] = fmt.Sprintf("converge/state.%s.json", ws)
		}
	case "postgres":
		if opts["name"] == "" {
			opts["name"] = ws
		}
	}

	return state.Open(state.Config{Type: backendType, Options: opts})
}

// targetAddresses parses --target flag values.
func targetAddresses(targets []string) ([]ir.Address, error) {
	addrs := make([]ir.Address, 0, len(targets))
	for _, t := range targets {
		addr, err := ir.ParseAddress(t)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// confirm prompts for a yes/no answer on stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}

func opSymbol(op ir.Op) string {
	switch op {
	case ir.OpCreate:
		return "+"
	case ir.OpDelete:
		return "-"
	case ir.OpReplace:
		return "-/+"
	case ir.OpNoOp:
		return " "
	default:
		return "~"
	}
}

func opColor(op ir.Op) string {
	switch op {
	case ir.OpCreate:
		return colorize(colorGreen)
	case ir.OpDelete:
		return colorize(colorRed)
	case ir.OpUpdate, ir.OpReplace:
		return colorize(colorYellow)
	default:
		return ""
	}
}

func opVerb(op ir.Op) string {
	switch op {
	case ir.OpCreate:
		return "created"
	case ir.OpUpdate:
		return "updated in-place"
	case ir.OpReplace:
		return "replaced"
	case ir.OpDelete:
		return "destroyed"
	default:
		return "left unchanged"
	}
}

// formatAttr renders one attribute value for plan output. Strings quote,
// structures render as JSON, unknowns render as their sentinel.
func formatAttr(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case ir.UnknownValue:
		return ir.UnknownSentinel
	case string:
		return fmt.Sprintf("%q", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

func changeTypeName(c *ir.Change) (string, string) {
	if c.Desired != nil {
		return c.Desired.Type, c.Desired.Name
	}
	if c.Prior != nil {
		return c.Prior.Type, c.Prior.Name
	}
	return "", ""
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Op == ir.OpNoOp {
			continue
		}
		renderChange(change)
	}
}

func renderChange(c *ir.Change) {
	color := opColor(c.Op)
	reset := colorize(colorReset)

	fmt.Printf("\n%s  # %s will be %s%s\n", color, c.Address, opVerb(c.Op), reset)
	if c.Reason != "" {
		fmt.Printf("%s  # %s%s\n", color, c.Reason, reset)
	}

	resourceType, resourceName := changeTypeName(c)
	fmt.Printf("%s  %s resource %q %q {%s\n", color, opSymbol(c.Op), resourceType, resourceName, reset)
	renderAttrDiffs(c.Diff)
	fmt.Printf("%s    }%s\n", color, reset)
}

// renderAttrDiffs prints per-attribute transitions in key order.
func renderAttrDiffs(diff map[string]ir.AttrDiff) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	reset := colorize(colorReset)
	for _, key := range keys {
		d := diff[key]
		note := ""
		if d.ForcesReplacement {
			note = " # forces replacement"
		}
		switch d.Action {
		case ir.OpCreate:
			fmt.Printf("%s      + %s = %s%s%s\n", colorize(colorGreen), key, formatAttr(d.After), note, reset)
		case ir.OpDelete:
			fmt.Printf("%s      - %s = %s%s\n", colorize(colorRed), key, formatAttr(d.Before), reset)
		default:
			fmt.Printf("%s      ~ %s = %s -> %s%s%s\n", colorize(colorYellow), key, formatAttr(d.Before), formatAttr(d.After), note, reset)
		}
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// printApplyEvent is the progress line printer wired into the engine.
func printApplyEvent(ev engine.ApplyEvent) {
	switch ev.Status {
	case engine.StatusRunning:
		fmt.Printf("%s: %s...\n", ev.Address, progressVerb(ev.Op))
	case engine.StatusApplied:
		fmt.Printf("%s: done (%s)\n", ev.Address, ev.Duration.Round(time.Millisecond))
	case engine.StatusFailed:
		fmt.Printf("%s%s: failed: %v%s\n", colorize(colorRed), ev.Address, ev.Error, colorize(colorReset))
	case engine.StatusSkipped:
		fmt.Printf("%s: skipped (dependency failed)\n", ev.Address)
	case engine.StatusCancelled:
		fmt.Printf("%s: cancelled\n", ev.Address)
	}
}

func progressVerb(op ir.Op) string {
	switch op {
	case ir.OpCreate:
		return "creating"
	case ir.OpUpdate:
		return "updating"
	case ir.OpReplace:
		return "replacing"
	case ir.OpDelete:
		return "destroying"
	default:
		return "checking"
	}
}

// renderApplyReport prints the run outcome and any failures.
func renderApplyReport(report *engine.ApplyReport) {
	applied, failed, skipped, cancelled := report.Counts()
	fmt.Printf("\nApply complete (%s). Resources: %d applied, %d failed, %d skipped, %d cancelled.\n",
		report.Result, applied, failed, skipped, cancelled)

	if failed == 0 {
		return
	}
	addrs := make([]ir.Address, 0, len(report.Nodes))
	for addr := range report.Nodes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		n := report.Nodes[addr]
		if n.Status == engine.StatusFailed {
			fmt.Printf("  %s failed after %d attempt(s): %v\n", addr, n.Attempts, n.Err)
		}
	}
}
