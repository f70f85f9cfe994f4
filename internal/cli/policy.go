package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/converge-io/converge/internal/ir"
)

var policyFile string

var policyCmd = &cobra.Command{
	Use:   "policy-check <plan-file>",
	Short: "Check a plan against policy rules",
	Long: `Evaluates a saved plan against policy rules defined in a JSON policy file.

Policy rules can enforce constraints like:
  - No public buckets
  - All resources must have tags
  - Prevent deletion of critical resources

Example policy file:
  {
    "rules": [
      {
        "name": "no-public-buckets",
        "description": "Buckets must not have public-read ACL",
        "resource_type": "bucket",
        "condition": "property_not_equals",
        "property": "acl",
        "value": "private",
        "severity": "error"
      }
    ]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCmd.Flags().StringVarP(&policyFile, "policy", "p", ".converge/policies.json", "Path to policy file")
}

// PolicyFile represents a collection of policy rules.
type PolicyFile struct {
	Rules []PolicyRule `json:"rules"`
}

// PolicyRule defines a single policy check.
type PolicyRule struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ResourceType string `json:"resource_type"` // empty = all types
	Condition    string `json:"condition"`     // deny_action, property_equals, property_not_equals, require_property
	Property     string `json:"property"`
	Value        string `json:"value"`
	Severity     string `json:"severity"` // "error", "warning"
}

// PolicyViolation represents a policy check failure.
type PolicyViolation struct {
	Rule     PolicyRule
	Resource ir.Address
	Message  string
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	planData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan ir.Plan
	if err := json.Unmarshal(planData, &plan); err != nil {
		return fmt.Errorf("failed to parse plan: %w", err)
	}

	policyData, err := os.ReadFile(policyFile)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", policyFile, err)
	}

	var policies PolicyFile
	if err := json.Unmarshal(policyData, &policies); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	violations := evaluatePolicies(&plan, &policies)

	errors := 0
	warnings := 0
	for _, v := range violations {
		if strings.EqualFold(v.Rule.Severity, "warning") {
			warnings++
			fmt.Printf("%s[WARN]%s %s: %s\n", colorize(colorYellow), colorize(colorReset), v.Rule.Name, v.Message)
		} else {
			errors++
			fmt.Printf("%s[ERROR]%s %s: %s\n", colorize(colorRed), colorize(colorReset), v.Rule.Name, v.Message)
		}
	}

	fmt.Printf("\nPolicy check complete: %d error(s), %d warning(s)\n", errors, warnings)

	if errors > 0 {
		return fmt.Errorf("policy check failed with %d error(s)", errors)
	}
	return nil
}

func evaluatePolicies(plan *ir.Plan, policies *PolicyFile) []PolicyViolation {
	var violations []PolicyViolation

	for _, rule := range policies.Rules {
		for _, change := range plan.Changes {
			if rule.ResourceType != "" && changeResourceType(change) != rule.ResourceType {
				continue
			}

			switch rule.Condition {
			case "deny_action":
				if strings.EqualFold(string(change.Op), rule.Value) {
					violations = append(violations, PolicyViolation{
						Rule:     rule,
						Resource: change.Address,
						Message:  fmt.Sprintf("Resource %s: action %s is denied by policy %q", change.Address, change.Op, rule.Description),
					})
				}

			case "property_equals":
				if change.Desired == nil {
					continue
				}
				if val, ok := change.Desired.Attrs[rule.Property]; ok {
					if policyValue(val) == rule.Value {
						violations = append(violations, PolicyViolation{
							Rule:     rule,
							Resource: change.Address,
							Message:  fmt.Sprintf("Resource %s: property %s=%s violates policy %q", change.Address, rule.Property, policyValue(val), rule.Description),
						})
					}
				}

			case "property_not_equals":
				if change.Desired == nil {
					continue
				}
				if val, ok := change.Desired.Attrs[rule.Property]; ok {
					if policyValue(val) != rule.Value {
						violations = append(violations, PolicyViolation{
							Rule:     rule,
							Resource: change.Address,
							Message:  fmt.Sprintf("Resource %s: property %s=%s violates policy %q (expected %s)", change.Address, rule.Property, policyValue(val), rule.Description, rule.Value),
						})
					}
				}

			case "require_property":
				if change.Desired == nil || change.Op == ir.OpDelete || change.Op == ir.OpNoOp {
					continue
				}
				if _, ok := change.Desired.Attrs[rule.Property]; !ok {
					violations = append(violations, PolicyViolation{
						Rule:     rule,
						Resource: change.Address,
						Message:  fmt.Sprintf("Resource %s: missing required property %q per policy %q", change.Address, rule.Property, rule.Description),
					})
				}
			}
		}
	}

	return violations
}

func changeResourceType(change *ir.Change) string {
	if typ, _ := changeTypeName(change); typ != "" {
		return typ
	}
	return change.Address.Type()
}

// policyValue renders an attribute the way rule values are written:
// literals bare, everything else as JSON.
func policyValue(v ir.Value) string {
	if v.Kind == ir.KindLiteral {
		return fmt.Sprintf("%v", v.Lit)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
