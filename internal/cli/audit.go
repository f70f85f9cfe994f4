package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/converge-io/converge/internal/engine"
	"github.com/converge-io/converge/internal/ir"
)

// AuditEntry is a single line in the audit log.
type AuditEntry struct {
	Timestamp string         `json:"timestamp"`
	Operation string         `json:"operation"` // "apply", "destroy", "import", "state.rm", "state.mv"
	User      string         `json:"user"`
	Workspace string         `json:"workspace"`
	Changes   []AuditChange  `json:"changes,omitempty"`
	Summary   map[string]int `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditChange records a single resource change.
type AuditChange struct {
	Address string `json:"address"`
	Action  string `json:"action"`
}

// auditLogPath returns the path to the audit log file.
func auditLogPath() string {
	return filepath.Join(convergeDir(), "audit.log")
}

// auditApply records the outcome of an apply or destroy run.
func auditApply(operation string, plan *ir.Plan, report *engine.ApplyReport, runErr error) {
	entry := AuditEntry{Operation: operation}
	for _, c := range plan.Changes {
		if c.Op == ir.OpNoOp {
			continue
		}
		entry.Changes = append(entry.Changes, AuditChange{
			Address: string(c.Address),
			Action:  string(c.Op),
		})
	}
	applied, failed, skipped, cancelled := report.Counts()
	entry.Summary = map[string]int{
		"applied":   applied,
		"failed":    failed,
		"skipped":   skipped,
		"cancelled": cancelled,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	writeAuditLog(entry)
}

// writeAuditLog appends an audit entry to the audit log file. Audit
// failures never block the operation that produced them.
func writeAuditLog(entry AuditEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if entry.User == "" {
		entry.User = currentUser()
	}
	if entry.Workspace == "" {
		entry.Workspace = currentWorkspace()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(auditLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	defer f.Close()

	_, err = f.WriteString(string(data) + "\n")
	return err
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
