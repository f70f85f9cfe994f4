package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/logging"
	"github.com/converge-io/converge/internal/provider"
)

// RefreshReport summarizes what a refresh saw.
type RefreshReport struct {
	// Checked counts the state entries read back from providers.
	Checked int
	// Drifted lists entries whose provider-side attributes changed.
	Drifted []ir.Address
	// Removed lists entries dropped because the resource vanished.
	Removed []ir.Address
}

// Changed reports whether refresh altered the snapshot.
func (r *RefreshReport) Changed() bool {
	return len(r.Drifted) > 0 || len(r.Removed) > 0
}

// Refresh reads every tracked resource back from its provider and
// reconciles the snapshot: drifted attributes are overwritten, vanished
// resources are dropped. Read failures leave their entries untouched and
// aggregate into the returned error.
func (e *Engine) Refresh(ctx context.Context, snap *ir.Snapshot) (*RefreshReport, error) {
	if snap == nil {
		return nil, errors.New("refresh requires a state snapshot")
	}
	report := &RefreshReport{}
	var errs []error

	for _, addr := range snap.Addresses() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rs := snap.Resource(addr)
		prov, err := e.registry.Get(rs.Provider)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}

		report.Checked++
		attrs, err := prov.Read(ctx, rs.Type, rs.ID)
		if provider.IsNotFound(err) {
			logging.Info("resource vanished, dropping from state", "address", string(addr), "id", rs.ID)
			snap.Remove(addr)
			report.Removed = append(report.Removed, addr)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", addr, err))
			continue
		}
		if !ir.Equal(rs.Attrs, attrs) {
			logging.Debug("drift detected", "address", string(addr))
			report.Drifted = append(report.Drifted, addr)
		}
		rs.Attrs = attrs
	}

	if report.Changed() {
		snap.Serial++
	}
	return report, errors.Join(errs...)
}
