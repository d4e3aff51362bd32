package promotion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// SweepResult summarizes a Sweep run.
type SweepResult struct {
	Evaluated int                   `json:"evaluated"`
	Promoted  []model.CanonicalTerm `json:"promoted"`
}

// Sweep promotes every eligible unpromoted usage row. Each row is re-read
// and promoted in its own transaction.
func (e *Engine) Sweep(ctx context.Context, st store.Store) (*SweepResult, error) {
	unpromoted := false
	rows, err := st.ListUsage(ctx, store.UsageFilter{MinCount: e.threshold, Promoted: &unpromoted})
	if err != nil {
		return nil, eris.Wrap(err, "promotion: sweep list usage")
	}

	res := &SweepResult{Promoted: []model.CanonicalTerm{}}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Evaluated++

		var out model.PromotionResult
		err := st.InTx(ctx, func(tx store.Tx) error {
			u, err := tx.GetUsage(ctx, row.Category, row.RawValue)
			if err != nil || u == nil {
				return err
			}
			out, err = e.MaybePromote(ctx, tx, *u)
			return err
		})
		if err != nil {
			return res, eris.Wrapf(err, "promotion: sweep %s/%s", row.Category, row.RawValue)
		}
		if out.Promoted && out.Term != nil {
			res.Promoted = append(res.Promoted, *out.Term)
		}
	}

	zap.L().Info("promotion sweep complete",
		zap.Int("evaluated", res.Evaluated),
		zap.Int("promoted", len(res.Promoted)),
	)
	return res, nil
}

// ReconcileReport lists the inconsistencies Reconcile found.
type ReconcileReport struct {
	// Repaired rows were promoted without a canonical term, which has been
	// inserted, or backed a promoted term without the promoted flag, which
	// has been set.
	Repaired []InconsistentState `json:"repaired"`
	// Orphaned terms claim to be promoted but have no usage row. They are
	// reported only.
	Orphaned []InconsistentState `json:"orphaned"`
}

// Reconcile detects promoted usage rows without a canonical term and
// inserts the missing terms. Usage rows behind a promoted canonical term
// are flagged as promoted. Promoted terms with no usage row are logged and
// reported.
func (e *Engine) Reconcile(ctx context.Context, st store.Store) (*ReconcileReport, error) {
	log := zap.L().With(zap.String("component", "promotion.reconcile"))
	report := &ReconcileReport{Repaired: []InconsistentState{}, Orphaned: []InconsistentState{}}

	promoted := true
	rows, err := st.ListUsage(ctx, store.UsageFilter{Promoted: &promoted})
	if err != nil {
		return nil, eris.Wrap(err, "promotion: reconcile list usage")
	}

	for _, row := range rows {
		var repaired bool
		err := st.InTx(ctx, func(tx store.Tx) error {
			term, err := tx.GetTerm(ctx, row.Category, row.RawValue)
			if err != nil || term != nil {
				return err
			}
			_, repaired, err = tx.InsertTerm(ctx, model.CanonicalTerm{
				Category:           row.Category,
				Value:              row.RawValue,
				PromotedFromCustom: true,
			})
			return err
		})
		if err != nil {
			return report, eris.Wrapf(err, "promotion: reconcile %s/%s", row.Category, row.RawValue)
		}
		if repaired {
			finding := InconsistentState{Category: row.Category, Value: row.RawValue, Reason: ReasonMissingTerm}
			log.Warn("repaired promotion state", zap.Error(&finding))
			report.Repaired = append(report.Repaired, finding)
		}
	}

	terms, err := st.ListTerms(ctx, "")
	if err != nil {
		return report, eris.Wrap(err, "promotion: reconcile list terms")
	}
	for _, t := range terms {
		if !t.PromotedFromCustom {
			continue
		}
		u, err := st.GetUsage(ctx, t.Category, t.Value)
		if err != nil {
			return report, eris.Wrapf(err, "promotion: reconcile usage %s/%s", t.Category, t.Value)
		}
		if u == nil {
			finding := InconsistentState{Category: t.Category, Value: t.Value, Reason: ReasonMissingUsage}
			log.Warn("orphaned promoted term", zap.Error(&finding))
			report.Orphaned = append(report.Orphaned, finding)
			continue
		}
		if u.Promoted {
			continue
		}

		var flipped bool
		err = st.InTx(ctx, func(tx store.Tx) error {
			var err error
			flipped, err = tx.MarkPromoted(ctx, u.Category, u.RawValue)
			return err
		})
		if err != nil {
			return report, eris.Wrapf(err, "promotion: reconcile flag %s/%s", u.Category, u.RawValue)
		}
		if flipped {
			finding := InconsistentState{Category: u.Category, Value: u.RawValue, Reason: ReasonUnflagged}
			log.Warn("repaired promotion state", zap.Error(&finding))
			report.Repaired = append(report.Repaired, finding)
		}
	}

	log.Info("reconcile complete",
		zap.Int("checked", len(rows)),
		zap.Int("repaired", len(report.Repaired)),
		zap.Int("orphaned", len(report.Orphaned)),
	)
	return report, nil
}
