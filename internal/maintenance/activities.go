package maintenance

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/promotion"
)

// Maintainer is the engine surface the activities drive.
type Maintainer interface {
	SweepPromotions(ctx context.Context) (*promotion.SweepResult, error)
	Reconcile(ctx context.Context) (*promotion.ReconcileReport, error)
}

// Activities wraps a Maintainer for registration on a worker.
type Activities struct {
	Engine Maintainer
}

// Sweep promotes every usage row at or over the threshold.
func (a *Activities) Sweep(ctx context.Context) (*promotion.SweepResult, error) {
	if a == nil || a.Engine == nil {
		return nil, eris.New("maintenance: activities not configured")
	}
	res, err := a.Engine.SweepPromotions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: sweep")
	}
	zap.L().Info("promotion sweep",
		zap.Int("evaluated", res.Evaluated),
		zap.Int("promoted", len(res.Promoted)),
	)
	return res, nil
}

// Reconcile repairs promoted usage rows that lack a vocabulary term.
func (a *Activities) Reconcile(ctx context.Context) (*promotion.ReconcileReport, error) {
	if a == nil || a.Engine == nil {
		return nil, eris.New("maintenance: activities not configured")
	}
	report, err := a.Engine.Reconcile(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: reconcile")
	}
	return report, nil
}
