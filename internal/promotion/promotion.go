// Package promotion counts novel vocabulary values and promotes those that
// reach the usage threshold into the canonical vocabulary.
package promotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// DefaultThreshold is the usage count at which a novel value is promoted.
const DefaultThreshold = 3

// Engine decides and applies promotions. Every method that takes a store.Tx
// expects the caller to own the surrounding transaction.
type Engine struct {
	threshold int
}

// NewEngine creates an Engine. A non-positive threshold uses DefaultThreshold.
func NewEngine(threshold int) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Threshold returns the effective promotion threshold.
func (e *Engine) Threshold() int {
	return e.threshold
}

// Eligible reports whether u should be promoted.
func (e *Engine) Eligible(u model.CustomFieldUsage) bool {
	return !u.Promoted && u.UsageCount >= e.threshold
}

// MaybePromote inserts u's value as a canonical term and flips its promoted
// flag when it is eligible. Both writes go through tx, so they commit or
// roll back together. Repeat calls for a promoted row are no-ops.
func (e *Engine) MaybePromote(ctx context.Context, tx store.Tx, u model.CustomFieldUsage) (model.PromotionResult, error) {
	if !e.Eligible(u) {
		return model.PromotionResult{}, nil
	}

	term, inserted, err := tx.InsertTerm(ctx, model.CanonicalTerm{
		Category:           u.Category,
		Value:              u.RawValue,
		IntroducedAt:       time.Now().UTC(),
		PromotedFromCustom: true,
	})
	if err != nil {
		return model.PromotionResult{}, eris.Wrapf(err, "promotion: insert term %s/%s", u.Category, u.RawValue)
	}

	flipped, err := tx.MarkPromoted(ctx, u.Category, u.RawValue)
	if err != nil {
		return model.PromotionResult{}, eris.Wrapf(err, "promotion: mark promoted %s/%s", u.Category, u.RawValue)
	}
	if !flipped {
		// A concurrent transaction promoted the row first.
		return model.PromotionResult{}, nil
	}

	zap.L().Info("promoted custom value",
		zap.String("category", string(u.Category)),
		zap.String("value", term.Value),
		zap.Int("usage_count", u.UsageCount),
		zap.Bool("term_inserted", inserted),
	)
	return model.PromotionResult{Promoted: true, Term: term}, nil
}

// Tracker records novel-value sightings.
type Tracker struct {
	engine *Engine
}

// NewTracker creates a Tracker that re-evaluates promotion after every sighting.
func NewTracker(engine *Engine) *Tracker {
	return &Tracker{engine: engine}
}

// Track counts one sighting of obs in a single atomic upsert, then runs
// MaybePromote for the row.
func (t *Tracker) Track(ctx context.Context, tx store.Tx, obs store.UsageObservation) (*model.CustomFieldUsage, model.PromotionResult, error) {
	if strings.TrimSpace(obs.RawValue) == "" {
		return nil, model.PromotionResult{}, eris.New("promotion: empty usage value")
	}
	if obs.SeenAt.IsZero() {
		obs.SeenAt = time.Now().UTC()
	}

	u, err := tx.IncrementUsage(ctx, obs)
	if err != nil {
		return nil, model.PromotionResult{}, eris.Wrap(err, "promotion: track")
	}

	res, err := t.engine.MaybePromote(ctx, tx, *u)
	if err != nil {
		return nil, model.PromotionResult{}, err
	}
	if res.Promoted {
		u.Promoted = true
	}
	return u, res, nil
}

// InconsistentState describes a usage row and vocabulary that disagree.
type InconsistentState struct {
	Category model.Category `json:"category"`
	Value    string         `json:"value"`
	Reason   string         `json:"reason"`
}

func (e *InconsistentState) Error() string {
	return fmt.Sprintf("inconsistent promotion state for %s/%s: %s", e.Category, e.Value, e.Reason)
}

// Inconsistency reasons.
const (
	ReasonMissingTerm  = "promoted usage row has no canonical term"
	ReasonMissingUsage = "promoted canonical term has no usage row"
	ReasonUnflagged    = "promoted canonical term has an unpromoted usage row"
)
