package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/metrics"
	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/provenance"
	"github.com/sells-group/taxonomy-cli/internal/resilience"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// EditRequest is one metadata field submission.
type EditRequest struct {
	EntityID  string           `json:"entity_id"`
	FieldName string           `json:"field_name"`
	Value     model.FieldValue `json:"value"`
	Actor     string           `json:"actor"`
	Context   string           `json:"context,omitempty"`
}

// EditResult reports what SubmitMetadataEdit stored.
type EditResult struct {
	Stored          model.FieldValue       `json:"stored_value"`
	Classifications []model.Classification `json:"classifications"`
	Promoted        []model.CanonicalTerm  `json:"promoted,omitempty"`
	Event           *model.ProvenanceEvent `json:"event"`
}

// SubmitMetadataEdit normalizes a field value, tracks novel vocabulary
// values, promotes values that reach the threshold, stores the field and
// appends a provenance event. Everything after validation happens in one
// transaction, retried when it loses a write race.
func (s *Service) SubmitMetadataEdit(ctx context.Context, req EditRequest) (*EditResult, error) {
	start := time.Now()
	defer func() { metrics.EditDuration.Observe(time.Since(start).Seconds()) }()

	spec, value, err := s.validateEdit(req)
	if err != nil {
		metrics.EditsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		return nil, err
	}
	req.Value = value

	res, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*EditResult, error) {
		return s.applyEdit(ctx, spec, req)
	})
	if err != nil {
		err = conflictError(err)
		switch {
		case IsValidation(err):
			metrics.EditsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		case IsConflict(err):
			metrics.EditsRejected.WithLabelValues(metrics.ReasonConflict).Inc()
		default:
			metrics.EditsRejected.WithLabelValues(metrics.ReasonError).Inc()
		}
		return nil, err
	}

	metrics.EditsApplied.Inc()
	for _, c := range res.Classifications {
		metrics.Classifications.WithLabelValues(string(c.Category), string(c.Status)).Inc()
		if c.NearMiss {
			metrics.NearMisses.WithLabelValues(string(c.Category)).Inc()
		}
	}
	if len(res.Promoted) > 0 {
		for _, t := range res.Promoted {
			metrics.Promotions.WithLabelValues(string(t.Category)).Inc()
		}
		s.snapshots.Invalidate()
	}
	s.graph.Invalidate(ctx)

	s.log().Debug("metadata edit applied",
		zap.String("entity_id", req.EntityID),
		zap.String("field", req.FieldName),
		zap.String("actor", req.Actor),
		zap.Int64("event_id", res.Event.ID),
	)
	return res, nil
}

// validateEdit checks the request shape and returns the field spec and the
// value coerced to the field's kind.
func (s *Service) validateEdit(req EditRequest) (*model.FieldSpec, model.FieldValue, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, model.FieldValue{}, invalid("entity_id", "is required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, model.FieldValue{}, invalid("actor", "is required")
	}
	spec := s.fields.ByName(req.FieldName)
	if spec == nil {
		return nil, model.FieldValue{}, invalid("field_name", "unknown field %q", req.FieldName)
	}

	v := req.Value
	if err := v.Validate(); err != nil {
		return nil, model.FieldValue{}, invalid(spec.Name, "%v", err)
	}
	// A lone string is accepted for array fields.
	if spec.Kind == model.KindStringArray && v.Kind == model.KindString {
		v = model.List(v.Text)
	}
	if v.Kind != spec.Kind {
		return nil, model.FieldValue{}, invalid(spec.Name, "expects %s, got %s", spec.Kind, v.Kind)
	}

	switch v.Kind {
	case model.KindString:
		text := strings.TrimSpace(v.Text)
		if text == "" {
			return nil, model.FieldValue{}, invalid(spec.Name, "value is empty")
		}
		limit := s.maxText
		if spec.Normalized() {
			limit = s.maxValue
		}
		if n := utf8.RuneCountInString(text); n > limit {
			return nil, model.FieldValue{}, invalid(spec.Name, "value has %d characters, limit is %d", n, limit)
		}
	case model.KindStringArray:
		if len(v.List) == 0 {
			return nil, model.FieldValue{}, invalid(spec.Name, "value is empty")
		}
		for _, item := range v.List {
			if err := s.checkValue(spec.Name, item); err != nil {
				return nil, model.FieldValue{}, err
			}
		}
	}
	return spec, v, nil
}

// classify normalizes every element of a taxonomy-backed value. Elements
// that normalize to the same folded value are stored once.
func (s *Service) classify(ctx context.Context, spec *model.FieldSpec, v model.FieldValue) (model.FieldValue, []model.Classification, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return model.FieldValue{}, nil, err
	}

	inputs := v.Strings()
	classes := make([]model.Classification, 0, len(inputs))
	stored := make([]string, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, raw := range inputs {
		c, err := s.normalizer.Normalize(snap, spec.Category, raw)
		if err != nil {
			return model.FieldValue{}, nil, asValidation(spec.Name, err)
		}
		classes = append(classes, c)
		key := model.Fold(c.Stored)
		if !seen[key] {
			seen[key] = true
			stored = append(stored, c.Stored)
		}
	}

	if v.Kind == model.KindString {
		return model.Text(stored[0]), classes, nil
	}
	return model.List(stored...), classes, nil
}

func (s *Service) applyEdit(ctx context.Context, spec *model.FieldSpec, req EditRequest) (*EditResult, error) {
	res := &EditResult{Stored: req.Value, Classifications: []model.Classification{}}
	if spec.Normalized() {
		var err error
		res.Stored, res.Classifications, err = s.classify(ctx, spec, req.Value)
		if err != nil {
			return nil, err
		}
	} else if req.Value.Kind == model.KindString {
		res.Stored = model.Text(strings.TrimSpace(req.Value.Text))
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		project, err := tx.LockProject(ctx, req.EntityID)
		if err != nil {
			return err
		}
		if project == nil {
			return invalid("entity_id", "unknown project %q", req.EntityID)
		}

		old, err := tx.GetProjectField(ctx, req.EntityID, spec.Name)
		if err != nil {
			return err
		}

		tracked := make(map[string]bool)
		for _, c := range res.Classifications {
			if c.Status != model.MatchNovel {
				continue
			}
			key := model.Fold(c.Stored)
			if tracked[key] {
				continue
			}
			tracked[key] = true

			_, promo, err := s.tracker.Track(ctx, tx, store.UsageObservation{
				Category: c.Category,
				RawValue: c.Stored,
				Closest:  c.Nearest,
				Distance: c.Distance,
			})
			if err != nil {
				return err
			}
			if promo.Promoted && promo.Term != nil {
				res.Promoted = append(res.Promoted, *promo.Term)
			}
		}

		if err := tx.PutProjectField(ctx, model.ProjectField{
			ProjectID: req.EntityID,
			FieldName: spec.Name,
			Value:     res.Stored,
		}); err != nil {
			return err
		}

		ev := model.ProvenanceEvent{
			EntityID:  req.EntityID,
			FieldName: spec.Name,
			NewValue:  res.Stored,
			Actor:     req.Actor,
			Context:   req.Context,
		}
		if old != nil {
			ev.OldValue = &old.Value
		}
		if !req.Value.Equal(res.Stored) {
			raw := req.Value
			ev.RawValue = &raw
		}
		res.Event, err = provenance.Log(ctx, tx, ev)
		return asValidation(spec.Name, err)
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, eris.Wrap(err, "engine: submit metadata edit")
	}
	return res, nil
}
