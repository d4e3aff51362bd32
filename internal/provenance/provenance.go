// Package provenance writes and reads the append-only log of metadata
// field mutations.
package provenance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxonomy-cli/internal/model"
	"github.com/sells-group/taxonomy-cli/internal/store"
)

// Paging bounds for Query.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Input errors. Callers surface these as validation failures.
var (
	ErrMissingEntity = errors.New("provenance: entity id is required")
	ErrMissingField  = errors.New("provenance: field name is required")
	ErrMissingActor  = errors.New("provenance: actor is required")
	ErrInvalidPage   = errors.New("provenance: page must be >= 1")
)

// Log appends one event through tx. It must run inside the transaction that
// writes the field value so that the two commit or roll back together.
func Log(ctx context.Context, tx store.Tx, ev model.ProvenanceEvent) (*model.ProvenanceEvent, error) {
	ev.EntityID = strings.TrimSpace(ev.EntityID)
	ev.FieldName = strings.TrimSpace(ev.FieldName)
	ev.Actor = strings.TrimSpace(ev.Actor)
	switch {
	case ev.EntityID == "":
		return nil, ErrMissingEntity
	case ev.FieldName == "":
		return nil, ErrMissingField
	case ev.Actor == "":
		return nil, ErrMissingActor
	}
	if err := ev.NewValue.Validate(); err != nil {
		return nil, err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	out, err := tx.AppendProvenance(ctx, ev)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: log")
	}
	return out, nil
}

// Source is the read side of the provenance store.
type Source interface {
	QueryProvenance(ctx context.Context, filter model.ProvenanceFilter) ([]model.ProvenanceEvent, error)
	CountProvenance(ctx context.Context, filter model.ProvenanceFilter) (int, error)
	LatestProvenance(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error)
}

// Page is one page of events, newest first.
type Page struct {
	Events   []model.ProvenanceEvent `json:"events"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	Total    int                     `json:"total"`
	HasMore  bool                    `json:"has_more"`
}

// Reader answers provenance queries.
type Reader struct {
	src Source
}

// NewReader creates a Reader over src.
func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// Query returns one page of events matching filter, newest first. page is
// 1-based; pageSize defaults to DefaultPageSize and is capped at MaxPageSize.
// Limit, Offset and Ascending on filter are ignored.
func (r *Reader) Query(ctx context.Context, filter model.ProvenanceFilter, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}
	pageSize = ClampPageSize(pageSize)

	filter.Ascending = false
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	events, err := r.src.QueryProvenance(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: query")
	}
	total, err := r.src.CountProvenance(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "provenance: count")
	}
	if events == nil {
		events = []model.ProvenanceEvent{}
	}
	return &Page{
		Events:   events,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  filter.Offset+len(events) < total,
	}, nil
}

// Latest returns the newest event for (entityID, fieldName), or nil.
func (r *Reader) Latest(ctx context.Context, entityID, fieldName string) (*model.ProvenanceEvent, error) {
	if entityID == "" {
		return nil, ErrMissingEntity
	}
	if fieldName == "" {
		return nil, ErrMissingField
	}
	ev, err := r.src.LatestProvenance(ctx, entityID, fieldName)
	return ev, eris.Wrap(err, "provenance: latest")
}

// History returns every event for (entityID, fieldName), oldest first.
func (r *Reader) History(ctx context.Context, entityID, fieldName string) ([]model.ProvenanceEvent, error) {
	if entityID == "" {
		return nil, ErrMissingEntity
	}
	events, err := r.src.QueryProvenance(ctx, model.ProvenanceFilter{
		EntityID:  entityID,
		FieldName: fieldName,
		Ascending: true,
	})
	return events, eris.Wrap(err, "provenance: history")
}

// ClampPageSize applies the default and maximum page sizes.
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}
