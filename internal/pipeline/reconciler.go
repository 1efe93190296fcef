package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnboos/job-graph/internal/domain"
)

// RecordStore is the part of the durable store the reconciler needs.
// CreateOrGet must be atomic with respect to the identity lookup.
type RecordStore interface {
	FindByIdentity(ctx context.Context, id domain.Identity) (*domain.JobRecord, error)
	CreateOrGet(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, bool, error)
	Save(ctx context.Context, rec *domain.JobRecord) error
}

// Reconciler merges normalized items into the canonical record set.
type Reconciler struct {
	store  RecordStore
	logger *slog.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(store RecordStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile creates the record for item's identity or, when it already
// exists, appends item's source URL and refreshes it. Existing field values
// are never overwritten. The boolean reports whether a record was created.
func (r *Reconciler) Reconcile(ctx context.Context, item *NormalizedItem) (*domain.JobRecord, bool, error) {
	rec, err := r.store.FindByIdentity(ctx, item.Identity())
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up record: %w", err)
	}

	if rec == nil {
		initial, err := item.NewRecord()
		if err != nil {
			return nil, false, err
		}

		var created bool
		rec, created, err = r.store.CreateOrGet(ctx, initial)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create record: %w", err)
		}
		if created {
			return rec, true, nil
		}
		// lost the race to a concurrent writer; fall through and merge
	}

	if rec.AddSourceURL(item.SourceURL) {
		r.logger.Debug("Appending source URL",
			slog.Int64("record_id", rec.ID),
			slog.String("url", item.SourceURL),
		)
	}

	if err := r.store.Save(ctx, rec); err != nil {
		return nil, false, fmt.Errorf("failed to save record: %w", err)
	}
	return rec, false, nil
}
