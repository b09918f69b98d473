// Package inventory coordinates versioned reads and writes of tracked components.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/comptrack/internal/auth"
	"github.com/rpattn/comptrack/internal/backup"
	"github.com/rpattn/comptrack/internal/dashboard"
	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/metrics"
	"github.com/rpattn/comptrack/internal/repository"
)

const defaultSystemActor = "system"

// consistentReadAttempts bounds how often Get re-reads a row that raced with an update.
const consistentReadAttempts = 3

// ComponentWithHistory is a component together with its history ascending by version.
type ComponentWithHistory struct {
	domain.Component
	History []domain.HistoryEntry `json:"history"`
}

// Service is the versioned update coordinator. All writes go through one store unit of work.
type Service struct {
	store   repository.ComponentStore
	rules   domain.FieldRules
	clock   func() time.Time
	newID   func() string
	actor   string
	log     *slog.Logger
	metrics *metrics.Recorder
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithSystemActor sets the updatedBy value used when the context carries no actor.
func WithSystemActor(actor string) Option {
	return func(s *Service) {
		if actor != "" {
			s.actor = actor
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// NewService creates a coordinator over store.
func NewService(store repository.ComponentStore, rules domain.FieldRules, opts ...Option) *Service {
	s := &Service{
		store: store,
		rules: rules,
		clock: time.Now,
		newID: uuid.NewString,
		actor: defaultSystemActor,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the field rules in force.
func (s *Service) Rules() domain.FieldRules { return s.rules }

// now is truncated to microseconds, the finest precision every store keeps.
func (s *Service) now() time.Time {
	return s.clock().Truncate(time.Microsecond)
}

func (s *Service) actorFor(ctx context.Context) string {
	return auth.ActorOrDefault(ctx, s.actor)
}

// Create stores a new component as version 1 of its history.
func (s *Service) Create(ctx context.Context, fields map[string]any) (domain.Component, error) {
	now := s.now()
	component, err := domain.NewComponent(s.newID(), fields, s.rules, now)
	if err != nil {
		s.log.InfoContext(ctx, "component create rejected", "error", err)
		return domain.Component{}, err
	}

	entry := domain.HistoryEntry{
		ComponentID: component.ID,
		Version:     1,
		Timestamp:   now,
		UpdatedBy:   s.actorFor(ctx),
		Changes:     domain.CreatedRecord(),
		FullState:   component,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		if err := tx.Put(ctx, component); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "component create failed", "id", component.ID, "error", err)
		return domain.Component{}, fmt.Errorf("create component: %w", err)
	}

	s.metrics.ComponentCreated()
	s.log.InfoContext(ctx, "component created", "id", component.ID, "serial_number", component.SerialNumber, "updated_by", entry.UpdatedBy)
	return component, nil
}

// Update applies a partial update to id. Fields equal to the stored value after normalisation
// are ignored; if nothing changes the current state is returned and nothing is written.
func (s *Service) Update(ctx context.Context, id string, proposed map[string]any) (domain.Component, error) {
	start := time.Now()
	actor := s.actorFor(ctx)

	var (
		result  domain.Component
		changes domain.ChangeSet
		version int
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.ComponentTx) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		var next domain.Component
		changes, next, err = domain.ComputeChangeSet(current, proposed, s.rules)
		if err != nil {
			return err
		}
		if changes.IsEmpty() {
			result = current
			return nil
		}

		record, err := domain.UpdatedRecord(changes)
		if err != nil {
			return err
		}
		next.UpdateDate = s.now()
		if err := tx.Put(ctx, next); err != nil {
			return err
		}
		maxVersion, err := tx.MaxVersion(ctx, id)
		if err != nil {
			return err
		}
		version = maxVersion + 1
		if err := tx.AppendHistory(ctx, domain.HistoryEntry{
			ComponentID: id,
			Version:     version,
			Timestamp:   next.UpdateDate,
			UpdatedBy:   actor,
			Changes:     record,
			FullState:   next,
		}); err != nil {
			return err
		}
		result = next
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		outcome := outcomeOf(err)
		s.metrics.UpdateFinished(outcome, elapsed)
		s.logFailure(ctx, "component update failed", err, "id", id, "outcome", outcome)
		return domain.Component{}, fmt.Errorf("update component %s: %w", id, err)
	}

	if changes.IsEmpty() {
		s.metrics.UpdateFinished(metrics.OutcomeNoop, elapsed)
		s.log.DebugContext(ctx, "component update was a no-op", "id", id)
		return result, nil
	}
	s.metrics.UpdateFinished(metrics.OutcomeUpdated, elapsed)
	s.log.InfoContext(ctx, "component updated", "id", id, "version", version, "fields", changes.Fields(), "updated_by", actor)
	return result, nil
}

// Get returns a component with its full history.
func (s *Service) Get(ctx context.Context, id string) (ComponentWithHistory, error) {
	var (
		component domain.Component
		history   []domain.HistoryEntry
		err       error
	)
	for attempt := 0; attempt < consistentReadAttempts; attempt++ {
		component, err = s.store.Get(ctx, id)
		if err != nil {
			return ComponentWithHistory{}, err
		}
		history, err = s.store.ListHistory(ctx, id)
		if err != nil {
			return ComponentWithHistory{}, err
		}
		// an update committed between the two reads leaves history ahead of the row
		if len(history) == 0 || history[len(history)-1].FullState.Equal(component) {
			return ComponentWithHistory{Component: component, History: history}, nil
		}
	}
	s.log.WarnContext(ctx, "component row and history disagree after re-reads",
		"id", id,
		"attempts", consistentReadAttempts,
		"history_version", history[len(history)-1].Version,
	)
	return ComponentWithHistory{}, fmt.Errorf("%w: component %s changed while being read", domain.ErrConflict, id)
}

// List returns the current components matching filter, most recently updated first.
func (s *Service) List(ctx context.Context, filter domain.ComponentFilter) ([]domain.Component, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Component, 0, len(all))
	for _, c := range all {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	SortByRecency(out)
	return out, nil
}

// SortByRecency orders components by updateDate descending, then id.
func SortByRecency(components []domain.Component) {
	sort.SliceStable(components, func(i, j int) bool {
		a, b := components[i], components[j]
		if !a.UpdateDate.Equal(b.UpdateDate) {
			return a.UpdateDate.After(b.UpdateDate)
		}
		return a.ID < b.ID
	})
}

// HistoryByIDs loads the histories of several components in one store call.
func (s *Service) HistoryByIDs(ctx context.Context, ids []string) (map[string][]domain.HistoryEntry, error) {
	return s.store.ListHistoryByComponentIDs(ctx, ids)
}

// HistoryAt returns the history entry, and so the full state, of id at version.
func (s *Service) HistoryAt(ctx context.Context, id string, version int) (domain.HistoryEntry, error) {
	if version < 1 {
		return domain.HistoryEntry{}, fmt.Errorf("component %s version %d: %w", id, version, domain.ErrNotFound)
	}
	return s.store.GetHistoryByVersion(ctx, id, version)
}

// DiffVersions renders a unified diff between the full states of two versions of id.
func (s *Service) DiffVersions(ctx context.Context, id string, from, to int) (string, error) {
	base, err := s.HistoryAt(ctx, id, from)
	if err != nil {
		return "", err
	}
	target, err := s.HistoryAt(ctx, id, to)
	if err != nil {
		return "", err
	}
	baseSnapshot := domain.NewComponentSnapshotFromHistory(base)
	targetSnapshot := domain.NewComponentSnapshotFromHistory(target)
	return domain.DiffComponentSnapshots(
		fmt.Sprintf("%s@v%d", id, from), &baseSnapshot,
		fmt.Sprintf("%s@v%d", id, to), &targetSnapshot,
	), nil
}

// Summary computes the dashboard KPIs over the current snapshot.
func (s *Service) Summary(ctx context.Context) (dashboard.KPIs, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return dashboard.KPIs{}, err
	}
	kpis := dashboard.Compute(all, s.rules.Types)
	s.metrics.SetStatusCounts(kpis.StatusCounts())
	return kpis, nil
}

// ExportBackup snapshots every component with its history.
func (s *Service) ExportBackup(ctx context.Context) (backup.Document, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return backup.Document{}, err
	}
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	histories, err := s.store.ListHistoryByComponentIDs(ctx, ids)
	if err != nil {
		return backup.Document{}, err
	}

	records := make([]repository.ComponentRecord, 0, len(all))
	for _, c := range all {
		history := histories[c.ID]
		if len(history) > 0 {
			// history was read last, so its newest full state is the freshest committed row
			c = history[len(history)-1].FullState
		}
		records = append(records, repository.ComponentRecord{Component: c, History: history})
	}
	doc := backup.NewDocument(records, s.clock())
	s.log.InfoContext(ctx, "backup exported", "components", len(records))
	return doc, nil
}

// RestoreBackup replaces the whole store with doc after validating it.
func (s *Service) RestoreBackup(ctx context.Context, doc backup.Document) error {
	records, err := doc.Records(s.actorFor(ctx), s.now())
	if err != nil {
		s.log.InfoContext(ctx, "backup rejected", "error", err)
		return err
	}
	if err := s.store.ReplaceAll(ctx, records); err != nil {
		s.log.ErrorContext(ctx, "backup restore failed", "error", err)
		return fmt.Errorf("restore backup: %w", err)
	}
	s.metrics.RestoreCompleted()
	s.log.InfoContext(ctx, "backup restored", "components", len(records))
	return nil
}

func (s *Service) logFailure(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "error", err)
	switch {
	case errors.Is(err, domain.ErrStorage), domain.ErrorCode(err) == domain.CodeInternal:
		s.log.ErrorContext(ctx, msg, args...)
	case errors.Is(err, domain.ErrConflict):
		s.log.WarnContext(ctx, msg, args...)
	default:
		s.log.InfoContext(ctx, msg, args...)
	}
}

func outcomeOf(err error) string {
	switch domain.ErrorCode(err) {
	case domain.CodeNotFound:
		return metrics.OutcomeNotFound
	case domain.CodeValidation:
		return metrics.OutcomeValidation
	case domain.CodeConflict:
		return metrics.OutcomeConflict
	case domain.CodeStorageFailure:
		return metrics.OutcomeStorage
	}
	return metrics.OutcomeError
}
