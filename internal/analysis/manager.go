// Package analysis manages analysis runs: binding a run to an experiment,
// ingesting its pairwise scores into the link store and retracting them.
package analysis

import (
	"cmp"
	"coexcore/internal/coexpression"
	"coexcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// LinkWriter is the part of the link store a run writes through.
type LinkWriter interface {
	UpsertLink(taxon domain.TaxonID, a, b domain.GeneID, delta float64) (coexpression.LinkHandle, error)
	RemoveContribution(taxon domain.TaxonID, a, b domain.GeneID, delta float64) error
}

// Auditor owns curation details and audit trails.
type Auditor interface {
	Register(details domain.CurationDetails, actor string) (domain.CurationDetails, error)
	RecordAuditEvent(ref domain.EntityRef, kind domain.AuditEventType, actor, note string) (domain.AuditEvent, error)
}

// Logger receives failures that do not fail the calling operation.
type Logger interface {
	Warn(msg string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// IngestResult describes a completed ingest.
type IngestResult struct {
	Run      domain.AnalysisRun
	Applied  int
	Reversed int
}

// Manager drives the run lifecycle. Operations on one run are serialized;
// different runs proceed in parallel.
type Manager struct {
	store  domain.PersistentStore
	links  LinkWriter
	genes  coexpression.GeneResolver
	audit  Auditor
	logger Logger
	now    func() time.Time
	locks  *keyedMutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger routes audit write failures to logger.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager wires a manager. audit may be nil.
func NewManager(store domain.PersistentStore, links LinkWriter, genes coexpression.GeneResolver, audit Auditor, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		links:  links,
		genes:  genes,
		audit:  audit,
		logger: nopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create binds a new run to experimentID. The binding never changes and the
// run starts with zero analysed elements.
func (m *Manager) Create(ctx context.Context, experimentID, actor string) (domain.AnalysisRun, error) {
	exp, ok := m.store.GetExperiment(experimentID)
	if !ok {
		return domain.AnalysisRun{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: experimentID}
	}
	run, details := domain.NewAnalysisRun(exp, m.now())
	var created domain.AnalysisRun
	if _, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateAnalysisRun(run)
		return err
	}); err != nil {
		return domain.AnalysisRun{}, err
	}
	if m.audit == nil {
		return created, nil
	}
	if _, err := m.audit.Register(details, actor); err != nil {
		_, rollbackErr := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteAnalysisRun(created.ID)
		})
		return domain.AnalysisRun{}, errors.Join(fmt.Errorf("register curation for run %s: %w", created.ID, err), rollbackErr)
	}
	return created, nil
}

// Ingest records a run's analysed elements and pair scores. Every element and
// every scored gene must resolve to the run's taxon. On any failure the link
// store is returned to its prior state. Ingesting an active run replaces its
// previous contributions.
func (m *Manager) Ingest(ctx context.Context, runID string, elements []domain.GeneID, scores []Score, actor string) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}
	release := m.locks.Lock(runID)
	defer release()

	run, ok := m.store.GetAnalysisRun(runID)
	if !ok {
		return IngestResult{}, domain.NotFoundError{Entity: domain.EntityAnalysisRun, ID: runID}
	}
	if run.Status == domain.RunStatusRetracted {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", runID, domain.ErrRunRetracted)
	}
	contributions, analysed, err := m.prepare(run, elements, scores)
	if err != nil {
		m.recordFailure(run, actor, err)
		return IngestResult{}, err
	}

	var previous []domain.LinkContribution
	if run.Active() {
		previous = run.Contributions
	}
	if err := m.reverse(run.TaxonID, previous); err != nil {
		m.recordFailure(run, actor, err)
		return IngestResult{}, err
	}
	if err := m.apply(run.TaxonID, contributions); err != nil {
		m.restore(run.TaxonID, previous)
		m.recordFailure(run, actor, err)
		return IngestResult{}, err
	}

	now := m.now()
	var updated domain.AnalysisRun
	_, err = m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateAnalysisRun(runID, func(r *domain.AnalysisRun) error {
			r.Contributions = contributions
			r.NumberOfElementsAnalyzed = analysed
			r.Status = domain.RunStatusActive
			r.IngestedAt = &now
			r.RetractedAt = nil
			return nil
		})
		return err
	})
	if err != nil {
		if undoErr := m.reverse(run.TaxonID, contributions); undoErr != nil {
			err = errors.Join(err, undoErr)
		}
		m.restore(run.TaxonID, previous)
		m.recordFailure(run, actor, err)
		return IngestResult{}, err
	}

	note := fmt.Sprintf("%d links from %d elements", len(contributions), analysed)
	m.record(run, domain.EventLinkAnalysis, actor, note)
	return IngestResult{Run: updated, Applied: len(contributions), Reversed: len(previous)}, nil
}

// Retract withdraws every contribution of the run and marks it retracted.
// Retracting a retracted run is a no-op.
func (m *Manager) Retract(ctx context.Context, runID, actor string) (domain.AnalysisRun, error) {
	if err := ctx.Err(); err != nil {
		return domain.AnalysisRun{}, err
	}
	release := m.locks.Lock(runID)
	defer release()

	run, ok := m.store.GetAnalysisRun(runID)
	if !ok {
		return domain.AnalysisRun{}, domain.NotFoundError{Entity: domain.EntityAnalysisRun, ID: runID}
	}
	if run.Status == domain.RunStatusRetracted {
		return run, nil
	}
	var owned []domain.LinkContribution
	if run.Active() {
		owned = run.Contributions
	}
	if err := m.reverse(run.TaxonID, owned); err != nil {
		return domain.AnalysisRun{}, err
	}

	now := m.now()
	var updated domain.AnalysisRun
	_, err := m.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateAnalysisRun(runID, func(r *domain.AnalysisRun) error {
			r.Status = domain.RunStatusRetracted
			r.RetractedAt = &now
			r.Contributions = nil
			return nil
		})
		return err
	})
	if err != nil {
		m.restore(run.TaxonID, owned)
		return domain.AnalysisRun{}, err
	}
	m.record(run, domain.EventLinkAnalysisRetracted, actor, fmt.Sprintf("%d links withdrawn", len(owned)))
	return updated, nil
}

// prepare validates input against the run before any write and returns the
// sorted contribution set plus the distinct element count. Scored genes count
// as analysed elements.
func (m *Manager) prepare(run domain.AnalysisRun, elements []domain.GeneID, scores []Score) ([]domain.LinkContribution, int, error) {
	distinct := make(map[domain.GeneID]struct{}, len(elements))
	for _, g := range elements {
		if g == "" {
			return nil, 0, fmt.Errorf("%w: empty element id", domain.ErrInvalidArgument)
		}
		distinct[g] = struct{}{}
	}
	contributions := make([]domain.LinkContribution, 0, len(scores))
	seen := make(map[domain.LinkKey]struct{}, len(scores))
	for _, s := range scores {
		key, err := domain.NewLinkKey(s.A, s.B)
		if err != nil {
			return nil, 0, err
		}
		if _, err := domain.ToScoreUnits(s.Value); err != nil {
			return nil, 0, err
		}
		if _, dup := seen[key]; dup {
			return nil, 0, fmt.Errorf("%w: pair %s scored twice", domain.ErrInvalidArgument, key)
		}
		seen[key] = struct{}{}
		distinct[key.A] = struct{}{}
		distinct[key.B] = struct{}{}
		contributions = append(contributions, domain.LinkContribution{Key: key, Delta: s.Value})
	}

	taxa := map[domain.TaxonID]struct{}{}
	for g := range distinct {
		taxon, ok := m.genes.TaxonOf(g)
		if !ok {
			return nil, 0, domain.NotFoundError{Entity: domain.EntityGene, ID: string(g)}
		}
		taxa[taxon] = struct{}{}
	}
	if _, own := taxa[run.TaxonID]; len(taxa) > 1 || (len(taxa) == 1 && !own) {
		taxa[run.TaxonID] = struct{}{}
		list := make([]domain.TaxonID, 0, len(taxa))
		for t := range taxa {
			list = append(list, t)
		}
		slices.Sort(list)
		return nil, 0, domain.TaxonConflictError{RunID: run.ID, Taxa: list}
	}

	slices.SortFunc(contributions, func(x, y domain.LinkContribution) int {
		if c := cmp.Compare(x.Key.A, y.Key.A); c != 0 {
			return c
		}
		return cmp.Compare(x.Key.B, y.Key.B)
	})
	return contributions, len(distinct), nil
}

// apply upserts contributions in order. On failure it removes what it wrote.
func (m *Manager) apply(taxon domain.TaxonID, contributions []domain.LinkContribution) error {
	for i, c := range contributions {
		if _, err := m.links.UpsertLink(taxon, c.Key.A, c.Key.B, c.Delta); err != nil {
			m.undoApply(taxon, contributions[:i])
			return fmt.Errorf("upsert %s: %w", c.Key, err)
		}
	}
	return nil
}

// reverse removes contributions in order. On failure it re-adds what it
// removed.
func (m *Manager) reverse(taxon domain.TaxonID, contributions []domain.LinkContribution) error {
	for i, c := range contributions {
		if err := m.links.RemoveContribution(taxon, c.Key.A, c.Key.B, c.Delta); err != nil {
			m.restore(taxon, contributions[:i])
			return fmt.Errorf("remove %s: %w", c.Key, err)
		}
	}
	return nil
}

func (m *Manager) undoApply(taxon domain.TaxonID, contributions []domain.LinkContribution) {
	for _, c := range contributions {
		if err := m.links.RemoveContribution(taxon, c.Key.A, c.Key.B, c.Delta); err != nil {
			m.logger.Warn("compensating removal failed", "link", c.Key.String(), "taxon", taxon, "error", err)
		}
	}
}

func (m *Manager) restore(taxon domain.TaxonID, contributions []domain.LinkContribution) {
	for _, c := range contributions {
		if _, err := m.links.UpsertLink(taxon, c.Key.A, c.Key.B, c.Delta); err != nil {
			m.logger.Warn("compensating upsert failed", "link", c.Key.String(), "taxon", taxon, "error", err)
		}
	}
}

// record writes kind on the run and its experiment.
func (m *Manager) record(run domain.AnalysisRun, kind domain.AuditEventType, actor, note string) {
	if m.audit == nil {
		return
	}
	refs := []domain.EntityRef{
		{Type: domain.EntityAnalysisRun, ID: run.ID},
		{Type: domain.EntityExperiment, ID: run.ExperimentID},
	}
	for _, ref := range refs {
		if _, err := m.audit.RecordAuditEvent(ref, kind, actor, note); err != nil {
			m.logger.Warn("audit event not recorded", "entity", ref.String(), "type", string(kind), "error", err)
		}
	}
}

func (m *Manager) recordFailure(run domain.AnalysisRun, actor string, cause error) {
	m.record(run, domain.EventFailedLinkAnalysis, actor, cause.Error())
}
