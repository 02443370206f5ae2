package core

import (
	"coexcore/internal/analysis"
	"coexcore/internal/coexpression"
	"coexcore/internal/curation"
	"coexcore/internal/evidence"
	"coexcore/internal/infra/persistence/memory"
	"coexcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
)

// Service is the entry point for catalog writes, analysis ingest, curation
// and filtered queries.
type Service struct {
	store    Backend
	links    *coexpression.Store
	curation *curation.Registry
	runs     *analysis.Manager
	gate     *evidence.Gate

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
}

// NewService constructs a service backed by the supplied store.
func NewService(store Backend, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		store:   store,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		clock:   o.clock,
		gate:    evidence.NewGate(o.access),
	}
	s.links = coexpression.NewStore(coexpression.ResolverFunc(s.taxonOf))
	s.curation = curation.NewRegistry(curation.WithClock(o.clock.Now))
	s.runs = analysis.NewManager(store, s.links, coexpression.ResolverFunc(s.taxonOf), s.curation,
		analysis.WithClock(o.clock.Now), analysis.WithLogger(o.logger))
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

func (s *Service) taxonOf(g domain.GeneID) (domain.TaxonID, bool) {
	gene, ok := s.store.GetGene(g)
	return gene.TaxonID, ok
}

// Store returns the underlying storage implementation.
func (s *Service) Store() Backend { return s.store }

// Links exposes the link store for read-only helpers such as exports.
func (s *Service) Links() *coexpression.Store { return s.links }

// Curation exposes the registry for audit queries.
func (s *Service) Curation() *curation.Registry { return s.curation }

// CreateTaxon registers reference taxon data.
func (s *Service) CreateTaxon(ctx context.Context, taxon Taxon) (Taxon, Result, error) {
	var created Taxon
	var res Result
	err := s.observe(ctx, "create_taxon", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateTaxon(taxon)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateGene registers a gene under its taxon.
func (s *Service) CreateGene(ctx context.Context, gene Gene) (Gene, Result, error) {
	var created Gene
	var res Result
	err := s.observe(ctx, "create_gene", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateGene(gene)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateExperiment persists a new experiment and registers its curation
// details.
func (s *Service) CreateExperiment(ctx context.Context, shortName, name string, taxon TaxonID, actor string) (Experiment, CurationDetails, error) {
	var (
		created Experiment
		details CurationDetails
	)
	err := s.observe(ctx, "create_experiment", func(ctx context.Context) error {
		exp, initial := domain.NewExperiment(shortName, name, taxon, s.clock.Now())
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateExperiment(exp)
			return err
		}); err != nil {
			return err
		}
		var err error
		details, err = s.curation.Register(initial, actor)
		if err != nil {
			_, rollbackErr := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				return tx.DeleteExperiment(created.ID)
			})
			return errors.Join(err, rollbackErr)
		}
		return nil
	})
	return created, details, err
}

// DeleteExperiment removes an experiment without runs, with its curation.
func (s *Service) DeleteExperiment(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.observe(ctx, "delete_experiment", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteExperiment(id)
		})
		if err == nil {
			s.curation.Remove(EntityRef{Type: EntityExperiment, ID: id})
		}
		return err
	})
	return res, err
}

// CreateAnalysisRun binds a new run to an experiment.
func (s *Service) CreateAnalysisRun(ctx context.Context, experimentID, actor string) (AnalysisRun, error) {
	var run AnalysisRun
	err := s.observe(ctx, "create_analysis_run", func(ctx context.Context) error {
		var err error
		run, err = s.runs.Create(ctx, experimentID, actor)
		return err
	})
	return run, err
}

// IngestAnalysis loads a run's analysed elements and pair scores.
func (s *Service) IngestAnalysis(ctx context.Context, runID string, elements []GeneID, scores []analysis.Score, actor string) (analysis.IngestResult, error) {
	var res analysis.IngestResult
	err := s.observe(ctx, "ingest_analysis", func(ctx context.Context) error {
		var err error
		res, err = s.runs.Ingest(ctx, runID, elements, scores, actor)
		return err
	})
	if err == nil {
		s.logger.Info("analysis ingested", "run", runID, "links", res.Applied, "elements", res.Run.NumberOfElementsAnalyzed)
	}
	return res, err
}

// RetractAnalysis withdraws a run's contributions.
func (s *Service) RetractAnalysis(ctx context.Context, runID, actor string) (AnalysisRun, error) {
	var run AnalysisRun
	err := s.observe(ctx, "retract_analysis", func(ctx context.Context) error {
		var err error
		run, err = s.runs.Retract(ctx, runID, actor)
		return err
	})
	return run, err
}

// DeleteAnalysisRun removes an inactive run with no evidence, with its
// curation.
func (s *Service) DeleteAnalysisRun(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.observe(ctx, "delete_analysis_run", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteAnalysisRun(id)
		})
		if err == nil {
			s.curation.Remove(EntityRef{Type: EntityAnalysisRun, ID: id})
		}
		return err
	})
	return res, err
}

// RunPipeline normalizes, correlates and ingests a batch of runs.
func (s *Service) RunPipeline(ctx context.Context, normalizer analysis.Normalizer, jobs []analysis.Job, opts ...analysis.PipelineOption) ([]analysis.IngestResult, error) {
	var results []analysis.IngestResult
	err := s.observe(ctx, "run_pipeline", func(ctx context.Context) error {
		var err error
		results, err = analysis.NewPipeline(s.runs, normalizer, opts...).Run(ctx, jobs)
		return err
	})
	return results, err
}

// RecordEvidence stores a phenotype evidence record.
func (s *Service) RecordEvidence(ctx context.Context, ev Evidence) (Evidence, Result, error) {
	var created Evidence
	var res Result
	err := s.observe(ctx, "record_evidence", func(ctx context.Context) error {
		if ev.Kind == "" {
			ev.Kind = domain.EvidencePhenotypeAssociation
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateEvidence(ev)
			return err
		})
		return err
	})
	return created, res, err
}

// QueryNeighbors yields the links of gene within taxon. Unknown genes and
// taxa produce an empty sequence.
func (s *Service) QueryNeighbors(taxon TaxonID, gene GeneID, minSupport int) iter.Seq[CoexpressionLink] {
	return s.links.QueryNeighbors(taxon, gene, minSupport)
}

// Neighbors is the instrumented, materialized form of QueryNeighbors.
func (s *Service) Neighbors(ctx context.Context, taxon TaxonID, gene GeneID, minSupport int) ([]CoexpressionLink, error) {
	var out []CoexpressionLink
	err := s.observe(ctx, "query_neighbors", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out = s.links.Neighbors(taxon, gene, minSupport)
		return nil
	})
	return out, err
}

// Lookup returns the link for a gene pair in taxon.
func (s *Service) Lookup(taxon TaxonID, a, b GeneID) (CoexpressionLink, bool) {
	return s.links.Lookup(taxon, a, b)
}

// LinkCounts reports live links per taxon.
func (s *Service) LinkCounts() map[TaxonID]int {
	return s.links.Stats()
}

// TaxonIDs lists every registered taxon in ascending order.
func (s *Service) TaxonIDs(ctx context.Context) ([]TaxonID, error) {
	var ids []TaxonID
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, t := range v.ListTaxa() {
			ids = append(ids, t.ID)
		}
		return nil
	})
	slices.Sort(ids)
	return ids, err
}

// QueryEvidence returns stored evidence that passes f for actor.
func (s *Service) QueryEvidence(ctx context.Context, f evidence.Filter, actor string) ([]Evidence, error) {
	var out []Evidence
	err := s.observe(ctx, "query_evidence", func(ctx context.Context) error {
		var err error
		out, err = s.gate.Apply(ctx, f, actor, s.store.ListEvidence())
		return err
	})
	return out, err
}

// CurationDetails returns the curation state of ref.
func (s *Service) CurationDetails(ref EntityRef) (CurationDetails, bool) {
	return s.curation.Details(ref)
}

// AuditTrail returns the events of ref in insertion order.
func (s *Service) AuditTrail(ref EntityRef) []AuditEvent {
	return s.curation.Events(ref)
}

// Transition changes the curation status of ref.
func (s *Service) Transition(ctx context.Context, ref EntityRef, to CurationStatus, actor, note string) (AuditEvent, error) {
	var event AuditEvent
	err := s.observe(ctx, "curation_transition", func(context.Context) error {
		var err error
		event, err = s.curation.Transition(ref, to, actor, note)
		return err
	})
	return event, err
}

// UpdateCurationNote replaces the curation note of ref.
func (s *Service) UpdateCurationNote(ctx context.Context, ref EntityRef, actor, note string) (AuditEvent, error) {
	var event AuditEvent
	err := s.observe(ctx, "curation_note", func(context.Context) error {
		var err error
		event, err = s.curation.UpdateNote(ref, actor, note)
		return err
	})
	return event, err
}

// RecordAuditEvent appends a non-curation event to ref's trail.
func (s *Service) RecordAuditEvent(ctx context.Context, ref EntityRef, kind AuditEventType, actor, note string) (AuditEvent, error) {
	var event AuditEvent
	err := s.observe(ctx, "record_audit_event", func(context.Context) error {
		var err error
		event, err = s.curation.RecordAuditEvent(ref, kind, actor, note)
		return err
	})
	return event, err
}

// Checkpoint saves links and curation state into the backend's buckets.
func (s *Service) Checkpoint(ctx context.Context) error {
	return s.observe(ctx, "checkpoint", func(ctx context.Context) error {
		if err := s.links.Save(ctx, s.store); err != nil {
			return fmt.Errorf("checkpoint links: %w", err)
		}
		if err := s.curation.Save(ctx, s.store); err != nil {
			return fmt.Errorf("checkpoint curation: %w", err)
		}
		return nil
	})
}

// Restore reloads links and curation state saved by Checkpoint. Links that
// disagree with the committed analysis runs are rebuilt from the runs.
func (s *Service) Restore(ctx context.Context) error {
	return s.observe(ctx, "restore", func(ctx context.Context) error {
		if err := s.links.Load(ctx, s.store); err != nil {
			return fmt.Errorf("restore links: %w", err)
		}
		if err := s.reconcileLinks(); err != nil {
			return fmt.Errorf("reconcile links: %w", err)
		}
		if err := s.curation.Load(ctx, s.store); err != nil {
			return fmt.Errorf("restore curation: %w", err)
		}
		return nil
	})
}

// reconcileLinks replaces the link store with the sum of active run
// contributions when the two differ.
func (s *Service) reconcileLinks() error {
	rebuilt := coexpression.NewStore(coexpression.ResolverFunc(s.taxonOf))
	for _, run := range s.store.ListAnalysisRuns() {
		if !run.Active() {
			continue
		}
		for _, c := range run.Contributions {
			if _, err := rebuilt.UpsertLink(run.TaxonID, c.Key.A, c.Key.B, c.Delta); err != nil {
				return fmt.Errorf("run %s %s: %w", run.ID, c.Key, err)
			}
		}
	}
	want := rebuilt.Export()
	if slices.Equal(want.Links, s.links.Export().Links) {
		return nil
	}
	s.logger.Warn("link checkpoint out of date; rebuilt from analysis runs", "links", len(want.Links))
	return s.links.Import(want)
}
