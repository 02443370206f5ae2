// Package memory provides an in-memory implementation of the catalog store
// used for tests and ephemeral environments.
package memory

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.StateBuckets    = (*Store)(nil)
)

type (
	// Taxon aliases domain.Taxon.
	Taxon = domain.Taxon
	// Gene aliases domain.Gene.
	Gene = domain.Gene
	// Experiment aliases domain.Experiment.
	Experiment = domain.Experiment
	// AnalysisRun aliases domain.AnalysisRun.
	AnalysisRun = domain.AnalysisRun
	// Evidence aliases domain.Evidence.
	Evidence = domain.Evidence
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	taxa        map[domain.TaxonID]Taxon
	genes       map[domain.GeneID]Gene
	experiments map[string]Experiment
	runs        map[string]AnalysisRun
	evidence    map[string]Evidence
}

// Snapshot captures a point-in-time clone of the catalog.
type Snapshot struct {
	Taxa        map[domain.TaxonID]Taxon `json:"taxa"`
	Genes       map[domain.GeneID]Gene   `json:"genes"`
	Experiments map[string]Experiment    `json:"experiments"`
	Runs        map[string]AnalysisRun   `json:"runs"`
	Evidence    map[string]Evidence      `json:"evidence"`
}

func newMemoryState() memoryState {
	return memoryState{
		taxa:        make(map[domain.TaxonID]Taxon),
		genes:       make(map[domain.GeneID]Gene),
		experiments: make(map[string]Experiment),
		runs:        make(map[string]AnalysisRun),
		evidence:    make(map[string]Evidence),
	}
}

// Runs carry their contribution slice by reference; every writer replaces the
// slice instead of editing it, so a shallow map copy is a safe clone.
func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.taxa {
		cloned.taxa[k] = v
	}
	for k, v := range s.genes {
		cloned.genes[k] = v
	}
	for k, v := range s.experiments {
		cloned.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.runs {
		cloned.runs[k] = v
	}
	for k, v := range s.evidence {
		cloned.evidence[k] = v
	}
	return cloned
}

func cloneExperiment(e Experiment) Experiment {
	if e.SubsetOf != nil {
		parent := *e.SubsetOf
		e.SubsetOf = &parent
	}
	return e
}

func cloneRun(r AnalysisRun) AnalysisRun {
	r.Contributions = append([]domain.LinkContribution(nil), r.Contributions...)
	if r.IngestedAt != nil {
		t := *r.IngestedAt
		r.IngestedAt = &t
	}
	if r.RetractedAt != nil {
		t := *r.RetractedAt
		r.RetractedAt = &t
	}
	return r
}

func snapshotFromState(state memoryState) Snapshot {
	c := state.clone()
	runs := make(map[string]AnalysisRun, len(c.runs))
	for k, v := range c.runs {
		runs[k] = cloneRun(v)
	}
	return Snapshot{Taxa: c.taxa, Genes: c.genes, Experiments: c.experiments, Runs: runs, Evidence: c.evidence}
}

func stateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Taxa {
		state.taxa[k] = v
	}
	for k, v := range s.Genes {
		state.genes[k] = v
	}
	for k, v := range s.Experiments {
		state.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.Runs {
		state.runs[k] = cloneRun(v)
	}
	for k, v := range s.Evidence {
		state.evidence[k] = v
	}
	return state
}

// Store provides an in-memory transactional catalog plus opaque state buckets.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	engine  *RulesEngine
	nowFn   func() time.Time
	bucketM sync.RWMutex
	buckets map[string][]byte
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:   newMemoryState(),
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
		buckets: make(map[string][]byte),
	}
}

// SetNowFunc overrides the clock used for timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SaveBucket stores a copy of payload under bucket.
func (s *Store) SaveBucket(_ context.Context, bucket string, payload []byte) error {
	if bucket == "" {
		return fmt.Errorf("%w: empty bucket name", domain.ErrInvalidArgument)
	}
	s.bucketM.Lock()
	defer s.bucketM.Unlock()
	s.buckets[bucket] = append([]byte(nil), payload...)
	return nil
}

// LoadBucket returns a copy of the payload saved under bucket.
func (s *Store) LoadBucket(_ context.Context, bucket string) ([]byte, bool, error) {
	s.bucketM.RLock()
	defer s.bucketM.RUnlock()
	payload, ok := s.buckets[bucket]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

// ExportBuckets returns a copy of every saved bucket.
func (s *Store) ExportBuckets() map[string][]byte {
	s.bucketM.RLock()
	defer s.bucketM.RUnlock()
	out := make(map[string][]byte, len(s.buckets))
	for k, v := range s.buckets {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) record(entity domain.EntityType, action domain.Action, before, after any) {
	change := Change{Entity: entity, Action: action}
	if before != nil {
		change.Before = domain.MustPayloadOf(before)
	}
	if after != nil {
		change.After = domain.MustPayloadOf(after)
	}
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindExperiment(id string) (Experiment, bool) {
	e, ok := tx.state.experiments[id]
	return cloneExperiment(e), ok
}

func (tx *transaction) FindAnalysisRun(id string) (AnalysisRun, bool) {
	r, ok := tx.state.runs[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneRun(r), true
}

func (tx *transaction) FindGene(id domain.GeneID) (Gene, bool) {
	g, ok := tx.state.genes[id]
	return g, ok
}

// CreateTaxon registers a taxon. Taxon ids are assigned externally.
func (tx *transaction) CreateTaxon(t Taxon) (Taxon, error) {
	if t.ID <= 0 {
		return Taxon{}, fmt.Errorf("%w: taxon id must be positive", domain.ErrInvalidArgument)
	}
	if _, exists := tx.state.taxa[t.ID]; exists {
		return Taxon{}, fmt.Errorf("taxon %d: %w", t.ID, domain.ErrAlreadyExists)
	}
	tx.state.taxa[t.ID] = t
	tx.record(domain.EntityTaxon, domain.ActionCreate, nil, t)
	return t, nil
}

// CreateGene registers a gene under an existing taxon.
func (tx *transaction) CreateGene(g Gene) (Gene, error) {
	if g.ID == "" {
		return Gene{}, fmt.Errorf("%w: gene id required", domain.ErrInvalidArgument)
	}
	if _, exists := tx.state.genes[g.ID]; exists {
		return Gene{}, fmt.Errorf("gene %s: %w", g.ID, domain.ErrAlreadyExists)
	}
	if _, ok := tx.state.taxa[g.TaxonID]; !ok {
		return Gene{}, domain.NotFoundError{Entity: domain.EntityTaxon, ID: fmt.Sprint(g.TaxonID)}
	}
	tx.state.genes[g.ID] = g
	tx.record(domain.EntityGene, domain.ActionCreate, nil, g)
	return g, nil
}

// DeleteGene removes a gene that no evidence references and no active run
// contributes a link to.
func (tx *transaction) DeleteGene(id domain.GeneID) error {
	current, ok := tx.state.genes[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityGene, ID: string(id)}
	}
	for _, ev := range tx.state.evidence {
		if ev.GeneID == id {
			return fmt.Errorf("gene %s still referenced by evidence %s", id, ev.ID)
		}
	}
	for _, run := range tx.state.runs {
		if !run.Active() {
			continue
		}
		for _, c := range run.Contributions {
			if c.Key.A == id || c.Key.B == id {
				return fmt.Errorf("gene %s still linked by active analysis run %s", id, run.ID)
			}
		}
	}
	delete(tx.state.genes, id)
	tx.record(domain.EntityGene, domain.ActionDelete, current, nil)
	return nil
}

// CreateExperiment stores a new experiment.
func (tx *transaction) CreateExperiment(e Experiment) (Experiment, error) {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if _, exists := tx.state.experiments[e.ID]; exists {
		return Experiment{}, fmt.Errorf("experiment %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now
	}
	e.UpdatedAt = tx.now
	tx.state.experiments[e.ID] = cloneExperiment(e)
	tx.record(domain.EntityExperiment, domain.ActionCreate, nil, e)
	return cloneExperiment(e), nil
}

// UpdateExperiment mutates an experiment using the provided mutator function.
func (tx *transaction) UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error) {
	current, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
	}
	before := cloneExperiment(current)
	current = cloneExperiment(current)
	if err := mutator(&current); err != nil {
		return Experiment{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.experiments[id] = cloneExperiment(current)
	tx.record(domain.EntityExperiment, domain.ActionUpdate, before, current)
	return cloneExperiment(current), nil
}

// DeleteExperiment removes an experiment that has no analysis runs.
func (tx *transaction) DeleteExperiment(id string) error {
	current, ok := tx.state.experiments[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityExperiment, ID: id}
	}
	for _, run := range tx.state.runs {
		if run.ExperimentID == id {
			return fmt.Errorf("experiment %s still referenced by analysis run %s", id, run.ID)
		}
	}
	delete(tx.state.experiments, id)
	tx.record(domain.EntityExperiment, domain.ActionDelete, current, nil)
	return nil
}

// CreateAnalysisRun stores a new run.
func (tx *transaction) CreateAnalysisRun(r AnalysisRun) (AnalysisRun, error) {
	if r.ID == "" {
		r.ID = domain.NewID()
	}
	if _, exists := tx.state.runs[r.ID]; exists {
		return AnalysisRun{}, fmt.Errorf("analysis run %s: %w", r.ID, domain.ErrAlreadyExists)
	}
	if r.Status == "" {
		r.Status = domain.RunStatusCreated
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	r.UpdatedAt = tx.now
	r = cloneRun(r)
	tx.state.runs[r.ID] = r
	tx.record(domain.EntityAnalysisRun, domain.ActionCreate, nil, r)
	return cloneRun(r), nil
}

// UpdateAnalysisRun mutates a run using the provided mutator function.
func (tx *transaction) UpdateAnalysisRun(id string, mutator func(*AnalysisRun) error) (AnalysisRun, error) {
	current, ok := tx.state.runs[id]
	if !ok {
		return AnalysisRun{}, domain.NotFoundError{Entity: domain.EntityAnalysisRun, ID: id}
	}
	before := cloneRun(current)
	next := cloneRun(current)
	if err := mutator(&next); err != nil {
		return AnalysisRun{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.UpdatedAt = tx.now
	next = cloneRun(next)
	tx.state.runs[id] = next
	tx.record(domain.EntityAnalysisRun, domain.ActionUpdate, before, next)
	return cloneRun(next), nil
}

// DeleteAnalysisRun removes a run that is not active and owns no evidence.
func (tx *transaction) DeleteAnalysisRun(id string) error {
	current, ok := tx.state.runs[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityAnalysisRun, ID: id}
	}
	if current.Active() {
		return fmt.Errorf("analysis run %s is active; retract it first", id)
	}
	for _, ev := range tx.state.evidence {
		if ev.AnalysisRunID == id {
			return fmt.Errorf("analysis run %s still referenced by evidence %s", id, ev.ID)
		}
	}
	delete(tx.state.runs, id)
	tx.record(domain.EntityAnalysisRun, domain.ActionDelete, current, nil)
	return nil
}

// CreateEvidence stores a new evidence record.
func (tx *transaction) CreateEvidence(e Evidence) (Evidence, error) {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if _, exists := tx.state.evidence[e.ID]; exists {
		return Evidence{}, fmt.Errorf("evidence %s: %w", e.ID, domain.ErrAlreadyExists)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.evidence[e.ID] = e
	tx.record(domain.EntityEvidence, domain.ActionCreate, nil, e)
	return e, nil
}

// UpdateEvidence mutates an evidence record.
func (tx *transaction) UpdateEvidence(id string, mutator func(*Evidence) error) (Evidence, error) {
	current, ok := tx.state.evidence[id]
	if !ok {
		return Evidence{}, domain.NotFoundError{Entity: domain.EntityEvidence, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Evidence{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.evidence[id] = current
	tx.record(domain.EntityEvidence, domain.ActionUpdate, before, current)
	return current, nil
}

// DeleteEvidence removes an evidence record.
func (tx *transaction) DeleteEvidence(id string) error {
	current, ok := tx.state.evidence[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityEvidence, ID: id}
	}
	delete(tx.state.evidence, id)
	tx.record(domain.EntityEvidence, domain.ActionDelete, current, nil)
	return nil
}

// View helpers ---------------------------------------------------------------

func (v transactionView) FindTaxon(id domain.TaxonID) (Taxon, bool) {
	t, ok := v.state.taxa[id]
	return t, ok
}

func (v transactionView) FindGene(id domain.GeneID) (Gene, bool) {
	g, ok := v.state.genes[id]
	return g, ok
}

func (v transactionView) FindExperiment(id string) (Experiment, bool) {
	e, ok := v.state.experiments[id]
	return cloneExperiment(e), ok
}

func (v transactionView) FindAnalysisRun(id string) (AnalysisRun, bool) {
	r, ok := v.state.runs[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneRun(r), true
}

func (v transactionView) FindEvidence(id string) (Evidence, bool) {
	e, ok := v.state.evidence[id]
	return e, ok
}

func (v transactionView) ListTaxa() []Taxon {
	out := make([]Taxon, 0, len(v.state.taxa))
	for _, t := range v.state.taxa {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListGenes() []Gene {
	return listGenes(v.state)
}

func (v transactionView) ListExperiments() []Experiment {
	return listExperiments(v.state)
}

func (v transactionView) ListAnalysisRuns() []AnalysisRun {
	return listRuns(v.state)
}

func (v transactionView) ListEvidence() []Evidence {
	return listEvidence(v.state)
}

func listGenes(state *memoryState) []Gene {
	out := make([]Gene, 0, len(state.genes))
	for _, g := range state.genes {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listExperiments(state *memoryState) []Experiment {
	out := make([]Experiment, 0, len(state.experiments))
	for _, e := range state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listRuns(state *memoryState) []AnalysisRun {
	out := make([]AnalysisRun, 0, len(state.runs))
	for _, r := range state.runs {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listEvidence(state *memoryState) []Evidence {
	out := make([]Evidence, 0, len(state.evidence))
	for _, e := range state.evidence {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Read helpers ---------------------------------------------------------------

// GetGene retrieves a gene from committed state.
func (s *Store) GetGene(id domain.GeneID) (Gene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.genes[id]
	return g, ok
}

// GetExperiment retrieves an experiment from committed state.
func (s *Store) GetExperiment(id string) (Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.experiments[id]
	return cloneExperiment(e), ok
}

// GetAnalysisRun retrieves a run from committed state.
func (s *Store) GetAnalysisRun(id string) (AnalysisRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.runs[id]
	if !ok {
		return AnalysisRun{}, false
	}
	return cloneRun(r), true
}

// ListExperiments returns all experiments ordered by id.
func (s *Store) ListExperiments() []Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExperiments(&s.state)
}

// ListAnalysisRuns returns all runs ordered by id.
func (s *Store) ListAnalysisRuns() []AnalysisRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRuns(&s.state)
}

// ListEvidence returns all evidence ordered by id.
func (s *Store) ListEvidence() []Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvidence(&s.state)
}
