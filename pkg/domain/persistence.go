package domain

import "context"

// Transaction exposes the catalog operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateTaxon(Taxon) (Taxon, error)
	CreateGene(Gene) (Gene, error)
	DeleteGene(id GeneID) error
	CreateExperiment(Experiment) (Experiment, error)
	UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error)
	DeleteExperiment(id string) error
	CreateAnalysisRun(AnalysisRun) (AnalysisRun, error)
	UpdateAnalysisRun(id string, mutator func(*AnalysisRun) error) (AnalysisRun, error)
	DeleteAnalysisRun(id string) error
	CreateEvidence(Evidence) (Evidence, error)
	UpdateEvidence(id string, mutator func(*Evidence) error) (Evidence, error)
	DeleteEvidence(id string) error
	FindExperiment(id string) (Experiment, bool)
	FindAnalysisRun(id string) (AnalysisRun, bool)
	FindGene(id GeneID) (Gene, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	ListTaxa() []Taxon
	ListGenes() []Gene
	ListExperiments() []Experiment
	ListAnalysisRuns() []AnalysisRun
	ListEvidence() []Evidence
}

// PersistentStore is a minimal abstraction over durable catalog backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetGene(id GeneID) (Gene, bool)
	GetExperiment(id string) (Experiment, bool)
	GetAnalysisRun(id string) (AnalysisRun, bool)
	ListExperiments() []Experiment
	ListAnalysisRuns() []AnalysisRun
	ListEvidence() []Evidence
}

// StateBuckets persists opaque state owned outside the catalog (link
// partitions, curation details, audit trails) under named buckets.
type StateBuckets interface {
	SaveBucket(ctx context.Context, bucket string, payload []byte) error
	LoadBucket(ctx context.Context, bucket string) ([]byte, bool, error)
}
