// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by coexcore.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityTaxon identifies an organism taxon record.
	EntityTaxon EntityType = "taxon"
	// EntityGene identifies a gene reference record.
	EntityGene EntityType = "gene"
	// EntityExperiment identifies an expression experiment (bioassay set).
	EntityExperiment EntityType = "experiment"
	// EntityAnalysisRun identifies a coexpression analysis run.
	EntityAnalysisRun EntityType = "analysis_run"
	// EntityEvidence identifies a phenotype evidence record.
	EntityEvidence EntityType = "evidence"
	// EntityLink identifies a coexpression link within a taxon partition.
	EntityLink EntityType = "coexpression_link"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for catalog records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaxonID is the NCBI taxonomy identifier of an organism. Zero never names a
// real taxon and is used by filters to mean "any taxon".
type TaxonID int64

// Common taxa used across fixtures and the CLI.
const (
	TaxonHuman TaxonID = 9606
	TaxonMouse TaxonID = 10090
	TaxonRat   TaxonID = 10116
)

// Taxon describes an organism scoping one coexpression partition.
type Taxon struct {
	ID             TaxonID `json:"id"`
	CommonName     string  `json:"common_name"`
	ScientificName string  `json:"scientific_name"`
}

// GeneID is the stable identifier of a gene (typically an NCBI gene id).
type GeneID string

// Gene is reference data used to resolve a gene to its taxon.
type Gene struct {
	ID      GeneID  `json:"id"`
	Symbol  string  `json:"symbol"`
	TaxonID TaxonID `json:"taxon_id"`
}

// Experiment is an expression experiment, possibly a subset of a larger
// composite experiment.
type Experiment struct {
	Base
	ShortName string  `json:"short_name"`
	Name      string  `json:"name"`
	TaxonID   TaxonID `json:"taxon_id"`
	SubsetOf  *string `json:"subset_of,omitempty"`
}

// RunStatus enumerates the analysis run lifecycle.
type RunStatus string

// Canonical run statuses. Retracted is terminal.
const (
	RunStatusCreated   RunStatus = "created"
	RunStatusActive    RunStatus = "active"
	RunStatusRetracted RunStatus = "retracted"
)

// LinkContribution records one score a run folded into a link.
type LinkContribution struct {
	Key   LinkKey `json:"key"`
	Delta float64 `json:"delta"`
}

// AnalysisRun binds one experiment to the elements it analysed and the link
// contributions it produced. ExperimentID is fixed at creation.
type AnalysisRun struct {
	Base
	ExperimentID             string             `json:"experiment_id"`
	TaxonID                  TaxonID            `json:"taxon_id"`
	Status                   RunStatus          `json:"status"`
	NumberOfElementsAnalyzed int                `json:"number_of_elements_analyzed"`
	Contributions            []LinkContribution `json:"contributions,omitempty"`
	IngestedAt               *time.Time         `json:"ingested_at,omitempty"`
	RetractedAt              *time.Time         `json:"retracted_at,omitempty"`
}

// Active reports whether the run currently contributes to the link store.
func (r AnalysisRun) Active() bool { return r.Status == RunStatusActive }

// EvidenceKind distinguishes evidence record variants.
type EvidenceKind string

// Evidence kinds produced by analyses.
const (
	EvidencePhenotypeAssociation EvidenceKind = "phenotype_association"
	EvidenceDataAnalysis         EvidenceKind = "data_analysis"
)

// Evidence is a phenotype association produced by an analysis run. It is only
// disclosed through filtered queries.
type Evidence struct {
	Base
	Kind               EvidenceKind `json:"kind"`
	AnalysisRunID      string       `json:"analysis_run_id"`
	GeneID             GeneID       `json:"gene_id"`
	Phenotype          string       `json:"phenotype"`
	TaxonID            TaxonID      `json:"taxon_id"`
	ExternalDatabaseID int64        `json:"external_database_id"`
	Owner              string       `json:"owner"`
}

// EntityRef addresses one curatable or auditable record.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s", v.Message)
		}
	}
	return "transaction blocked by rules"
}
