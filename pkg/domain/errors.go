package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	// ErrNotFound is recoverable; read paths translate it into empty results.
	ErrNotFound = errors.New("not found")
	// ErrCrossTaxonMismatch means a gene pair does not belong to the target partition.
	ErrCrossTaxonMismatch = errors.New("cross-taxon mismatch")
	// ErrTaxonConflict means a run's input spans more than one taxon.
	ErrTaxonConflict = errors.New("taxon conflict")
	// ErrConcurrentModification is transient; retry the whole call.
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidTransition      = errors.New("invalid curation transition")
	ErrRunRetracted           = errors.New("analysis run retracted")
	ErrAlreadyExists          = errors.New("already exists")
)

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// CrossTaxonError reports a gene resolving outside the requested partition.
type CrossTaxonError struct {
	Partition TaxonID
	Gene      GeneID
	GeneTaxon TaxonID
}

func (e CrossTaxonError) Error() string {
	return fmt.Sprintf("gene %s belongs to taxon %d, not partition %d", e.Gene, e.GeneTaxon, e.Partition)
}

func (e CrossTaxonError) Unwrap() error { return ErrCrossTaxonMismatch }

// TaxonConflictError reports a run whose elements resolve to several taxa.
type TaxonConflictError struct {
	RunID string
	Taxa  []TaxonID
}

func (e TaxonConflictError) Error() string {
	return fmt.Sprintf("analysis run %s spans taxa %v", e.RunID, e.Taxa)
}

func (e TaxonConflictError) Unwrap() error { return ErrTaxonConflict }

// TransitionError reports a disallowed curation status change.
type TransitionError struct {
	Entity EntityRef
	From   CurationStatus
	To     CurationStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }
