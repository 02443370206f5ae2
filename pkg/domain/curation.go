package domain

import "time"

// CurationStatus is the review state of a curatable entity.
type CurationStatus string

// Curation statuses. TROUBLED is reachable from every other state and only
// leaves towards NEEDS_ATTENTION.
const (
	CurationUncurated      CurationStatus = "UNCURATED"
	CurationNeedsAttention CurationStatus = "NEEDS_ATTENTION"
	CurationTroubled       CurationStatus = "TROUBLED"
	CurationCurated        CurationStatus = "CURATED"
)

// Valid reports whether s is one of the known statuses.
func (s CurationStatus) Valid() bool {
	switch s {
	case CurationUncurated, CurationNeedsAttention, CurationTroubled, CurationCurated:
		return true
	}
	return false
}

// AuditEventType tags an audit event.
type AuditEventType string

// Audit event types. The first group is written only by curation actions.
const (
	EventCreate               AuditEventType = "CreateEvent"
	EventNeedsAttention       AuditEventType = "NeedsAttentionEvent"
	EventDoesNotNeedAttention AuditEventType = "DoesNotNeedAttentionEvent"
	EventTroubled             AuditEventType = "TroubledStatusFlagEvent"
	EventNotTroubled          AuditEventType = "NotTroubledStatusFlagEvent"
	EventCurationNoteUpdate   AuditEventType = "CurationNoteUpdateEvent"

	EventUpdate                AuditEventType = "UpdateEvent"
	EventOKStatusFlag          AuditEventType = "OKStatusFlagEvent"
	EventSampleLayoutTrouble   AuditEventType = "SampleLayoutTrouble"
	EventFailedPCAAnalysis     AuditEventType = "FailedPCAAnalysisEvent"
	EventPermissionChange      AuditEventType = "PermissionChangeEvent"
	EventLinkAnalysis          AuditEventType = "LinkAnalysisEvent"
	EventFailedLinkAnalysis    AuditEventType = "FailedLinkAnalysisEvent"
	EventLinkAnalysisRetracted AuditEventType = "LinkAnalysisRetractedEvent"
)

// CurationOwned reports whether t may only be produced by a curation action.
func (t AuditEventType) CurationOwned() bool {
	switch t {
	case EventCreate, EventNeedsAttention, EventDoesNotNeedAttention,
		EventTroubled, EventNotTroubled, EventCurationNoteUpdate:
		return true
	}
	return false
}

// AuditEvent is an immutable entry in an entity's audit trail.
type AuditEvent struct {
	ID        string         `json:"id"`
	Entity    EntityRef      `json:"entity"`
	Timestamp time.Time      `json:"timestamp"`
	Type      AuditEventType `json:"type"`
	Actor     string         `json:"actor"`
	Note      string         `json:"note,omitempty"`
}

// CurationDetails is owned 1:1 by a curatable entity. The Last*Event fields
// hold ids of the most recent matching audit events.
type CurationDetails struct {
	Entity                  EntityRef      `json:"entity"`
	Status                  CurationStatus `json:"status"`
	LastUpdated             time.Time      `json:"last_updated"`
	Note                    string         `json:"note,omitempty"`
	LastNeedsAttentionEvent string         `json:"last_needs_attention_event,omitempty"`
	LastTroubledEvent       string         `json:"last_troubled_event,omitempty"`
	LastNoteUpdateEvent     string         `json:"last_note_update_event,omitempty"`
}

// NeedsAttention mirrors the legacy boolean flag.
func (d CurationDetails) NeedsAttention() bool { return d.Status == CurationNeedsAttention }

// Troubled mirrors the legacy boolean flag.
func (d CurationDetails) Troubled() bool { return d.Status == CurationTroubled }

// NewCurationDetails returns fresh UNCURATED details for ref.
func NewCurationDetails(ref EntityRef, now time.Time) CurationDetails {
	return CurationDetails{Entity: ref, Status: CurationUncurated, LastUpdated: now}
}

// NewExperiment pairs an experiment with its initial curation details. The
// experiment id is assigned here so the details can reference it.
func NewExperiment(shortName, name string, taxon TaxonID, now time.Time) (Experiment, CurationDetails) {
	exp := Experiment{
		Base:      Base{ID: NewID(), CreatedAt: now, UpdatedAt: now},
		ShortName: shortName,
		Name:      name,
		TaxonID:   taxon,
	}
	return exp, NewCurationDetails(EntityRef{Type: EntityExperiment, ID: exp.ID}, now)
}

// NewAnalysisRun binds a run to experiment and pairs it with initial curation
// details. The run starts with no analysed elements.
func NewAnalysisRun(experiment Experiment, now time.Time) (AnalysisRun, CurationDetails) {
	run := AnalysisRun{
		Base:         Base{ID: NewID(), CreatedAt: now, UpdatedAt: now},
		ExperimentID: experiment.ID,
		TaxonID:      experiment.TaxonID,
		Status:       RunStatusCreated,
	}
	return run, NewCurationDetails(EntityRef{Type: EntityAnalysisRun, ID: run.ID}, now)
}
