// Package curation keeps curation details and audit trails for curatable
// entities. Mutations of one entity are serialized; distinct entities never
// contend beyond the registry map lookup.
package curation

import (
	"cmp"
	"coexcore/pkg/domain"
	"fmt"
	"slices"
	"sync"
	"time"
)

type record struct {
	mu      sync.Mutex
	details domain.CurationDetails
	trail   []domain.AuditEvent
	removed bool
}

// Registry owns CurationDetails and the audit trail of every registered
// entity.
type Registry struct {
	now func() time.Time

	mu      sync.RWMutex
	records map[domain.EntityRef]*record
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[domain.EntityRef]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) get(ref domain.EntityRef) (*record, error) {
	r.mu.RLock()
	rec := r.records[ref]
	r.mu.RUnlock()
	if rec == nil {
		return nil, domain.NotFoundError{Entity: ref.Type, ID: ref.ID}
	}
	return rec, nil
}

// lock returns the live record for ref with its mutex held.
func (r *Registry) lock(ref domain.EntityRef) (*record, error) {
	rec, err := r.get(ref)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	if rec.removed {
		rec.mu.Unlock()
		return nil, domain.NotFoundError{Entity: ref.Type, ID: ref.ID}
	}
	return rec, nil
}

// stamp returns a timestamp no earlier than the latest event in the trail so
// the trail stays ordered even if the clock steps back.
func (r *Registry) stamp(rec *record) time.Time {
	now := r.now()
	if n := len(rec.trail); n > 0 && now.Before(rec.trail[n-1].Timestamp) {
		now = rec.trail[n-1].Timestamp
	}
	return now
}

func (rec *record) append(ts time.Time, kind domain.AuditEventType, actor, note string) domain.AuditEvent {
	event := domain.AuditEvent{
		ID:        domain.NewID(),
		Entity:    rec.details.Entity,
		Timestamp: ts,
		Type:      kind,
		Actor:     actor,
		Note:      note,
	}
	rec.trail = append(rec.trail, event)
	return event
}

// Register adopts details for a newly created entity and writes its
// CreateEvent. Details with a zero status start UNCURATED.
func (r *Registry) Register(details domain.CurationDetails, actor string) (domain.CurationDetails, error) {
	ref := details.Entity
	if ref.Type == "" || ref.ID == "" {
		return domain.CurationDetails{}, fmt.Errorf("%w: entity reference required", domain.ErrInvalidArgument)
	}
	if details.Status == "" {
		details.Status = domain.CurationUncurated
	}
	if !details.Status.Valid() {
		return domain.CurationDetails{}, fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, details.Status)
	}
	rec := &record{details: details}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.records[ref]; exists {
		r.mu.Unlock()
		return domain.CurationDetails{}, fmt.Errorf("%w: curation details for %s", domain.ErrAlreadyExists, ref)
	}
	r.records[ref] = rec
	r.mu.Unlock()

	event := rec.append(r.stamp(rec), domain.EventCreate, actor, "")
	rec.details.LastUpdated = event.Timestamp
	return rec.details, nil
}

// Remove drops the details and audit trail of ref.
func (r *Registry) Remove(ref domain.EntityRef) {
	r.mu.Lock()
	rec := r.records[ref]
	delete(r.records, ref)
	r.mu.Unlock()
	if rec != nil {
		rec.mu.Lock()
		rec.removed = true
		rec.mu.Unlock()
	}
}

// Details returns the current curation details of ref.
func (r *Registry) Details(ref domain.EntityRef) (domain.CurationDetails, bool) {
	rec, err := r.get(ref)
	if err != nil {
		return domain.CurationDetails{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return domain.CurationDetails{}, false
	}
	return rec.details, true
}

// Transition moves ref to status to and appends exactly one audit event whose
// timestamp becomes the new LastUpdated.
func (r *Registry) Transition(ref domain.EntityRef, to domain.CurationStatus, actor, note string) (domain.AuditEvent, error) {
	rec, err := r.lock(ref)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	defer rec.mu.Unlock()

	t, ok := lookupTransition(rec.details.Status, to)
	if !ok {
		return domain.AuditEvent{}, domain.TransitionError{Entity: ref, From: rec.details.Status, To: to}
	}
	event := rec.append(r.stamp(rec), t.event, actor, note)
	rec.details.Status = to
	rec.details.LastUpdated = event.Timestamp
	switch to {
	case domain.CurationNeedsAttention:
		rec.details.LastNeedsAttentionEvent = event.ID
	case domain.CurationTroubled:
		rec.details.LastTroubledEvent = event.ID
	}
	return event, nil
}

// MarkNeedsAttention flags ref for review.
func (r *Registry) MarkNeedsAttention(ref domain.EntityRef, actor, note string) (domain.AuditEvent, error) {
	return r.Transition(ref, domain.CurationNeedsAttention, actor, note)
}

// MarkCurated clears the needs-attention flag.
func (r *Registry) MarkCurated(ref domain.EntityRef, actor, note string) (domain.AuditEvent, error) {
	return r.Transition(ref, domain.CurationCurated, actor, note)
}

// MarkTroubled flags ref as troubled.
func (r *Registry) MarkTroubled(ref domain.EntityRef, actor, note string) (domain.AuditEvent, error) {
	return r.Transition(ref, domain.CurationTroubled, actor, note)
}

// ClearTroubled returns a troubled entity to NEEDS_ATTENTION.
func (r *Registry) ClearTroubled(ref domain.EntityRef, actor, note string) (domain.AuditEvent, error) {
	return r.Transition(ref, domain.CurationNeedsAttention, actor, note)
}

// UpdateNote replaces the curation note and records a CurationNoteUpdateEvent.
// The status is left alone.
func (r *Registry) UpdateNote(ref domain.EntityRef, actor, note string) (domain.AuditEvent, error) {
	rec, err := r.lock(ref)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	defer rec.mu.Unlock()

	event := rec.append(r.stamp(rec), domain.EventCurationNoteUpdate, actor, note)
	rec.details.Note = note
	rec.details.LastUpdated = event.Timestamp
	rec.details.LastNoteUpdateEvent = event.ID
	return event, nil
}

// RecordAuditEvent appends a free-standing event. It never changes curation
// status, and event types reserved for curation actions are rejected.
func (r *Registry) RecordAuditEvent(ref domain.EntityRef, kind domain.AuditEventType, actor, note string) (domain.AuditEvent, error) {
	if kind == "" {
		return domain.AuditEvent{}, fmt.Errorf("%w: event type required", domain.ErrInvalidArgument)
	}
	if kind.CurationOwned() {
		return domain.AuditEvent{}, fmt.Errorf("%w: %s is written by curation actions only", domain.ErrInvalidArgument, kind)
	}
	rec, err := r.lock(ref)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	defer rec.mu.Unlock()
	return rec.append(r.stamp(rec), kind, actor, note), nil
}

// Events returns the trail of ref in insertion order.
func (r *Registry) Events(ref domain.EntityRef) []domain.AuditEvent {
	rec, err := r.get(ref)
	if err != nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil
	}
	return slices.Clone(rec.trail)
}

// LastEvent returns the most recent event of kind on ref.
func (r *Registry) LastEvent(ref domain.EntityRef, kind domain.AuditEventType) (domain.AuditEvent, bool) {
	events := r.Events(ref)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == kind {
			return events[i], true
		}
	}
	return domain.AuditEvent{}, false
}

// LastEvents returns, per kind, the latest matching event of each ref that
// has one.
func (r *Registry) LastEvents(refs []domain.EntityRef, kinds []domain.AuditEventType) map[domain.AuditEventType]map[domain.EntityRef]domain.AuditEvent {
	out := make(map[domain.AuditEventType]map[domain.EntityRef]domain.AuditEvent, len(kinds))
	for _, kind := range kinds {
		byRef := make(map[domain.EntityRef]domain.AuditEvent)
		for _, ref := range refs {
			if event, ok := r.LastEvent(ref, kind); ok {
				byRef[ref] = event
			}
		}
		out[kind] = byRef
	}
	return out
}

// HasEvent reports whether ref has at least one event of kind.
func (r *Registry) HasEvent(ref domain.EntityRef, kind domain.AuditEventType) bool {
	_, ok := r.LastEvent(ref, kind)
	return ok
}

// RetainHavingEvent keeps refs that carry an event of kind, preserving order.
func (r *Registry) RetainHavingEvent(refs []domain.EntityRef, kind domain.AuditEventType) []domain.EntityRef {
	return slices.DeleteFunc(slices.Clone(refs), func(ref domain.EntityRef) bool {
		return !r.HasEvent(ref, kind)
	})
}

// RetainLackingEvent keeps refs without any event of kind, preserving order.
func (r *Registry) RetainLackingEvent(refs []domain.EntityRef, kind domain.AuditEventType) []domain.EntityRef {
	return slices.DeleteFunc(slices.Clone(refs), func(ref domain.EntityRef) bool {
		return r.HasEvent(ref, kind)
	})
}

func (r *Registry) refs(entity domain.EntityType) []domain.EntityRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EntityRef, 0, len(r.records))
	for ref := range r.records {
		if entity == "" || ref.Type == entity {
			out = append(out, ref)
		}
	}
	slices.SortFunc(out, compareRefs)
	return out
}

func compareRefs(a, b domain.EntityRef) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CreatedSince lists entities of the given type whose CreateEvent is at or
// after since. An empty type matches every entity.
func (r *Registry) CreatedSince(entity domain.EntityType, since time.Time) []domain.EntityRef {
	var out []domain.EntityRef
	for _, ref := range r.refs(entity) {
		if event, ok := r.LastEvent(ref, domain.EventCreate); ok && !event.Timestamp.Before(since) {
			out = append(out, ref)
		}
	}
	return out
}

// UpdatedSince lists entities with any non-create event at or after since.
func (r *Registry) UpdatedSince(entity domain.EntityType, since time.Time) []domain.EntityRef {
	var out []domain.EntityRef
	for _, ref := range r.refs(entity) {
		events := r.Events(ref)
		if slices.ContainsFunc(events, func(e domain.AuditEvent) bool {
			return e.Type != domain.EventCreate && !e.Timestamp.Before(since)
		}) {
			out = append(out, ref)
		}
	}
	return out
}

// StatusCounts tallies entities of the given type by curation status.
func (r *Registry) StatusCounts(entity domain.EntityType) map[domain.CurationStatus]int {
	out := make(map[domain.CurationStatus]int)
	for _, ref := range r.refs(entity) {
		if details, ok := r.Details(ref); ok {
			out[details.Status]++
		}
	}
	return out
}
