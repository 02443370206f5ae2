package curation

import (
	"coexcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestRegistry(t *testing.T) (*Registry, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(WithClock(clock.Now)), clock
}

func register(t *testing.T, r *Registry, id string) domain.EntityRef {
	t.Helper()
	ref := domain.EntityRef{Type: domain.EntityExperiment, ID: id}
	if _, err := r.Register(domain.NewCurationDetails(ref, time.Time{}), "loader"); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return ref
}

func TestRegisterWritesCreateEvent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ref := register(t, r, "E1")

	details, ok := r.Details(ref)
	if !ok || details.Status != domain.CurationUncurated {
		t.Fatalf("unexpected details %+v ok=%v", details, ok)
	}
	events := r.Events(ref)
	if len(events) != 1 || events[0].Type != domain.EventCreate {
		t.Fatalf("expected single create event, got %+v", events)
	}
	if !events[0].Timestamp.Equal(details.LastUpdated) {
		t.Fatalf("create timestamp %v != last updated %v", events[0].Timestamp, details.LastUpdated)
	}
	if _, err := r.Register(domain.NewCurationDetails(ref, time.Now()), "loader"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := r.Register(domain.CurationDetails{}, "loader"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	statuses := []domain.CurationStatus{
		domain.CurationUncurated,
		domain.CurationNeedsAttention,
		domain.CurationTroubled,
		domain.CurationCurated,
	}
	allowed := map[[2]domain.CurationStatus]domain.AuditEventType{
		{domain.CurationUncurated, domain.CurationNeedsAttention}: domain.EventNeedsAttention,
		{domain.CurationNeedsAttention, domain.CurationCurated}:   domain.EventDoesNotNeedAttention,
		{domain.CurationCurated, domain.CurationNeedsAttention}:   domain.EventNeedsAttention,
		{domain.CurationUncurated, domain.CurationTroubled}:       domain.EventTroubled,
		{domain.CurationNeedsAttention, domain.CurationTroubled}:  domain.EventTroubled,
		{domain.CurationCurated, domain.CurationTroubled}:         domain.EventTroubled,
		{domain.CurationTroubled, domain.CurationNeedsAttention}:  domain.EventNotTroubled,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				r, _ := newTestRegistry(t)
				ref := domain.EntityRef{Type: domain.EntityAnalysisRun, ID: "R1"}
				details := domain.NewCurationDetails(ref, time.Time{})
				details.Status = from
				if _, err := r.Register(details, "loader"); err != nil {
					t.Fatalf("register: %v", err)
				}
				before := r.Events(ref)

				event, err := r.Transition(ref, to, "curator", "")
				wantEvent, ok := allowed[[2]domain.CurationStatus{from, to}]
				if !ok {
					var terr domain.TransitionError
					if !errors.As(err, &terr) || !errors.Is(err, domain.ErrInvalidTransition) {
						t.Fatalf("expected transition error, got %v", err)
					}
					if got := r.Events(ref); len(got) != len(before) {
						t.Fatalf("rejected transition appended an event")
					}
					return
				}
				if err != nil {
					t.Fatalf("transition: %v", err)
				}
				if event.Type != wantEvent {
					t.Fatalf("expected %s, got %s", wantEvent, event.Type)
				}
				after := r.Events(ref)
				if len(after) != len(before)+1 {
					t.Fatalf("expected exactly one new event, got %d", len(after)-len(before))
				}
				got, _ := r.Details(ref)
				if got.Status != to || !got.LastUpdated.Equal(event.Timestamp) {
					t.Fatalf("details not updated: %+v event %+v", got, event)
				}
			})
		}
	}
}

func TestLastEventPointers(t *testing.T) {
	r, _ := newTestRegistry(t)
	ref := register(t, r, "E1")

	attention, err := r.MarkNeedsAttention(ref, "curator", "check layout")
	if err != nil {
		t.Fatalf("needs attention: %v", err)
	}
	troubled, err := r.MarkTroubled(ref, "curator", "bad samples")
	if err != nil {
		t.Fatalf("troubled: %v", err)
	}
	if _, err := r.MarkCurated(ref, "curator", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("troubled must not jump to curated, got %v", err)
	}
	cleared, err := r.ClearTroubled(ref, "curator", "")
	if err != nil {
		t.Fatalf("clear troubled: %v", err)
	}
	if cleared.Type != domain.EventNotTroubled {
		t.Fatalf("expected not-troubled event, got %s", cleared.Type)
	}
	note, err := r.UpdateNote(ref, "curator", "looks fine now")
	if err != nil {
		t.Fatalf("note: %v", err)
	}

	details, _ := r.Details(ref)
	if details.Status != domain.CurationNeedsAttention {
		t.Fatalf("note update changed status to %s", details.Status)
	}
	if details.LastTroubledEvent != troubled.ID {
		t.Fatalf("troubled pointer %s, want %s", details.LastTroubledEvent, troubled.ID)
	}
	if details.LastNeedsAttentionEvent != cleared.ID || details.LastNeedsAttentionEvent == attention.ID {
		t.Fatalf("needs-attention pointer not advanced: %s", details.LastNeedsAttentionEvent)
	}
	if details.LastNoteUpdateEvent != note.ID || details.Note != "looks fine now" {
		t.Fatalf("note not recorded: %+v", details)
	}
	if !details.LastUpdated.Equal(note.Timestamp) {
		t.Fatalf("last updated %v, want %v", details.LastUpdated, note.Timestamp)
	}
}

func TestRecordAuditEventNeverChangesStatus(t *testing.T) {
	r, _ := newTestRegistry(t)
	ref := register(t, r, "E1")
	before, _ := r.Details(ref)

	if _, err := r.RecordAuditEvent(ref, domain.EventSampleLayoutTrouble, "pipeline", "swap"); err != nil {
		t.Fatalf("record: %v", err)
	}
	after, _ := r.Details(ref)
	if after != before {
		t.Fatalf("details changed: %+v -> %+v", before, after)
	}
	for _, kind := range []domain.AuditEventType{domain.EventTroubled, domain.EventCreate, domain.EventCurationNoteUpdate, ""} {
		if _, err := r.RecordAuditEvent(ref, kind, "pipeline", ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected %q to be rejected, got %v", kind, err)
		}
	}
	missing := domain.EntityRef{Type: domain.EntityExperiment, ID: "nope"}
	if _, err := r.RecordAuditEvent(missing, domain.EventUpdate, "x", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuditQueries(t *testing.T) {
	r, clock := newTestRegistry(t)
	e1 := register(t, r, "E1")
	cutoff := clock.Now()
	e2 := register(t, r, "E2")
	run := domain.EntityRef{Type: domain.EntityAnalysisRun, ID: "R1"}
	if _, err := r.Register(domain.NewCurationDetails(run, time.Time{}), "loader"); err != nil {
		t.Fatalf("register run: %v", err)
	}
	if _, err := r.RecordAuditEvent(e1, domain.EventLinkAnalysis, "pipeline", "first"); err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := r.RecordAuditEvent(e1, domain.EventLinkAnalysis, "pipeline", "second")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if last, ok := r.LastEvent(e1, domain.EventLinkAnalysis); !ok || last.ID != second.ID {
		t.Fatalf("expected latest link analysis event, got %+v", last)
	}
	if !r.HasEvent(e1, domain.EventLinkAnalysis) || r.HasEvent(e2, domain.EventLinkAnalysis) {
		t.Fatalf("HasEvent mismatch")
	}
	refs := []domain.EntityRef{e2, e1}
	if got := r.RetainHavingEvent(refs, domain.EventLinkAnalysis); len(got) != 1 || got[0] != e1 {
		t.Fatalf("retain having: %v", got)
	}
	if got := r.RetainLackingEvent(refs, domain.EventLinkAnalysis); len(got) != 1 || got[0] != e2 {
		t.Fatalf("retain lacking: %v", got)
	}
	if refs[0] != e2 {
		t.Fatalf("input slice mutated")
	}

	last := r.LastEvents(refs, []domain.AuditEventType{domain.EventLinkAnalysis, domain.EventCreate})
	if len(last[domain.EventLinkAnalysis]) != 1 || len(last[domain.EventCreate]) != 2 {
		t.Fatalf("unexpected last events: %+v", last)
	}

	if got := r.CreatedSince(domain.EntityExperiment, cutoff); len(got) != 1 || got[0] != e2 {
		t.Fatalf("created since: %v", got)
	}
	if got := r.UpdatedSince(domain.EntityExperiment, cutoff); len(got) != 1 || got[0] != e1 {
		t.Fatalf("updated since: %v", got)
	}
	if got := r.CreatedSince("", time.Time{}); len(got) != 3 {
		t.Fatalf("expected all entities, got %v", got)
	}
	counts := r.StatusCounts(domain.EntityExperiment)
	if counts[domain.CurationUncurated] != 2 {
		t.Fatalf("status counts: %v", counts)
	}
}

func TestRemoveDropsTrail(t *testing.T) {
	r, _ := newTestRegistry(t)
	ref := register(t, r, "E1")
	r.Remove(ref)
	if _, ok := r.Details(ref); ok {
		t.Fatalf("expected details removed")
	}
	if len(r.Events(ref)) != 0 {
		t.Fatalf("expected trail removed")
	}
	if _, err := r.MarkNeedsAttention(ref, "x", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	register(t, r, "E1")
}

func TestConcurrentTransitionsSerializePerEntity(t *testing.T) {
	r, _ := newTestRegistry(t)
	const entities = 8
	refs := make([]domain.EntityRef, entities)
	for i := range refs {
		refs[i] = register(t, r, fmt.Sprintf("E%d", i))
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 25 {
					_, _ = r.MarkNeedsAttention(ref, "a", "")
					_, _ = r.MarkCurated(ref, "b", "")
					_, _ = r.RecordAuditEvent(ref, domain.EventUpdate, "c", "")
				}
			}()
		}
	}
	wg.Wait()

	for _, ref := range refs {
		details, _ := r.Details(ref)
		events := r.Events(ref)
		transitions := 0
		for i, e := range events {
			if i > 0 && e.Timestamp.Before(events[i-1].Timestamp) {
				t.Fatalf("trail out of order for %s", ref)
			}
			if e.Type == domain.EventNeedsAttention || e.Type == domain.EventDoesNotNeedAttention {
				transitions++
			}
		}
		// Transitions alternate, so the final status follows from their parity.
		want := domain.CurationNeedsAttention
		if transitions%2 == 0 {
			want = domain.CurationCurated
		}
		if details.Status != want {
			t.Fatalf("%s: status %s after %d transitions", ref, details.Status, transitions)
		}
	}
}

type mapBuckets map[string][]byte

func (m mapBuckets) SaveBucket(_ context.Context, bucket string, payload []byte) error {
	m[bucket] = payload
	return nil
}

func (m mapBuckets) LoadBucket(_ context.Context, bucket string) ([]byte, bool, error) {
	p, ok := m[bucket]
	return p, ok, nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	ref := register(t, r, "E1")
	if _, err := r.MarkNeedsAttention(ref, "curator", "n"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	buckets := mapBuckets{}
	if err := r.Save(ctx, buckets); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, _ := newTestRegistry(t)
	if err := restored.Load(ctx, buckets); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := restored.Details(ref)
	want, _ := r.Details(ref)
	if !ok || !got.LastUpdated.Equal(want.LastUpdated) || got.Status != want.Status {
		t.Fatalf("restored %+v, want %+v", got, want)
	}
	if len(restored.Events(ref)) != 2 {
		t.Fatalf("expected trail restored")
	}

	buckets[StateBucket] = []byte(`{"records":[{"details":{"status":"BOGUS"}}]}`)
	if err := restored.Load(ctx, buckets); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, ok := restored.Details(ref); !ok {
		t.Fatalf("failed load must keep previous state")
	}
}
