package curation

import (
	"coexcore/pkg/domain"
	"context"
	"encoding/json"
	"fmt"
)

// StateBucket names the persisted curation row.
const StateBucket = "curation/records"

// Record is the serialized form of one entity's curation state.
type Record struct {
	Details domain.CurationDetails `json:"details"`
	Trail   []domain.AuditEvent    `json:"trail"`
}

// Snapshot holds every registered entity, ordered by reference.
type Snapshot struct {
	Records []Record `json:"records"`
}

// Export copies the registry contents.
func (r *Registry) Export() Snapshot {
	var out Snapshot
	for _, ref := range r.refs("") {
		details, ok := r.Details(ref)
		if !ok {
			continue
		}
		out.Records = append(out.Records, Record{Details: details, Trail: r.Events(ref)})
	}
	return out
}

// Import replaces the registry contents with snapshot.
func (r *Registry) Import(snapshot Snapshot) error {
	records := make(map[domain.EntityRef]*record, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		ref := rec.Details.Entity
		if ref.Type == "" || ref.ID == "" || !rec.Details.Status.Valid() {
			return fmt.Errorf("%w: curation record %s", domain.ErrInvalidArgument, ref)
		}
		if _, dup := records[ref]; dup {
			return fmt.Errorf("%w: duplicate curation record %s", domain.ErrInvalidArgument, ref)
		}
		records[ref] = &record{details: rec.Details, trail: append([]domain.AuditEvent(nil), rec.Trail...)}
	}
	r.mu.Lock()
	old := r.records
	r.records = records
	r.mu.Unlock()
	for _, rec := range old {
		rec.mu.Lock()
		rec.removed = true
		rec.mu.Unlock()
	}
	return nil
}

// Save writes the registry snapshot to buckets.
func (r *Registry) Save(ctx context.Context, buckets domain.StateBuckets) error {
	payload, err := json.Marshal(r.Export())
	if err != nil {
		return fmt.Errorf("encode curation: %w", err)
	}
	return buckets.SaveBucket(ctx, StateBucket, payload)
}

// Load restores the snapshot written by Save. A missing bucket is not an
// error.
func (r *Registry) Load(ctx context.Context, buckets domain.StateBuckets) error {
	payload, ok, err := buckets.LoadBucket(ctx, StateBucket)
	if err != nil || !ok {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode curation: %w", err)
	}
	return r.Import(snapshot)
}
