package coexpression

import (
	"coexcore/pkg/domain"
	"context"
	"encoding/json"
	"fmt"
)

// StateBucket names the persisted links row.
const StateBucket = "coexpression/links"

// Snapshot is a serializable copy of every partition.
type Snapshot struct {
	Links []domain.CoexpressionLink `json:"links"`
}

// Export copies all live links, grouped by ascending taxon.
func (s *Store) Export() Snapshot {
	var out Snapshot
	for _, taxon := range s.Taxa() {
		out.Links = append(out.Links, s.Partition(taxon)...)
	}
	return out
}

// Import replaces the store contents with snapshot. Links are checked against
// the resolver before anything is swapped in. Import must not overlap writers.
func (s *Store) Import(snapshot Snapshot) error {
	partitions := make(map[domain.TaxonID]*partition)
	for _, link := range snapshot.Links {
		key, err := domain.NewLinkKey(link.Key.A, link.Key.B)
		if err != nil {
			return err
		}
		if key != link.Key {
			return fmt.Errorf("%w: non-canonical key %s", domain.ErrInvalidArgument, link.Key)
		}
		if link.Support <= 0 {
			return fmt.Errorf("%w: link %s has support %d", domain.ErrInvalidArgument, key, link.Support)
		}
		if err := s.checkTaxa(link.TaxonID, key); err != nil {
			return err
		}
		p := partitions[link.TaxonID]
		if p == nil {
			p = newPartition(link.TaxonID)
			partitions[link.TaxonID] = p
		}
		if _, dup := p.links[key]; dup {
			return fmt.Errorf("%w: duplicate link %s in taxon %d", domain.ErrInvalidArgument, key, link.TaxonID)
		}
		p.links[key] = &entry{key: key, support: link.Support, sum: link.Sum}
		p.link(key.A, key)
		p.link(key.B, key)
	}
	s.mu.Lock()
	s.partitions = partitions
	s.mu.Unlock()
	return nil
}

// Save writes the current snapshot to buckets.
func (s *Store) Save(ctx context.Context, buckets domain.StateBuckets) error {
	payload, err := json.Marshal(s.Export())
	if err != nil {
		return fmt.Errorf("encode links: %w", err)
	}
	return buckets.SaveBucket(ctx, StateBucket, payload)
}

// Load restores the snapshot saved by Save. A missing bucket leaves the store
// unchanged.
func (s *Store) Load(ctx context.Context, buckets domain.StateBuckets) error {
	payload, ok, err := buckets.LoadBucket(ctx, StateBucket)
	if err != nil || !ok {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode links: %w", err)
	}
	return s.Import(snapshot)
}
