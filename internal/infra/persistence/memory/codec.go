package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CatalogBucketPrefix marks rows that hold catalog snapshot sections rather
// than opaque state saved through SaveBucket.
const CatalogBucketPrefix = "catalog/"

// CatalogBuckets lists the snapshot sections in write order.
var CatalogBuckets = []string{
	CatalogBucketPrefix + "taxa",
	CatalogBucketPrefix + "genes",
	CatalogBucketPrefix + "experiments",
	CatalogBucketPrefix + "runs",
	CatalogBucketPrefix + "evidence",
}

// IsCatalogBucket reports whether name is a catalog section.
func IsCatalogBucket(name string) bool {
	return strings.HasPrefix(name, CatalogBucketPrefix)
}

func (s *Snapshot) section(bucket string) (any, bool) {
	switch strings.TrimPrefix(bucket, CatalogBucketPrefix) {
	case "taxa":
		return &s.Taxa, true
	case "genes":
		return &s.Genes, true
	case "experiments":
		return &s.Experiments, true
	case "runs":
		return &s.Runs, true
	case "evidence":
		return &s.Evidence, true
	}
	return nil, false
}

// EncodeBuckets marshals each catalog section as JSON keyed by bucket name.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(CatalogBuckets))
	for _, bucket := range CatalogBuckets {
		target, _ := s.section(bucket)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from catalog rows. Unknown and empty rows
// are skipped.
func DecodeBuckets(rows map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	for bucket, payload := range rows {
		if len(payload) == 0 {
			continue
		}
		target, ok := snapshot.section(bucket)
		if !ok || !IsCatalogBucket(bucket) {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}

// RestoreBuckets loads opaque state rows into the store without persisting.
func (s *Store) RestoreBuckets(rows map[string][]byte) {
	s.bucketM.Lock()
	defer s.bucketM.Unlock()
	for name, payload := range rows {
		if IsCatalogBucket(name) {
			continue
		}
		s.buckets[name] = append([]byte(nil), payload...)
	}
}
