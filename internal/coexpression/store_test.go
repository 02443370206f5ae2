package coexpression

import (
	"coexcore/pkg/domain"
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var genes = map[domain.GeneID]domain.TaxonID{
	"G1": domain.TaxonRat,
	"G2": domain.TaxonRat,
	"G3": domain.TaxonRat,
	"G4": domain.TaxonRat,
	"H1": domain.TaxonHuman,
	"H2": domain.TaxonHuman,
}

func newTestStore(opts ...Option) *Store {
	return NewStore(ResolverFunc(func(g domain.GeneID) (domain.TaxonID, bool) {
		t, ok := genes[g]
		return t, ok
	}), opts...)
}

func TestRatScenario(t *testing.T) {
	s := newTestStore()

	h, err := s.UpsertLink(domain.TaxonRat, "G2", "G1", 0.8)
	require.NoError(t, err)
	assert.True(t, h.Created)
	assert.Equal(t, domain.LinkKey{A: "G1", B: "G2"}, h.Key)

	h, err = s.UpsertLink(domain.TaxonRat, "G1", "G2", 0.4)
	require.NoError(t, err)
	assert.False(t, h.Created)

	link, ok := s.Lookup(domain.TaxonRat, "G2", "G1")
	require.True(t, ok)
	assert.Equal(t, 2, link.Support)
	assert.InDelta(t, 0.6, link.Score(), 1e-12)

	require.NoError(t, s.RemoveContribution(domain.TaxonRat, "G1", "G2", 0.8))
	link, ok = s.Lookup(domain.TaxonRat, "G1", "G2")
	require.True(t, ok)
	assert.Equal(t, 1, link.Support)
	assert.InDelta(t, 0.4, link.Score(), 1e-12)

	require.NoError(t, s.RemoveContribution(domain.TaxonRat, "G1", "G2", 0.4))
	_, ok = s.Lookup(domain.TaxonRat, "G1", "G2")
	assert.False(t, ok)
	assert.Empty(t, s.Neighbors(domain.TaxonRat, "G1", 1))
	assert.Empty(t, s.Stats())
}

func TestLookupIsPartitionLocal(t *testing.T) {
	s := newTestStore()
	_, err := s.UpsertLink(domain.TaxonHuman, "H1", "H2", 0.5)
	require.NoError(t, err)

	_, ok := s.Lookup(domain.TaxonRat, "H1", "H2")
	assert.False(t, ok)
	_, ok = s.Lookup(domain.TaxonHuman, "H1", "H2")
	assert.True(t, ok)
}

func TestUpsertRejectsCrossTaxon(t *testing.T) {
	s := newTestStore()

	_, err := s.UpsertLink(domain.TaxonRat, "G1", "H1", 0.5)
	require.ErrorIs(t, err, domain.ErrCrossTaxonMismatch)

	_, err = s.UpsertLink(domain.TaxonHuman, "G1", "G2", 0.5)
	require.ErrorIs(t, err, domain.ErrCrossTaxonMismatch)

	_, err = s.UpsertLink(domain.TaxonRat, "G1", "unknown", 0.5)
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.Empty(t, s.Stats())
	assert.Empty(t, s.Neighbors(domain.TaxonRat, "G1", 1))
}

func TestUpsertRejectsInvalidInput(t *testing.T) {
	s := newTestStore()
	cases := []struct {
		name  string
		a, b  domain.GeneID
		delta float64
	}{
		{"self link", "G1", "G1", 0.1},
		{"empty gene", "", "G1", 0.1},
		{"too large", "G1", "G2", domain.MaxScoreDelta * 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.UpsertLink(domain.TaxonRat, tc.a, tc.b, tc.delta)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestRemoveMissingLink(t *testing.T) {
	s := newTestStore()
	err := s.RemoveContribution(domain.TaxonRat, "G1", "G2", 0.1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.UpsertLink(domain.TaxonRat, "G1", "G2", 0.1)
	require.NoError(t, err)
	err = s.RemoveContribution(domain.TaxonRat, "G1", "G3", 0.1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInverseLaw(t *testing.T) {
	s := newTestStore()
	_, err := s.UpsertLink(domain.TaxonRat, "G1", "G2", 0.3)
	require.NoError(t, err)
	before, _ := s.Lookup(domain.TaxonRat, "G1", "G2")

	for _, d := range []float64{0.7, -0.25, 0.123456789} {
		_, err := s.UpsertLink(domain.TaxonRat, "G1", "G2", d)
		require.NoError(t, err)
		require.NoError(t, s.RemoveContribution(domain.TaxonRat, "G1", "G2", d))
		after, ok := s.Lookup(domain.TaxonRat, "G1", "G2")
		require.True(t, ok)
		assert.Equal(t, before, after)
	}
}

func TestNeighborOrderingAndMinSupport(t *testing.T) {
	s := newTestStore()
	writes := []struct {
		b     domain.GeneID
		delta float64
	}{
		{"G2", 0.5},
		{"G3", -0.9},
		{"G4", 0.5},
		{"G4", 0.5},
	}
	for _, w := range writes {
		_, err := s.UpsertLink(domain.TaxonRat, "G1", w.b, w.delta)
		require.NoError(t, err)
	}

	var partners []domain.GeneID
	for link := range s.QueryNeighbors(domain.TaxonRat, "G1", 1) {
		p, ok := link.Key.Partner("G1")
		require.True(t, ok)
		partners = append(partners, p)
	}
	assert.Equal(t, []domain.GeneID{"G3", "G2", "G4"}, partners)

	strong := slices.Collect(s.QueryNeighbors(domain.TaxonRat, "G1", 2))
	require.Len(t, strong, 1)
	assert.Equal(t, domain.GeneID("G4"), strong[0].Key.B)

	// ranging again sees later writes
	seq := s.QueryNeighbors(domain.TaxonRat, "G1", 2)
	_, err := s.UpsertLink(domain.TaxonRat, "G1", "G2", 0.5)
	require.NoError(t, err)
	assert.Len(t, slices.Collect(seq), 2)

	count := 0
	for range s.QueryNeighbors(domain.TaxonRat, "G1", 0) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestConcurrentWritesAreOrderIndependent(t *testing.T) {
	s := newTestStore()
	pairs := [][2]domain.GeneID{{"G1", "G2"}, {"G1", "G3"}, {"G2", "G3"}, {"G3", "G4"}}
	const writers = 16
	const perWriter = 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				pair := pairs[(w+i)%len(pairs)]
				delta := float64((w*perWriter+i)%7) / 10
				if _, err := s.UpsertLink(domain.TaxonRat, pair[1], pair[0], delta); err != nil {
					t.Errorf("upsert: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// odd writers retract their contributions concurrently
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				pair := pairs[(w+i)%len(pairs)]
				delta := float64((w*perWriter+i)%7) / 10
				if w%2 == 1 {
					if err := s.RemoveContribution(domain.TaxonRat, pair[0], pair[1], delta); err != nil {
						t.Errorf("remove: %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	want := newTestStore()
	for w := 0; w < writers; w += 2 {
		for i := range perWriter {
			pair := pairs[(w+i)%len(pairs)]
			_, err := want.UpsertLink(domain.TaxonRat, pair[0], pair[1], float64((w*perWriter+i)%7)/10)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, want.Export(), s.Export())
}

func TestConcurrentPurgeAndRecreate(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 200 {
				delta := float64(w+i%3) / 100
				if _, err := s.UpsertLink(domain.TaxonRat, "G1", "G2", delta); err != nil {
					t.Errorf("upsert: %v", err)
					return
				}
				if err := s.RemoveContribution(domain.TaxonRat, "G1", "G2", delta); err != nil {
					t.Errorf("remove: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	_, ok := s.Lookup(domain.TaxonRat, "G1", "G2")
	assert.False(t, ok)
	assert.Empty(t, s.Neighbors(domain.TaxonRat, "G2", 1))
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore()
	for i, pair := range [][2]domain.GeneID{{"G1", "G2"}, {"G2", "G3"}, {"H1", "H2"}} {
		taxon := genes[pair[0]]
		_, err := s.UpsertLink(taxon, pair[0], pair[1], float64(i+1)/10)
		require.NoError(t, err)
	}
	snapshot := s.Export()
	require.Len(t, snapshot.Links, 3)

	restored := newTestStore()
	require.NoError(t, restored.Import(snapshot))
	assert.Equal(t, snapshot, restored.Export())
	assert.Equal(t, map[domain.TaxonID]int{domain.TaxonRat: 2, domain.TaxonHuman: 1}, restored.Stats())
	assert.Len(t, restored.Neighbors(domain.TaxonRat, "G2", 1), 2)
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	cases := []struct {
		name string
		link domain.CoexpressionLink
	}{
		{"reversed key", domain.CoexpressionLink{Key: domain.LinkKey{A: "G2", B: "G1"}, TaxonID: domain.TaxonRat, Support: 1}},
		{"zero support", domain.CoexpressionLink{Key: domain.LinkKey{A: "G1", B: "G2"}, TaxonID: domain.TaxonRat}},
		{"wrong taxon", domain.CoexpressionLink{Key: domain.LinkKey{A: "G1", B: "G2"}, TaxonID: domain.TaxonHuman, Support: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			_, err := s.UpsertLink(domain.TaxonRat, "G3", "G4", 0.2)
			require.NoError(t, err)
			assert.Error(t, s.Import(Snapshot{Links: []domain.CoexpressionLink{tc.link}}))
			_, ok := s.Lookup(domain.TaxonRat, "G3", "G4")
			assert.True(t, ok, "failed import must leave the store intact")
		})
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

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	buckets := mapBuckets{}
	s := newTestStore()
	require.NoError(t, s.Load(ctx, buckets))

	_, err := s.UpsertLink(domain.TaxonRat, "G1", "G2", 0.25)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, buckets))

	restored := newTestStore()
	require.NoError(t, restored.Load(ctx, buckets))
	link, ok := restored.Lookup(domain.TaxonRat, "G1", "G2")
	require.True(t, ok)
	assert.InDelta(t, 0.25, link.Score(), 1e-12)

	buckets[StateBucket] = []byte("{")
	assert.Error(t, restored.Load(ctx, buckets))
}

func BenchmarkUpsertParallel(b *testing.B) {
	s := newTestStore()
	keys := make([][2]domain.GeneID, 0, 6)
	ids := []domain.GeneID{"G1", "G2", "G3", "G4"}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			keys = append(keys, [2]domain.GeneID{ids[i], ids[j]})
		}
	}
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			k := keys[i%len(keys)]
			if _, err := s.UpsertLink(domain.TaxonRat, k[0], k[1], 0.1); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
