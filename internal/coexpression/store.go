// Package coexpression holds the per-taxon coexpression link store.
//
// Each taxon owns an independent partition. Writers to one gene pair are
// serialized by that pair's entry lock; different pairs never block each
// other beyond the short partition-map critical section used to create or
// purge an entry.
package coexpression

import (
	"cmp"
	"coexcore/pkg/domain"
	"fmt"
	"iter"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultMaxRetries bounds how often an upsert re-resolves an entry that was
// purged between lookup and lock.
const DefaultMaxRetries = 8

// GeneResolver maps a gene to the taxon it belongs to.
type GeneResolver interface {
	TaxonOf(gene domain.GeneID) (domain.TaxonID, bool)
}

// ResolverFunc adapts a function to GeneResolver.
type ResolverFunc func(domain.GeneID) (domain.TaxonID, bool)

// TaxonOf implements GeneResolver.
func (f ResolverFunc) TaxonOf(g domain.GeneID) (domain.TaxonID, bool) { return f(g) }

// LinkHandle is the state of a link immediately after an upsert.
type LinkHandle struct {
	domain.CoexpressionLink
	Created bool
}

// Store is the taxon-partitioned link store.
type Store struct {
	resolver   GeneResolver
	maxRetries int

	mu         sync.RWMutex
	partitions map[domain.TaxonID]*partition
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStore returns an empty store that validates genes through resolver.
func NewStore(resolver GeneResolver, opts ...Option) *Store {
	s := &Store{
		resolver:   resolver,
		maxRetries: DefaultMaxRetries,
		partitions: make(map[domain.TaxonID]*partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type partition struct {
	taxon domain.TaxonID

	mu        sync.RWMutex
	links     map[domain.LinkKey]*entry
	adjacency map[domain.GeneID]map[domain.LinkKey]struct{}
}

func newPartition(taxon domain.TaxonID) *partition {
	return &partition{
		taxon:     taxon,
		links:     make(map[domain.LinkKey]*entry),
		adjacency: make(map[domain.GeneID]map[domain.LinkKey]struct{}),
	}
}

// entry is one link record. support and sum are guarded by mu; dead is set
// under mu once support reaches zero and never cleared.
type entry struct {
	key     domain.LinkKey
	mu      sync.Mutex
	support int
	sum     domain.ScoreUnits
	dead    atomic.Bool
}

func (e *entry) snapshot(taxon domain.TaxonID) domain.CoexpressionLink {
	return domain.CoexpressionLink{Key: e.key, TaxonID: taxon, Support: e.support, Sum: e.sum}
}

func (s *Store) partition(taxon domain.TaxonID, create bool) *partition {
	s.mu.RLock()
	p := s.partitions[taxon]
	s.mu.RUnlock()
	if p != nil || !create {
		return p
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p = s.partitions[taxon]; p == nil {
		p = newPartition(taxon)
		s.partitions[taxon] = p
	}
	return p
}

// entryFor returns the live entry for key, installing a fresh one when the key
// is absent or its previous entry was purged.
func (p *partition) entryFor(key domain.LinkKey) (*entry, bool) {
	p.mu.RLock()
	e := p.links[key]
	p.mu.RUnlock()
	if e != nil && !e.dead.Load() {
		return e, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e = p.links[key]; e != nil && !e.dead.Load() {
		return e, false
	}
	e = &entry{key: key}
	p.links[key] = e
	p.link(key.A, key)
	p.link(key.B, key)
	return e, true
}

func (p *partition) link(g domain.GeneID, key domain.LinkKey) {
	set := p.adjacency[g]
	if set == nil {
		set = make(map[domain.LinkKey]struct{})
		p.adjacency[g] = set
	}
	set[key] = struct{}{}
}

func (p *partition) unlink(g domain.GeneID, key domain.LinkKey) {
	set := p.adjacency[g]
	delete(set, key)
	if len(set) == 0 {
		delete(p.adjacency, g)
	}
}

// purge removes e from the partition unless it was already replaced.
func (p *partition) purge(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[e.key] != e {
		return
	}
	delete(p.links, e.key)
	p.unlink(e.key.A, e.key)
	p.unlink(e.key.B, e.key)
}

func (p *partition) lookup(key domain.LinkKey) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.links[key]
}

func (s *Store) checkTaxa(taxon domain.TaxonID, key domain.LinkKey) error {
	if taxon <= 0 {
		return fmt.Errorf("%w: taxon %d", domain.ErrInvalidArgument, taxon)
	}
	if s.resolver == nil {
		return nil
	}
	for _, g := range []domain.GeneID{key.A, key.B} {
		gt, ok := s.resolver.TaxonOf(g)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityGene, ID: string(g)}
		}
		if gt != taxon {
			return domain.CrossTaxonError{Partition: taxon, Gene: g, GeneTaxon: gt}
		}
	}
	return nil
}

// UpsertLink folds delta into the link for (a, b) in taxon's partition,
// creating it with support 1 when absent. Both genes must resolve to taxon.
func (s *Store) UpsertLink(taxon domain.TaxonID, a, b domain.GeneID, delta float64) (LinkHandle, error) {
	key, err := domain.NewLinkKey(a, b)
	if err != nil {
		return LinkHandle{}, err
	}
	units, err := domain.ToScoreUnits(delta)
	if err != nil {
		return LinkHandle{}, err
	}
	if err := s.checkTaxa(taxon, key); err != nil {
		return LinkHandle{}, err
	}
	p := s.partition(taxon, true)
	for range s.maxRetries {
		e, created := p.entryFor(key)
		e.mu.Lock()
		if e.dead.Load() {
			e.mu.Unlock()
			continue
		}
		if (units > 0 && e.sum > math.MaxInt64-units) || (units < 0 && e.sum < math.MinInt64-units) {
			e.mu.Unlock()
			return LinkHandle{}, fmt.Errorf("%w: aggregate overflow on %s", domain.ErrInvalidArgument, key)
		}
		e.support++
		e.sum += units
		link := e.snapshot(taxon)
		e.mu.Unlock()
		return LinkHandle{CoexpressionLink: link, Created: created}, nil
	}
	return LinkHandle{}, fmt.Errorf("upsert %s in taxon %d: %w", key, taxon, domain.ErrConcurrentModification)
}

// RemoveContribution reverses one UpsertLink with the same delta. The link is
// purged when its support reaches zero.
func (s *Store) RemoveContribution(taxon domain.TaxonID, a, b domain.GeneID, delta float64) error {
	key, err := domain.NewLinkKey(a, b)
	if err != nil {
		return err
	}
	units, err := domain.ToScoreUnits(delta)
	if err != nil {
		return err
	}
	notFound := domain.NotFoundError{Entity: domain.EntityLink, ID: fmt.Sprintf("%d/%s", taxon, key)}
	p := s.partition(taxon, false)
	if p == nil {
		return notFound
	}
	e := p.lookup(key)
	if e == nil {
		return notFound
	}
	e.mu.Lock()
	if e.dead.Load() || e.support == 0 {
		e.mu.Unlock()
		return notFound
	}
	e.support--
	e.sum -= units
	empty := e.support == 0
	if empty {
		e.dead.Store(true)
	}
	e.mu.Unlock()
	if empty {
		p.purge(e)
	}
	return nil
}

func (s *Store) read(p *partition, key domain.LinkKey) (domain.CoexpressionLink, bool) {
	e := p.lookup(key)
	if e == nil {
		return domain.CoexpressionLink{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead.Load() || e.support == 0 {
		return domain.CoexpressionLink{}, false
	}
	return e.snapshot(p.taxon), true
}

// Lookup returns the link for (a, b) in taxon's partition only.
func (s *Store) Lookup(taxon domain.TaxonID, a, b domain.GeneID) (domain.CoexpressionLink, bool) {
	key, err := domain.NewLinkKey(a, b)
	if err != nil {
		return domain.CoexpressionLink{}, false
	}
	p := s.partition(taxon, false)
	if p == nil {
		return domain.CoexpressionLink{}, false
	}
	return s.read(p, key)
}

// QueryNeighbors yields links touching gene with at least minSupport
// contributions, strongest |score| first, ties by smaller partner id. Every
// iteration takes a fresh snapshot, so the sequence may be ranged repeatedly.
func (s *Store) QueryNeighbors(taxon domain.TaxonID, gene domain.GeneID, minSupport int) iter.Seq[domain.CoexpressionLink] {
	return func(yield func(domain.CoexpressionLink) bool) {
		for _, link := range s.Neighbors(taxon, gene, minSupport) {
			if !yield(link) {
				return
			}
		}
	}
}

// Neighbors is the materialized form of QueryNeighbors.
func (s *Store) Neighbors(taxon domain.TaxonID, gene domain.GeneID, minSupport int) []domain.CoexpressionLink {
	p := s.partition(taxon, false)
	if p == nil {
		return nil
	}
	minSupport = max(minSupport, 1)
	p.mu.RLock()
	keys := make([]domain.LinkKey, 0, len(p.adjacency[gene]))
	for key := range p.adjacency[gene] {
		keys = append(keys, key)
	}
	p.mu.RUnlock()

	out := make([]domain.CoexpressionLink, 0, len(keys))
	for _, key := range keys {
		link, ok := s.read(p, key)
		if !ok || link.Support < minSupport {
			continue
		}
		out = append(out, link)
	}
	SortForGene(out, gene)
	return out
}

// SortForGene orders links by descending absolute score, breaking ties by the
// partner of gene.
func SortForGene(links []domain.CoexpressionLink, gene domain.GeneID) {
	slices.SortFunc(links, func(x, y domain.CoexpressionLink) int {
		if c := cmp.Compare(math.Abs(y.Score()), math.Abs(x.Score())); c != 0 {
			return c
		}
		px, _ := x.Key.Partner(gene)
		py, _ := y.Key.Partner(gene)
		return cmp.Compare(px, py)
	})
}

// Partition lists every live link in taxon's partition ordered by key.
func (s *Store) Partition(taxon domain.TaxonID) []domain.CoexpressionLink {
	p := s.partition(taxon, false)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	keys := make([]domain.LinkKey, 0, len(p.links))
	for key := range p.links {
		keys = append(keys, key)
	}
	p.mu.RUnlock()
	out := make([]domain.CoexpressionLink, 0, len(keys))
	for _, key := range keys {
		if link, ok := s.read(p, key); ok {
			out = append(out, link)
		}
	}
	slices.SortFunc(out, func(x, y domain.CoexpressionLink) int {
		if c := cmp.Compare(x.Key.A, y.Key.A); c != 0 {
			return c
		}
		return cmp.Compare(x.Key.B, y.Key.B)
	})
	return out
}

// Taxa lists taxa that currently hold a partition, ascending.
func (s *Store) Taxa() []domain.TaxonID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TaxonID, 0, len(s.partitions))
	for taxon := range s.partitions {
		out = append(out, taxon)
	}
	slices.Sort(out)
	return out
}

// Stats reports the number of live links per taxon.
func (s *Store) Stats() map[domain.TaxonID]int {
	out := make(map[domain.TaxonID]int)
	for _, taxon := range s.Taxa() {
		if n := len(s.Partition(taxon)); n > 0 {
			out[taxon] = n
		}
	}
	return out
}
