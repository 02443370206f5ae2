// Package graphsync mirrors taxon link partitions into a property graph as
// (:Gene)-[:COEXPRESSED_WITH]->(:Gene) relationships.
package graphsync

import (
	"coexcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	constraintGeneID = `CREATE CONSTRAINT gene_id_unique IF NOT EXISTS FOR (g:Gene) REQUIRE g.id IS UNIQUE`
	indexGeneTaxon   = `CREATE INDEX gene_taxon_idx IF NOT EXISTS FOR (g:Gene) ON (g.taxon)`

	mergeGenes = `
UNWIND $genes AS n
MERGE (g:Gene {id: n.id})
SET g.symbol = n.symbol,
    g.taxon = n.taxon,
    g.synced_at = n.synced_at
`
	mergeLinks = `
UNWIND $links AS r
MATCH (a:Gene {id: r.a})
MATCH (b:Gene {id: r.b})
MERGE (a)-[e:COEXPRESSED_WITH]->(b)
SET e.taxon = r.taxon,
    e.support = r.support,
    e.score = r.score,
    e.synced_at = r.synced_at
`
	pruneLinks = `
MATCH (:Gene {taxon: $taxon})-[e:COEXPRESSED_WITH]->(:Gene)
WHERE e.synced_at <> $synced_at
DELETE e
`
)

// LinkSource lists link partitions.
type LinkSource interface {
	Taxa() []domain.TaxonID
	Partition(taxon domain.TaxonID) []domain.CoexpressionLink
}

// GeneSource resolves gene records for node properties.
type GeneSource interface {
	GetGene(id domain.GeneID) (domain.Gene, bool)
}

// TaxonCatalog lists registered taxa, including those with no links left.
type TaxonCatalog interface {
	TaxonIDs(ctx context.Context) ([]domain.TaxonID, error)
}

// Logger receives schema warnings.
type Logger interface {
	Warn(msg string, kv ...any)
}

// TaxonReport summarises one partition sync.
type TaxonReport struct {
	Taxon    domain.TaxonID `json:"taxon"`
	Genes    int            `json:"genes"`
	Links    int            `json:"links"`
	Counters Counters       `json:"counters"`
}

// Syncer writes partitions through a Runner.
type Syncer struct {
	runner    Runner
	links     LinkSource
	genes     GeneSource
	catalog   TaxonCatalog
	logger    Logger
	batchSize int
	now       func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchSize caps the rows per UNWIND statement.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the warning sink.
func WithLogger(l Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTaxonCatalog adds registered taxa to a full sync so partitions that
// lost every link are still pruned.
func WithTaxonCatalog(c TaxonCatalog) Option {
	return func(s *Syncer) { s.catalog = c }
}

// WithClock overrides the synced_at stamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// NewSyncer wires a runner to the link and gene sources.
func NewSyncer(runner Runner, links LinkSource, genes GeneSource, opts ...Option) *Syncer {
	s := &Syncer{
		runner:    runner,
		links:     links,
		genes:     genes,
		logger:    nopLogger{},
		batchSize: 500,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the gene constraint and index. Failures are logged
// and ignored since restricted users may lack schema rights.
func (s *Syncer) EnsureSchema(ctx context.Context) {
	for _, cypher := range []string{constraintGeneID, indexGeneTaxon} {
		if err := s.runner.Schema(ctx, cypher); err != nil {
			s.logger.Warn("graph schema init failed (continuing)", "error", err)
		}
	}
}

// Sync replaces the graph image of each taxon with its current partition.
// An empty taxa syncs every partition plus every catalog taxon. Each taxon is written in one
// transaction; relationships not touched by it are deleted.
func (s *Syncer) Sync(ctx context.Context, taxa ...domain.TaxonID) ([]TaxonReport, error) {
	if s.runner == nil {
		return nil, errors.New("graphsync: runner not configured")
	}
	if len(taxa) == 0 {
		taxa = slices.Clone(s.links.Taxa())
		if s.catalog != nil {
			known, err := s.catalog.TaxonIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("graphsync: list taxa: %w", err)
			}
			taxa = append(taxa, known...)
		}
	}
	taxa = slices.Clone(taxa)
	slices.Sort(taxa)
	taxa = slices.Compact(taxa)

	s.EnsureSchema(ctx)
	reports := make([]TaxonReport, 0, len(taxa))
	for _, taxon := range taxa {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.syncTaxon(ctx, taxon)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *Syncer) syncTaxon(ctx context.Context, taxon domain.TaxonID) (TaxonReport, error) {
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	links := s.links.Partition(taxon)

	seen := make(map[domain.GeneID]struct{}, len(links))
	var genes []map[string]any
	addGene := func(id domain.GeneID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		symbol := ""
		if g, ok := s.genes.GetGene(id); ok {
			symbol = g.Symbol
		}
		genes = append(genes, map[string]any{
			"id":        string(id),
			"symbol":    symbol,
			"taxon":     int64(taxon),
			"synced_at": stamp,
		})
	}
	rels := make([]map[string]any, 0, len(links))
	for _, l := range links {
		addGene(l.Key.A)
		addGene(l.Key.B)
		rels = append(rels, map[string]any{
			"a":         string(l.Key.A),
			"b":         string(l.Key.B),
			"taxon":     int64(taxon),
			"support":   int64(l.Support),
			"score":     l.Score(),
			"synced_at": stamp,
		})
	}

	var stmts []Statement
	for batch := range slices.Chunk(genes, s.batchSize) {
		stmts = append(stmts, Statement{Cypher: mergeGenes, Params: map[string]any{"genes": batch}})
	}
	for batch := range slices.Chunk(rels, s.batchSize) {
		stmts = append(stmts, Statement{Cypher: mergeLinks, Params: map[string]any{"links": batch}})
	}
	stmts = append(stmts, Statement{Cypher: pruneLinks, Params: map[string]any{"taxon": int64(taxon), "synced_at": stamp}})

	counters, err := s.runner.Write(ctx, stmts)
	if err != nil {
		return TaxonReport{}, err
	}
	return TaxonReport{Taxon: taxon, Genes: len(genes), Links: len(rels), Counters: counters}, nil
}
