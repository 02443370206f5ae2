// Package export writes coexpression link partitions to the blob store as
// immutable artifacts.
package export

import (
	"bufio"
	"bytes"
	"coexcore/internal/blob"
	"coexcore/pkg/domain"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Format selects an artifact encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	default:
		return "application/x-ndjson"
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSONL, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidArgument, s)
}

// PartitionSource lists link partitions.
type PartitionSource interface {
	Taxa() []domain.TaxonID
	Partition(taxon domain.TaxonID) []domain.CoexpressionLink
}

// Row is one exported link.
type Row struct {
	Taxon   domain.TaxonID `json:"taxon"`
	GeneA   domain.GeneID  `json:"gene_a"`
	GeneB   domain.GeneID  `json:"gene_b"`
	Support int            `json:"support"`
	Score   float64        `json:"score"`
}

// Request selects what to export. An empty Taxa exports every partition.
type Request struct {
	Taxa        []domain.TaxonID
	Formats     []Format
	MinSupport  int
	RequestedBy string
}

// Artifact describes one stored export object.
type Artifact struct {
	Taxon  domain.TaxonID `json:"taxon"`
	Format Format         `json:"format"`
	Links  int            `json:"links"`
	Info   blob.Info      `json:"info"`
}

// Exporter renders partitions and stores them.
type Exporter struct {
	links PartitionSource
	store blob.Store
	now   func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the timestamp used in artifact keys.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExporter returns an exporter reading links and writing to store.
func NewExporter(links PartitionSource, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{links: links, store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the object key of an export taken at ts.
func Key(taxon domain.TaxonID, ts time.Time, format Format) string {
	return fmt.Sprintf("links/%d/%s.%s", taxon, ts.UTC().Format("20060102T150405.000000000Z"), format)
}

// Export writes one artifact per taxon and format. Artifacts already written
// stay in place when a later one fails.
func (e *Exporter) Export(ctx context.Context, req Request) ([]Artifact, error) {
	if e.store == nil {
		return nil, errors.New("export store not configured")
	}
	formats := slices.Clone(req.Formats)
	if len(formats) == 0 {
		formats = []Format{FormatJSONL}
	}
	slices.Sort(formats)
	formats = slices.Compact(formats)
	for _, f := range formats {
		if _, err := ParseFormat(string(f)); err != nil {
			return nil, err
		}
	}
	taxa := slices.Clone(req.Taxa)
	if len(taxa) == 0 {
		taxa = e.links.Taxa()
	}
	slices.Sort(taxa)
	taxa = slices.Compact(taxa)

	ts := e.now()
	var out []Artifact
	for _, taxon := range taxa {
		rows := e.rows(taxon, req.MinSupport)
		for _, format := range formats {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			payload, err := Encode(format, rows)
			if err != nil {
				return out, err
			}
			info, err := e.store.Put(ctx, Key(taxon, ts, format), bytes.NewReader(payload), blob.PutOptions{
				ContentType: format.contentType(),
				Metadata: map[string]string{
					"taxon":        strconv.FormatInt(int64(taxon), 10),
					"links":        strconv.Itoa(len(rows)),
					"min_support":  strconv.Itoa(req.MinSupport),
					"requested_by": req.RequestedBy,
				},
			})
			if err != nil {
				return out, fmt.Errorf("store taxon %d %s: %w", taxon, format, err)
			}
			out = append(out, Artifact{Taxon: taxon, Format: format, Links: len(rows), Info: info})
		}
	}
	return out, nil
}

func (e *Exporter) rows(taxon domain.TaxonID, minSupport int) []Row {
	links := e.links.Partition(taxon)
	rows := make([]Row, 0, len(links))
	for _, l := range links {
		if l.Support < minSupport {
			continue
		}
		rows = append(rows, Row{Taxon: taxon, GeneA: l.Key.A, GeneB: l.Key.B, Support: l.Support, Score: l.Score()})
	}
	return rows
}

// Encode renders rows in format.
func Encode(format Format, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(&buf)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	case FormatCSV:
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"taxon", "gene_a", "gene_b", "support", "score"})
		for _, r := range rows {
			_ = w.Write([]string{
				strconv.FormatInt(int64(r.Taxon), 10),
				string(r.GeneA),
				string(r.GeneB),
				strconv.Itoa(r.Support),
				strconv.FormatFloat(r.Score, 'g', -1, 64),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidArgument, format)
	}
	return buf.Bytes(), nil
}

// DecodeJSONL reads rows written by Encode(FormatJSONL, ...).
func DecodeJSONL(r io.Reader) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var row Row
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

// Latest returns the most recent artifact of taxon in format, by key order.
func Latest(ctx context.Context, store blob.Store, taxon domain.TaxonID, format Format) (blob.Info, bool, error) {
	infos, err := store.List(ctx, fmt.Sprintf("links/%d/", taxon))
	if err != nil {
		return blob.Info{}, false, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		if strings.HasSuffix(infos[i].Key, "."+string(format)) {
			return infos[i], true, nil
		}
	}
	return blob.Info{}, false, nil
}
