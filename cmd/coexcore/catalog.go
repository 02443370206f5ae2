package main

import (
	"coexcore/internal/core"
	"coexcore/internal/evidence"
	"coexcore/pkg/domain"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func taxonCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "taxon", Short: "Manage taxa"}
	var t core.Taxon
	var id int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a taxon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t.ID = core.TaxonID(id)
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				created, _, err := svc.CreateTaxon(ctx, t)
				if err != nil {
					return err
				}
				return a.print(created)
			})
		},
	}
	create.Flags().Int64Var(&id, "id", 0, "NCBI taxon id")
	create.Flags().StringVar(&t.CommonName, "common", "", "common name")
	create.Flags().StringVar(&t.ScientificName, "scientific", "", "scientific name")
	_ = create.MarkFlagRequired("id")
	cmd.AddCommand(create)
	return cmd
}

func geneCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "gene", Short: "Manage genes"}
	var g core.Gene
	var id string
	var taxon int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a gene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g.ID = core.GeneID(id)
			g.TaxonID = core.TaxonID(taxon)
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				created, _, err := svc.CreateGene(ctx, g)
				if err != nil {
					return err
				}
				return a.print(created)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "gene id")
	create.Flags().StringVar(&g.Symbol, "symbol", "", "gene symbol")
	create.Flags().Int64Var(&taxon, "taxon", 0, "owning taxon id")
	_ = create.MarkFlagRequired("id")
	_ = create.MarkFlagRequired("taxon")

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Register genes from a TSV of id, symbol, taxon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readTSV(args[0], 3)
			if err != nil {
				return err
			}
			genes := make([]core.Gene, 0, len(rows))
			for i, r := range rows {
				taxon, err := strconv.ParseInt(r[2], 10, 64)
				if err != nil {
					return fmt.Errorf("%s row %d: taxon %q: %w", args[0], i+1, r[2], domain.ErrInvalidArgument)
				}
				genes = append(genes, core.Gene{ID: core.GeneID(r[0]), Symbol: r[1], TaxonID: core.TaxonID(taxon)})
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				for _, g := range genes {
					if _, _, err := svc.CreateGene(ctx, g); err != nil {
						return fmt.Errorf("gene %s: %w", g.ID, err)
					}
				}
				return a.print(map[string]int{"imported": len(genes)})
			})
		},
	}
	cmd.AddCommand(create, imp)
	return cmd
}

func experimentCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "experiment", Short: "Manage experiments"}
	var shortName, name string
	var taxon int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				exp, details, err := svc.CreateExperiment(ctx, shortName, name, core.TaxonID(taxon), a.actor)
				if err != nil {
					return err
				}
				return a.print(struct {
					Experiment core.Experiment      `json:"experiment"`
					Curation   core.CurationDetails `json:"curation"`
				}{exp, details})
			})
		},
	}
	create.Flags().StringVar(&shortName, "short", "", "short name, e.g. GSE accession")
	create.Flags().StringVar(&name, "name", "", "descriptive name")
	create.Flags().Int64Var(&taxon, "taxon", 0, "taxon id")
	_ = create.MarkFlagRequired("short")
	_ = create.MarkFlagRequired("taxon")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an experiment without active analysis runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				_, err := svc.DeleteExperiment(ctx, args[0])
				return err
			})
		},
	}
	cmd.AddCommand(create, del)
	return cmd
}

func evidenceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "evidence", Short: "Record and query phenotype evidence"}

	var ev core.Evidence
	var gene string
	var taxon int64
	record := &cobra.Command{
		Use:   "record",
		Short: "Record evidence produced by an analysis run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev.GeneID = core.GeneID(gene)
			ev.TaxonID = core.TaxonID(taxon)
			if ev.Owner == "" {
				ev.Owner = a.actor
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				created, _, err := svc.RecordEvidence(ctx, ev)
				if err != nil {
					return err
				}
				return a.print(created)
			})
		},
	}
	record.Flags().StringVar(&ev.AnalysisRunID, "run", "", "analysis run id")
	record.Flags().StringVar(&gene, "gene", "", "gene id")
	record.Flags().StringVar(&ev.Phenotype, "phenotype", "", "phenotype term")
	record.Flags().Int64Var(&taxon, "taxon", 0, "taxon id")
	record.Flags().Int64Var(&ev.ExternalDatabaseID, "database", 0, "external database id")
	record.Flags().StringVar(&ev.Owner, "owner", "", "owning principal (defaults to --actor)")
	_ = record.MarkFlagRequired("run")
	_ = record.MarkFlagRequired("gene")

	var queryTaxon int64
	var editable bool
	var databases []int64
	query := &cobra.Command{
		Use:   "query",
		Short: "List evidence admitted by a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := evidence.NewFilter(core.TaxonID(queryTaxon), editable)
			if cmd.Flags().Changed("database") {
				f = f.RestrictToDatabases(databases...)
			}
			return a.run(cmd, false, func(ctx context.Context, svc *core.Service) error {
				found, err := svc.QueryEvidence(ctx, f, a.actor)
				if err != nil {
					return err
				}
				if found == nil {
					found = []core.Evidence{}
				}
				return a.print(found)
			})
		},
	}
	query.Flags().Int64Var(&queryTaxon, "taxon", 0, "restrict to a taxon")
	query.Flags().BoolVar(&editable, "editable", false, "only evidence the actor may edit")
	query.Flags().Int64SliceVar(&databases, "database", nil, "restrict to external database ids")

	cmd.AddCommand(record, query)
	return cmd
}

// readTSV reads tab separated rows with at least minFields columns. Blank
// lines and lines starting with # are skipped.
func readTSV(path string, minFields int) ([][]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(rec) < minFields {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%s line %d: want %d fields, got %d: %w", path, line, minFields, len(rec), domain.ErrInvalidArgument)
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
}
