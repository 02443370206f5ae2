package main

import (
	"coexcore/internal/analysis"
	"coexcore/internal/core"
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func analysisCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "analysis", Short: "Create, ingest and retract analysis runs"}

	var experiment string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an analysis run for an experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				run, err := svc.CreateAnalysisRun(ctx, experiment, a.actor)
				if err != nil {
					return err
				}
				return a.print(run)
			})
		},
	}
	create.Flags().StringVar(&experiment, "experiment", "", "experiment id")
	_ = create.MarkFlagRequired("experiment")

	var elementsFile string
	ingest := &cobra.Command{
		Use:   "ingest RUN FILE",
		Short: "Ingest scored pairs from a TSV of gene_a, gene_b, score",
		Long: "Ingest scored pairs into a run. The run's previous contributions are replaced.\n" +
			"Every gene in FILE counts as analyzed; --elements adds genes that produced no pair.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scores, err := readScores(args[1])
			if err != nil {
				return err
			}
			var elements []core.GeneID
			if elementsFile != "" {
				rows, err := readTSV(elementsFile, 1)
				if err != nil {
					return err
				}
				for _, r := range rows {
					elements = append(elements, core.GeneID(r[0]))
				}
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				res, err := svc.IngestAnalysis(ctx, args[0], elements, scores, a.actor)
				if err != nil {
					return err
				}
				return a.print(res)
			})
		},
	}
	ingest.Flags().StringVar(&elementsFile, "elements", "", "file listing analyzed gene ids, one per line")

	correlate := &cobra.Command{
		Use:   "correlate RUN SIGNAL_A SIGNAL_B",
		Short: "Normalize two-channel signal, correlate every gene pair and ingest the strong pairs",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigA, err := readMatrix(args[1])
			if err != nil {
				return err
			}
			sigB, err := readMatrix(args[2])
			if err != nil {
				return err
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				opts := append(a.settings.PipelineOptions(), analysis.WithActor(a.actor))
				results, err := svc.RunPipeline(ctx, analysis.LogRatioNormalizer{},
					[]analysis.Job{{RunID: args[0], SignalA: sigA, SignalB: sigB}}, opts...)
				if err != nil {
					return err
				}
				return a.print(results[0])
			})
		},
	}

	retract := &cobra.Command{
		Use:   "retract RUN",
		Short: "Retract a run and remove its link contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				run, err := svc.RetractAnalysis(ctx, args[0], a.actor)
				if err != nil {
					return err
				}
				return a.print(run)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete RUN",
		Short: "Delete a run that holds no contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				_, err := svc.DeleteAnalysisRun(ctx, args[0])
				return err
			})
		},
	}

	cmd.AddCommand(create, ingest, correlate, retract, del)
	return cmd
}

func neighborsCommand(a *app) *cobra.Command {
	var taxon int64
	var minSupport int
	cmd := &cobra.Command{
		Use:   "neighbors GENE",
		Short: "List a gene's coexpression links, strongest |score| first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, false, func(ctx context.Context, svc *core.Service) error {
				links, err := svc.Neighbors(ctx, core.TaxonID(taxon), core.GeneID(args[0]), minSupport)
				if err != nil {
					return err
				}
				type neighbor struct {
					Gene    core.GeneID `json:"gene"`
					Support int         `json:"support"`
					Score   float64     `json:"score"`
				}
				out := make([]neighbor, 0, len(links))
				for _, l := range links {
					partner, _ := l.Key.Partner(core.GeneID(args[0]))
					out = append(out, neighbor{Gene: partner, Support: l.Support, Score: l.Score()})
				}
				return a.print(out)
			})
		},
	}
	cmd.Flags().Int64Var(&taxon, "taxon", 0, "taxon partition")
	cmd.Flags().IntVar(&minSupport, "min-support", 1, "minimum supporting runs")
	_ = cmd.MarkFlagRequired("taxon")
	return cmd
}

func statsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count live links per taxon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, false, func(_ context.Context, svc *core.Service) error {
				out := make(map[string]int)
				for taxon, n := range svc.LinkCounts() {
					out[strconv.FormatInt(int64(taxon), 10)] = n
				}
				return a.print(out)
			})
		},
	}
}

func readScores(path string) ([]analysis.Score, error) {
	rows, err := readTSV(path, 3)
	if err != nil {
		return nil, err
	}
	scores := make([]analysis.Score, 0, len(rows))
	for i, r := range rows {
		v, err := strconv.ParseFloat(r[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: score %q: %w", path, i+1, r[2], domain.ErrInvalidArgument)
		}
		scores = append(scores, analysis.Score{A: core.GeneID(r[0]), B: core.GeneID(r[1]), Value: v})
	}
	return scores, nil
}

// readMatrix reads rows of gene id followed by one value per sample.
func readMatrix(path string) (analysis.Matrix, error) {
	rows, err := readTSV(path, 2)
	if err != nil {
		return analysis.Matrix{}, err
	}
	var m analysis.Matrix
	for i, r := range rows {
		values := make([]float64, 0, len(r)-1)
		for _, s := range r[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return analysis.Matrix{}, fmt.Errorf("%s row %d: value %q: %w", path, i+1, s, domain.ErrInvalidArgument)
			}
			values = append(values, v)
		}
		m.Elements = append(m.Elements, core.GeneID(r[0]))
		m.Values = append(m.Values, values)
	}
	return m, m.Validate()
}
