package main

import (
	"coexcore/internal/blob"
	"coexcore/internal/core"
	"coexcore/internal/export"
	"coexcore/internal/graphsync"
	"context"

	"github.com/spf13/cobra"
)

func taxaFromFlags(ids []int64) []core.TaxonID {
	out := make([]core.TaxonID, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.TaxonID(id))
	}
	return out
}

func exportCommand(a *app) *cobra.Command {
	var taxa []int64
	var formats []string
	var minSupport int
	var presign bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write link partitions to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := export.Request{Taxa: taxaFromFlags(taxa), MinSupport: minSupport, RequestedBy: a.actor}
			for _, f := range formats {
				format, err := export.ParseFormat(f)
				if err != nil {
					return err
				}
				req.Formats = append(req.Formats, format)
			}
			return a.run(cmd, false, func(ctx context.Context, svc *core.Service) error {
				store, err := blob.Open(ctx, a.settings.BlobConfig())
				if err != nil {
					return err
				}
				artifacts, err := export.NewExporter(svc.Links(), store).Export(ctx, req)
				if err != nil {
					return err
				}
				type row struct {
					export.Artifact
					URL string `json:"url,omitempty"`
				}
				out := make([]row, 0, len(artifacts))
				for _, art := range artifacts {
					r := row{Artifact: art}
					if presign {
						url, err := store.PresignURL(ctx, art.Info.Key, blob.SignedURLOptions{})
						if err != nil {
							a.log.Warn("presign failed", "key", art.Info.Key, "error", err)
						} else {
							r.URL = url
						}
					}
					out = append(out, r)
				}
				return a.print(out)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&taxa, "taxon", nil, "taxa to export (default all)")
	cmd.Flags().StringSliceVar(&formats, "format", []string{string(export.FormatJSONL)}, "jsonl and/or csv")
	cmd.Flags().IntVar(&minSupport, "min-support", 1, "minimum supporting runs")
	cmd.Flags().BoolVar(&presign, "presign", false, "include a download URL per artifact")
	return cmd
}

func graphSyncCommand(a *app) *cobra.Command {
	var taxa []int64
	cmd := &cobra.Command{
		Use:   "graph-sync",
		Short: "Mirror link partitions into the graph database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, false, func(ctx context.Context, svc *core.Service) error {
				runner, closeRunner, err := a.openGraph(ctx, a.settings.GraphConfig())
				if err != nil {
					return err
				}
				defer func() { _ = closeRunner(ctx) }()
				syncer := graphsync.NewSyncer(runner, svc.Links(), svc.Store(),
					graphsync.WithBatchSize(a.settings.Graph.BatchSize),
					graphsync.WithTaxonCatalog(svc),
					graphsync.WithLogger(a.log))
				reports, err := syncer.Sync(ctx, taxaFromFlags(taxa)...)
				if err != nil {
					return err
				}
				return a.print(reports)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&taxa, "taxon", nil, "taxa to sync (default all)")
	return cmd
}
