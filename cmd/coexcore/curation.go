package main

import (
	"coexcore/internal/core"
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// parseRef accepts TYPE/ID where TYPE is experiment or analysis_run (run
// for short).
func parseRef(s string) (core.EntityRef, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return core.EntityRef{}, fmt.Errorf("%w: reference %q is not TYPE/ID", domain.ErrInvalidArgument, s)
	}
	switch strings.ToLower(kind) {
	case "experiment":
		return core.EntityRef{Type: core.EntityExperiment, ID: id}, nil
	case "run", "analysis_run":
		return core.EntityRef{Type: core.EntityAnalysisRun, ID: id}, nil
	}
	return core.EntityRef{}, fmt.Errorf("%w: %q is not a curatable type", domain.ErrInvalidArgument, kind)
}

func parseStatus(s string) (core.CurationStatus, error) {
	status := core.CurationStatus(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown curation status %q", domain.ErrInvalidArgument, s)
	}
	return status, nil
}

func curateCommand(a *app) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "curate REF STATUS",
		Short: "Move an experiment or run to a curation status",
		Long:  "STATUS is one of needs_attention, curated, troubled.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			to, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				event, err := svc.Transition(ctx, ref, to, a.actor, note)
				if err != nil {
					return err
				}
				return a.print(event)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note attached to the audit event")

	noteCmd := &cobra.Command{
		Use:   "note REF TEXT",
		Short: "Replace the curation note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, true, func(ctx context.Context, svc *core.Service) error {
				event, err := svc.UpdateCurationNote(ctx, ref, a.actor, args[1])
				if err != nil {
					return err
				}
				return a.print(event)
			})
		},
	}
	cmd.AddCommand(noteCmd)
	return cmd
}

func auditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit REF",
		Short: "Show curation details and the audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, false, func(_ context.Context, svc *core.Service) error {
				details, ok := svc.CurationDetails(ref)
				if !ok {
					return domain.NotFoundError{Entity: ref.Type, ID: ref.ID}
				}
				trail := svc.AuditTrail(ref)
				if trail == nil {
					trail = []core.AuditEvent{}
				}
				return a.print(struct {
					Curation core.CurationDetails `json:"curation"`
					Trail    []core.AuditEvent    `json:"trail"`
				}{details, trail})
			})
		},
	}
}
