package memory

import (
	"coexcore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"go/build"
	"strings"
	"testing"
	"time"
)

func seedRat(t *testing.T, store *Store) domain.Experiment {
	t.Helper()
	var exp domain.Experiment
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonRat, CommonName: "rat"}); err != nil {
			return err
		}
		for _, id := range []domain.GeneID{"G1", "G2"} {
			if _, err := tx.CreateGene(domain.Gene{ID: id, TaxonID: domain.TaxonRat}); err != nil {
				return err
			}
		}
		var err error
		exp, err = tx.CreateExperiment(domain.Experiment{ShortName: "GSE1", TaxonID: domain.TaxonRat})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return exp
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindExperiment("missing"); ok {
			t.Fatalf("expected missing experiment lookup")
		}
		if _, err := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonHuman}); err != nil {
			return err
		}
		created, err := tx.CreateExperiment(domain.Experiment{ShortName: "GSE2", TaxonID: domain.TaxonHuman})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if len(tx.Snapshot().ListExperiments()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListExperiments()) != 1 {
		t.Fatalf("expected persisted experiment")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListExperiments()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListExperiments()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	exp := seedRat(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.UpdateExperiment(exp.ID, func(e *domain.Experiment) error {
			e.Name = "renamed"
			return nil
		}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	got, _ := store.GetExperiment(exp.ID)
	if got.Name != "" {
		t.Fatalf("expected rollback, got name %q", got.Name)
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonMouse})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock, Message: "no"}}}, nil
}

func TestReferentialGuards(t *testing.T) {
	store := NewStore(nil)
	exp := seedRat(t, store)
	ctx := context.Background()
	var run domain.AnalysisRun
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		r, _ := domain.NewAnalysisRun(exp, time.Now())
		var err error
		run, err = tx.CreateAnalysisRun(r)
		if err != nil {
			return err
		}
		_, err = tx.CreateEvidence(domain.Evidence{AnalysisRunID: run.ID, GeneID: "G1", TaxonID: domain.TaxonRat})
		return err
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	cases := []struct {
		name string
		fn   func(tx domain.Transaction) error
	}{
		{"experiment with run", func(tx domain.Transaction) error { return tx.DeleteExperiment(exp.ID) }},
		{"run with evidence", func(tx domain.Transaction) error { return tx.DeleteAnalysisRun(run.ID) }},
		{"gene with evidence", func(tx domain.Transaction) error { return tx.DeleteGene("G1") }},
		{"gene without taxon", func(tx domain.Transaction) error {
			_, err := tx.CreateGene(domain.Gene{ID: "X", TaxonID: 1})
			return err
		}},
		{"duplicate taxon", func(tx domain.Transaction) error {
			_, err := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonRat})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.RunInTransaction(ctx, tc.fn); err == nil {
				t.Fatalf("expected guard error")
			}
		})
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteExperiment("missing")
	}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteGeneGuardsActiveContributions(t *testing.T) {
	store := NewStore(nil)
	exp := seedRat(t, store)
	ctx := context.Background()
	key, _ := domain.NewLinkKey("G1", "G2")
	var runID string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		r, _ := domain.NewAnalysisRun(exp, time.Now())
		r.Status = domain.RunStatusActive
		r.Contributions = []domain.LinkContribution{{Key: key, Delta: 0.7}}
		created, err := tx.CreateAnalysisRun(r)
		runID = created.ID
		return err
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	deleteG2 := func(tx domain.Transaction) error { return tx.DeleteGene("G2") }
	if _, err := store.RunInTransaction(ctx, deleteG2); err == nil || !strings.Contains(err.Error(), runID) {
		t.Fatalf("expected active run guard naming %s, got %v", runID, err)
	}
	if _, ok := store.GetGene("G2"); !ok {
		t.Fatalf("gene must survive the rejected delete")
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateAnalysisRun(runID, func(r *domain.AnalysisRun) error {
			r.Status = domain.RunStatusRetracted
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("retract run: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, deleteG2); err != nil {
		t.Fatalf("delete after retract: %v", err)
	}
}

func TestRunContributionsAreCopied(t *testing.T) {
	store := NewStore(nil)
	exp := seedRat(t, store)
	key, _ := domain.NewLinkKey("G1", "G2")
	var runID string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		r, _ := domain.NewAnalysisRun(exp, time.Now())
		r.Contributions = []domain.LinkContribution{{Key: key, Delta: 0.5}}
		created, err := tx.CreateAnalysisRun(r)
		runID = created.ID
		return err
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	got, ok := store.GetAnalysisRun(runID)
	if !ok {
		t.Fatalf("expected run")
	}
	got.Contributions[0].Delta = 9
	again, _ := store.GetAnalysisRun(runID)
	if again.Contributions[0].Delta != 0.5 {
		t.Fatalf("stored contributions mutated through returned copy")
	}
}

func TestBuckets(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	if _, ok, err := store.LoadBucket(ctx, "links"); ok || err != nil {
		t.Fatalf("expected empty bucket, ok=%v err=%v", ok, err)
	}
	payload := []byte(`{"a":1}`)
	if err := store.SaveBucket(ctx, "links", payload); err != nil {
		t.Fatalf("save: %v", err)
	}
	payload[0] = 'x'
	got, ok, err := store.LoadBucket(ctx, "links")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("unexpected bucket: %q ok=%v err=%v", got, ok, err)
	}
	if err := store.SaveBucket(ctx, "", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty bucket")
	}
	if len(store.ExportBuckets()) != 1 {
		t.Fatalf("expected one exported bucket")
	}
}

func TestImportsAreDomainOrStdlib(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if strings.HasPrefix(imp, "coexcore/") && imp != "coexcore/pkg/domain" {
			t.Fatalf("unexpected dependency: %s", imp)
		}
	}
}
