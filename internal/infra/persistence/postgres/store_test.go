package postgres

import (
	"coexcore/internal/infra/persistence/postgres/testutil"
	"coexcore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(ctx, "ignored", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonMouse}); err != nil {
			return err
		}
		_, err := tx.CreateExperiment(domain.Experiment{ShortName: "GSE9", TaxonID: domain.TaxonMouse})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if payload, ok := conn.Bucket("catalog/experiments"); !ok || !strings.Contains(string(payload), "GSE9") {
		t.Fatalf("expected experiments row, got %q", payload)
	}
	if err := store.SaveBucket(ctx, "links", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("save bucket: %v", err)
	}

	reloaded, err := NewStore(ctx, "ignored", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.ListExperiments()) != 1 {
		t.Fatalf("expected experiment after reload")
	}
	if payload, ok, _ := reloaded.LoadBucket(ctx, "links"); !ok || string(payload) != `{"x":1}` {
		t.Fatalf("expected links bucket after reload, got %q", payload)
	}
}

func TestPersistErrorsSurface(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	create := func(tx domain.Transaction) error {
		_, err := tx.CreateTaxon(domain.Taxon{ID: domain.TaxonHuman})
		return err
	}

	conn.FailBuckets = map[string]bool{"catalog/taxa": true}
	if _, err := store.RunInTransaction(ctx, create); err == nil || !strings.Contains(err.Error(), "catalog/taxa") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	conn.FailBuckets = nil
	conn.FailCommit = true
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected commit error")
	}
	conn.FailCommit = false
	conn.FailBegin = true
	if _, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected begin error")
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), "", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "", nil); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestLoadRowsDecodeError(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Rows["catalog/runs"] = []byte("{not json")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "", nil); err == nil || !strings.Contains(err.Error(), "catalog/runs") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSaveBucketRejectsCatalogNames(t *testing.T) {
	store, _ := openStub(t)
	if err := store.SaveBucket(context.Background(), "catalog/genes", nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected reserved bucket error, got %v", err)
	}
}
