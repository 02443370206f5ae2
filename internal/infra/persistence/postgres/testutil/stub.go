// Package testutil provides an in-process database/sql driver that emulates
// the postgres `state` table for store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// StubConn records statements and keeps state rows keyed by bucket.
type StubConn struct {
	mu          sync.Mutex
	Execs       []string
	Rows        map[string][]byte
	FailPing    bool
	FailBegin   bool
	FailCommit  bool
	FailBuckets map[string]bool
	RowsErr     error
}

// NewStubDB registers a fresh driver instance and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Bucket returns a copy of the row stored under bucket.
func (c *StubConn) Bucket(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.Rows[name]
	return append([]byte(nil), payload...), ok
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. Only the state upsert mutates rows.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE") {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("expected bucket and payload args, got %d", len(args))
	}
	bucket, _ := args[0].Value.(string)
	if c.FailBuckets[bucket] {
		return nil, fmt.Errorf("exec fail for %s", bucket)
	}
	payload, _ := args[1].Value.([]byte)
	c.Rows[bucket] = append([]byte(nil), payload...)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for `SELECT bucket, payload FROM state`.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(strings.ToLower(query), "from state") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.Rows))
	for name := range c.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([][]driver.Value, 0, len(names))
	for _, name := range names {
		values = append(values, []driver.Value{name, append([]byte(nil), c.Rows[name]...)})
	}
	return &stubRows{rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}

func (stubTx) Rollback() error { return nil }

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
