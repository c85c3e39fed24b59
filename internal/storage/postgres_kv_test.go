package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// memDriver is a database/sql driver that understands just the statements
// PostgresKV issues. Each DSN names its own store.
type memDriver struct {
	mu     sync.Mutex
	stores map[string]*memStore
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string]string
	queries []string
	err     error
}

var kvDriver = &memDriver{stores: map[string]*memStore{}}

func init() { sql.Register("kvmem", kvDriver) }

func (d *memDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.stores[name]
	if !ok {
		return nil, errors.New("unknown store " + name)
	}
	return &memConn{store: st}, nil
}

type memConn struct{ store *memStore }

func (c *memConn) Prepare(query string) (driver.Stmt, error) {
	return &memStmt{store: c.store, query: strings.TrimSpace(query)}, nil
}
func (c *memConn) Close() error              { return nil }
func (c *memConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not supported") }

type memStmt struct {
	store *memStore
	query string
}

func (s *memStmt) Close() error  { return nil }
func (s *memStmt) NumInput() int { return -1 }

func (s *memStmt) Exec(args []driver.Value) (driver.Result, error) {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	st.queries = append(st.queries, s.query)
	if st.err != nil {
		return nil, st.err
	}
	if strings.HasPrefix(s.query, "INSERT") {
		st.rows[args[0].(string)] = args[1].(string)
	}
	return driver.RowsAffected(1), nil
}

func (s *memStmt) Query(args []driver.Value) (driver.Rows, error) {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	st.queries = append(st.queries, s.query)
	if st.err != nil {
		return nil, st.err
	}
	rows := &memRows{}
	if v, ok := st.rows[args[0].(string)]; ok {
		rows.vals = []string{v}
	}
	return rows, nil
}

type memRows struct {
	vals []string
	i    int
}

func (r *memRows) Columns() []string { return []string{"value"} }
func (r *memRows) Close() error      { return nil }

func (r *memRows) Next(dest []driver.Value) error {
	if r.i >= len(r.vals) {
		return io.EOF
	}
	dest[0] = r.vals[r.i]
	r.i++
	return nil
}

func openMemPostgres(t *testing.T) (*PostgresKV, *memStore) {
	t.Helper()
	st := &memStore{rows: map[string]string{}}
	kvDriver.mu.Lock()
	kvDriver.stores[t.Name()] = st
	kvDriver.mu.Unlock()
	db, err := sql.Open("kvmem", t.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	kv := &PostgresKV{db: db}
	t.Cleanup(func() { _ = kv.Close() })
	return kv, st
}

func TestPostgresKV_MigrateGetSet(t *testing.T) {
	ctx := context.Background()
	kv, st := openMemPostgres(t)

	if err := kv.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(st.queries) != 1 || !strings.HasPrefix(st.queries[0], "CREATE TABLE IF NOT EXISTS kv_store") {
		t.Fatalf("expected table creation, got %v", st.queries)
	}
	if _, err := kv.Get(ctx, "s1:liked_ids"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := kv.Set(ctx, "s1:liked_ids", `["1"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "s1:liked_ids", `["1","2"]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, err := kv.Get(ctx, "s1:liked_ids")
	if err != nil || v != `["1","2"]` {
		t.Fatalf("expected upserted value, got %q err=%v", v, err)
	}
	if err := kv.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPostgresKV_Errors(t *testing.T) {
	ctx := context.Background()
	kv, st := openMemPostgres(t)
	boom := errors.New("connection reset by peer")
	st.err = boom

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{"get", func() error { _, err := kv.Get(ctx, "theme"); return err }, "postgres get theme"},
		{"set", func() error { return kv.Set(ctx, "theme", "dark") }, "postgres set theme"},
		{"migrate", func() error { return kv.Migrate(ctx) }, "create kv_store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, boom) || errors.Is(err, ErrNotFound) {
				t.Fatalf("expected wrapped driver error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}
