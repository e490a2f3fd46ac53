package persistence

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/lineage/domain/types"
)

type beginFunc func(ctx context.Context) (pgx.Tx, error)

func (f beginFunc) Begin(ctx context.Context) (pgx.Tx, error) { return f(ctx) }

type txStub struct {
	execErr   error
	execTag   string
	execSQL   []string
	row       pgx.Row
	rows      []*stubRows
	committed bool
}

func (t *txStub) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(context.Context) error {
	t.committed = true
	return nil
}
func (t *txStub) Rollback(context.Context) error { return nil }
func (t *txStub) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *txStub) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) Conn() *pgx.Conn { return nil }

func (t *txStub) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "set_config") {
		return pgconn.CommandTag{}, nil
	}
	t.execSQL = append(t.execSQL, sql)
	return pgconn.NewCommandTag(t.execTag), t.execErr
}

// Query hands out the queued result sets in order.
func (t *txStub) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if len(t.rows) == 0 {
		return &stubRows{}, nil
	}
	r := t.rows[0]
	t.rows = t.rows[1:]
	return r, nil
}

func (t *txStub) QueryRow(context.Context, string, ...any) pgx.Row {
	if t.row != nil {
		return t.row
	}
	return stubRow{err: errors.New("row not mocked")}
}

type stubRows struct {
	data [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Next() bool {
	r.idx++
	return r.idx <= len(r.data)
}
func (r *stubRows) Scan(dest ...any) error { return stubRow{vals: r.data[r.idx-1]}.Scan(dest...) }
func (r *stubRows) Values() ([]any, error) { return nil, nil }
func (r *stubRows) RawValues() [][]byte    { return nil }
func (r *stubRows) Conn() *pgx.Conn        { return nil }

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) || r.vals[i] == nil {
			continue
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

var created = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func nodeRow(entityID string) []any {
	return []any{"id-" + entityID, "t1", entityID, entityID, "column", "erp." + entityID, created}
}

func edgeRow(source, target, edgeType string) []any {
	return []any{"e-" + source + target, "t1", source, target, edgeType, "", 100, created}
}

func TestLineagePGStore_BeginError(t *testing.T) {
	store := NewLineagePGStore(beginFunc(func(context.Context) (pgx.Tx, error) {
		return nil, errors.New("begin")
	}))
	if _, err := store.Snapshot(context.Background(), "t1"); err == nil || err.Error() != "begin" {
		t.Fatalf("err=%v", err)
	}
}

func TestLineagePGStore_GetEntity(t *testing.T) {
	store := NewLineagePGStore(&txStub{row: stubRow{err: pgx.ErrNoRows}})
	if _, err := store.GetEntity(context.Background(), "t1", "x"); !errors.Is(err, ports.ErrEntityNotFound) {
		t.Fatalf("err=%v", err)
	}

	store = NewLineagePGStore(&txStub{row: stubRow{vals: nodeRow("orders")}})
	n, err := store.GetEntity(context.Background(), "t1", "orders")
	if err != nil {
		t.Fatal(err)
	}
	if n.FullyQualifiedName != "erp.orders" || n.EntityType != "column" {
		t.Fatalf("node=%+v", n)
	}
}

func TestLineagePGStore_Snapshot(t *testing.T) {
	tx := &txStub{rows: []*stubRows{
		{data: [][]any{nodeRow("a"), nodeRow("b")}},
		{data: [][]any{edgeRow("a", "b", "JOIN")}},
	}}
	snap, err := NewLineagePGStore(tx).Snapshot(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 2 || len(snap.Edges) != 1 || snap.Edges[0].EdgeType != types.EdgeJoin {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !tx.committed {
		t.Fatal("expected commit")
	}
}

func TestLineagePGStore_InsertEdgeMapsConstraintErrors(t *testing.T) {
	e := types.LineageEdge{ID: "e1", TenantID: "t1", SourceID: "a", TargetID: "b", EdgeType: types.EdgeDirect, Confidence: 100}

	tx := &txStub{execErr: &pgconn.PgError{Code: "23505"}}
	if err := NewLineagePGStore(tx).InsertEdge(context.Background(), e); !errors.Is(err, ports.ErrUniqueViolation) {
		t.Fatalf("err=%v", err)
	}
	if tx.committed {
		t.Fatal("unexpected commit")
	}

	tx = &txStub{execErr: &pgconn.PgError{Code: "23503"}}
	if err := NewLineagePGStore(tx).InsertEdge(context.Background(), e); !errors.Is(err, ports.ErrEntityNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestLineagePGStore_DeleteEntity(t *testing.T) {
	tx := &txStub{execTag: "DELETE 0"}
	if err := NewLineagePGStore(tx).DeleteEntity(context.Background(), "t1", "a"); !errors.Is(err, ports.ErrEntityNotFound) {
		t.Fatalf("err=%v", err)
	}

	tx = &txStub{execTag: "DELETE 1"}
	if err := NewLineagePGStore(tx).DeleteEntity(context.Background(), "t1", "a"); err != nil {
		t.Fatal(err)
	}
	if len(tx.execSQL) != 2 || !strings.Contains(tx.execSQL[0], "lineage_edges") {
		t.Fatalf("sql=%v", tx.execSQL)
	}
}
