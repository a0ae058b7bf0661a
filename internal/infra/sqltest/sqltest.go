// Package sqltest provides in-process stand-ins for infra.SQLExecutor so
// repositories can be tested without a database.
package sqltest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row scans a fixed list of values. A Row with no values reports pgx.ErrNoRows.
type Row struct {
	values []any
	err    error
}

// NewRow returns a row yielding values in column order.
func NewRow(values ...any) Row {
	return Row{values: values}
}

// ErrRow returns a row whose Scan fails with err.
func ErrRow(err error) Row {
	return Row{err: err}
}

func (r Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		return pgx.ErrNoRows
	}
	return Assign(dest, r.values)
}

// RowsBase stubs the parts of pgx.Rows the repositories never touch.
type RowsBase struct{}

func (RowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (RowsBase) Conn() *pgx.Conn { return nil }

func (RowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (RowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (RowsBase) RawValues() [][]byte { return nil }

// Rows iterates over pre-baked rows.
type Rows struct {
	RowsBase
	data   [][]any
	idx    int
	closed bool
	err    error
}

// NewRows builds a result set from rows of column values.
func NewRows(data ...[]any) *Rows {
	return &Rows{data: data}
}

func (r *Rows) Next() bool {
	if r.closed || r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return fmt.Errorf("scan called without a current row")
	}
	return Assign(dest, r.data[r.idx-1])
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() { r.closed = true }

// Closed reports whether the caller released the rows.
func (r *Rows) Closed() bool { return r.closed }

// Call is one recorded executor invocation.
type Call struct {
	Method string
	Query  string
	Args   []any
}

// Executor is a scriptable infra.SQLExecutor.
type Executor struct {
	ExecFn     func(query string, args []any) (pgconn.CommandTag, error)
	QueryRowFn func(query string, args []any) pgx.Row
	QueryFn    func(query string, args []any) (pgx.Rows, error)

	mu    sync.Mutex
	calls []Call
}

func (e *Executor) record(method, query string, args []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: method, Query: query, Args: args})
}

// Calls returns a snapshot of every invocation so far.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *Executor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.record("exec", query, args)
	if e.ExecFn == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return e.ExecFn(query, args)
}

func (e *Executor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	e.record("query_row", query, args)
	if e.QueryRowFn == nil {
		return Row{}
	}
	return e.QueryRowFn(query, args)
}

func (e *Executor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	e.record("query", query, args)
	if e.QueryFn == nil {
		return NewRows(), nil
	}
	return e.QueryFn(query, args)
}

// Assign copies values into scan destinations. A nil value zeroes the
// destination; a value of type T fills a **T destination.
func Assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		switch {
		case v.Type().AssignableTo(elem.Type()):
			elem.Set(v)
		case elem.Kind() == reflect.Pointer && v.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(v)
			elem.Set(p)
		case v.Type().ConvertibleTo(elem.Type()):
			elem.Set(v.Convert(elem.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %s to %s at %d", v.Type(), elem.Type(), i)
		}
	}
	return nil
}
