package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is what repositories run statements through.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker is returned when a statement does not start with a
// `--sql <uuid>` marker line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// DefaultSlowQuery is the duration above which a statement is logged at Warn.
const DefaultSlowQuery = 500 * time.Millisecond

// SQLRunner strips the marker line from each statement before handing it to
// the database and logs by marker, so a slow or failing statement points
// straight at its constant in internal/sqlinline.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
	slow   time.Duration
	now    func() time.Time
}

// NewSQLRunner wraps db, usually a *pgxpool.Pool or a pgx.Tx.
func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger, slow: DefaultSlowQuery, now: time.Now}
}

// WithSlowThreshold returns a copy that warns above d. Zero disables the warning.
func (r *SQLRunner) WithSlowThreshold(d time.Duration) *SQLRunner {
	cp := *r
	cp.slow = d
	return &cp
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := r.now()
	tag, err := r.db.Exec(ctx, body, args...)
	r.done(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Msgf("sql[%s] exec", marker)
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &timedRow{runner: r, marker: marker, start: r.now(), row: r.db.QueryRow(ctx, body, args...)}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return nil, err
	}
	start := r.now()
	rows, err := r.db.Query(ctx, body, args...)
	if err != nil {
		r.done(marker, "query", start, err).Msgf("sql[%s] query", marker)
		return nil, err
	}
	return &timedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// done picks the log event for a finished statement. pgx.ErrNoRows is a
// normal outcome for single-row lookups and is not an error here.
func (r *SQLRunner) done(marker, op string, start time.Time, err error) *zerolog.Event {
	elapsed := r.now().Sub(start)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.logger.Error().Err(err)
	case r.slow > 0 && elapsed >= r.slow:
		ev = r.logger.Warn().Bool("slow", true)
	default:
		ev = r.logger.Debug()
	}
	return ev.Str("op", op).Dur("elapsed", elapsed)
}

type timedRow struct {
	runner *SQLRunner
	marker string
	start  time.Time
	row    pgx.Row
}

func (t *timedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.done(t.marker, "query_row", t.start, err).Msgf("sql[%s] query_row", t.marker)
	return err
}

type timedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	count  int
}

func (t *timedRows) Next() bool {
	ok := t.Rows.Next()
	if ok {
		t.count++
	}
	return ok
}

func (t *timedRows) Close() {
	t.Rows.Close()
	t.runner.done(t.marker, "query", t.start, t.Rows.Err()).Int("rows", t.count).Msgf("sql[%s] query", t.marker)
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// IsNoRows reports whether err signals an empty single-row result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// ExtractMarker splits a statement into its marker id and executable body.
func ExtractMarker(query string) (marker, body string, err error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(first, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
