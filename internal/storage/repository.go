package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"expenses/internal/cache"
	"expenses/internal/core"
	"expenses/internal/records"

	_ "modernc.org/sqlite"
)

var expenseColumns = []string{"id", "title", "amount", "category", "note", "date_ms"}

// Options tunes the repository. A nil QueryCache disables query caching.
type Options struct {
	QueryCache *cache.LRUCache[[]core.Expense]
}

// SQLiteRepository is the durable record store and preference store.
type SQLiteRepository struct {
	db     *sql.DB
	notify records.Notifier

	// epoch advances on every committed mutation; a query result is only
	// cached if no mutation happened while it was read.
	cacheMu sync.Mutex
	epoch   uint64
	cache   *cache.LRUCache[[]core.Expense]
}

func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations
	if _, err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serialises writers and keeps every mutation atomic
	// without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:    db,
		cache: opts.QueryCache,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	r.notify.Close()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Insert implements records.RecordStore
func (r *SQLiteRepository) Insert(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	e = e.Normalize()

	query, args, err := sq.Insert("expenses").
		Columns("title", "amount", "category", "note", "date_ms").
		Values(e.Title, e.Amount.String(), e.Category, nullString(e.Note), e.Date.UnixMilli()).
		ToSql()
	if err != nil {
		return 0, &records.StoreError{Op: "insert", Err: err}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &records.StoreError{Op: "insert", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &records.StoreError{Op: "insert", Err: err}
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", id,
		"title", e.Title,
		"amount", e.Amount.String(),
		"category", e.Category,
		"date_ms", e.Date.UnixMilli())

	r.committed(records.ChangeEvent{Op: records.OpInsert, ID: id})
	return id, nil
}

// Update implements records.RecordStore
func (r *SQLiteRepository) Update(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e = e.Normalize()

	query, args, err := sq.Update("expenses").
		SetMap(sq.Eq{
			"title":      e.Title,
			"amount":     e.Amount.String(),
			"category":   e.Category,
			"note":       nullString(e.Note),
			"date_ms":    e.Date.UnixMilli(),
			"updated_at": sq.Expr("CURRENT_TIMESTAMP"),
		}).
		Where(sq.Eq{"id": e.ID}).
		ToSql()
	if err != nil {
		return &records.StoreError{Op: "update", ID: e.ID, Err: err}
	}

	if err := r.execOne(ctx, query, args); err != nil {
		return wrapMutation("update", e.ID, err)
	}

	r.committed(records.ChangeEvent{Op: records.OpUpdate, ID: e.ID})
	return nil
}

// Delete implements records.RecordStore
func (r *SQLiteRepository) Delete(ctx context.Context, e core.Expense) error {
	query, args, err := sq.Delete("expenses").Where(sq.Eq{"id": e.ID}).ToSql()
	if err != nil {
		return &records.StoreError{Op: "delete", ID: e.ID, Err: err}
	}

	if err := r.execOne(ctx, query, args); err != nil {
		return wrapMutation("delete", e.ID, err)
	}

	slog.InfoContext(ctx, "Expense deleted from SQLite", "id", e.ID)
	r.committed(records.ChangeEvent{Op: records.OpDelete, ID: e.ID})
	return nil
}

// Get implements records.RecordStore
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.Expense, error) {
	query, args, err := sq.Select(expenseColumns...).From("expenses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return core.Expense{}, &records.StoreError{Op: "get", ID: id, Err: err}
	}

	e, err := scanExpense(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return core.Expense{}, records.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, &records.StoreError{Op: "get", ID: id, Err: err}
	}
	return e, nil
}

// Query implements records.RecordStore
func (r *SQLiteRepository) Query(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	key := cacheKey(f)
	r.cacheMu.Lock()
	epoch := r.epoch
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.cacheMu.Unlock()
			return append([]core.Expense(nil), cached...), nil
		}
	}
	r.cacheMu.Unlock()

	b := sq.Select(expenseColumns...).
		From("expenses").
		Where(sq.GtOrEq{"date_ms": f.From.UnixMilli()}).
		Where(sq.LtOrEq{"date_ms": f.To.UnixMilli()}).
		OrderBy("date_ms DESC", "id ASC")
	if f.Category != nil {
		b = b.Where(sq.Eq{"category": *f.Category})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, &records.StoreError{Op: "query", Err: err}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &records.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	out := make([]core.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, &records.StoreError{Op: "query", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &records.StoreError{Op: "query", Err: err}
	}

	r.cacheMu.Lock()
	if r.cache != nil && r.epoch == epoch {
		r.cache.Set(key, append([]core.Expense(nil), out...))
	}
	r.cacheMu.Unlock()

	return out, nil
}

// Subscribe implements records.RecordStore
func (r *SQLiteRepository) Subscribe() (<-chan records.ChangeEvent, func()) {
	return r.notify.Subscribe()
}

// Categories returns the distinct categories in use, sorted by name.
func (r *SQLiteRepository) Categories(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("DISTINCT category").From("expenses").OrderBy("category").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build categories query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &records.StoreError{Op: "categories", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, &records.StoreError{Op: "categories", Err: err}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPreference implements records.PreferenceStore
func (r *SQLiteRepository) GetPreference(ctx context.Context, key string) (string, bool, error) {
	query, args, err := sq.Select("value").From("preferences").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build preference query: %w", err)
	}

	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference implements records.PreferenceStore
func (r *SQLiteRepository) SetPreference(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("preferences").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP").
		ToSql()
	if err != nil {
		return fmt.Errorf("build preference upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}

	slog.InfoContext(ctx, "Preference saved", "key", key, "value", value)
	return nil
}

func (r *SQLiteRepository) execOne(ctx context.Context, query string, args []any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return records.ErrNotFound
	}
	return nil
}

// committed invalidates cached queries and notifies subscribers, in that
// order, so a re-query triggered by the event never sees stale rows.
func (r *SQLiteRepository) committed(ev records.ChangeEvent) {
	r.cacheMu.Lock()
	r.epoch++
	if r.cache != nil {
		r.cache.Clear()
	}
	r.cacheMu.Unlock()

	r.notify.Publish(ev)
}

func wrapMutation(op string, id int64, err error) error {
	if err == records.ErrNotFound {
		return err
	}
	return &records.StoreError{Op: op, ID: id, Err: err}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e      core.Expense
		amount string
		note   sql.NullString
		dateMs int64
	)
	if err := row.Scan(&e.ID, &e.Title, &amount, &e.Category, &note, &dateMs); err != nil {
		return core.Expense{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse amount of expense %d: %w", e.ID, err)
	}
	e.Amount = d
	e.Note = note.String
	e.Date = core.FromMillis(dateMs)
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func cacheKey(f core.Filter) string {
	cat := "*"
	if f.Category != nil {
		cat = "=" + *f.Category
	}
	return fmt.Sprintf("%d:%d:%s", f.From.UnixMilli(), f.To.UnixMilli(), cat)
}
