package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"spesebook/internal/core"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// openSQLite opens a single-connection pool: SQLite serializes writers
// anyway, and one connection keeps read-sum-write sequences from racing.
func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	groupColumns    = `id, name, created_at, total_expenses`
	entryColumns    = `id, parent_id, description, amount, category, date, created_at`
	categoryColumns = `id, name, is_default, created_at`
)

func scanGroup(s rowScanner) (core.Group, error) {
	var (
		g         core.Group
		createdAt int64
		total     string
	)
	if err := s.Scan(&g.ID, &g.Name, &createdAt, &total); err != nil {
		return core.Group{}, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return core.Group{}, fmt.Errorf("parse total of group %s: %w", g.ID, err)
	}
	g.CreatedAt = core.TimestampFromMillis(createdAt)
	g.TotalExpenses = core.NewMoney(d)
	return g, nil
}

func scanEntry(s rowScanner) (core.Entry, error) {
	var (
		e               core.Entry
		amount          string
		date, createdAt int64
	)
	if err := s.Scan(&e.ID, &e.ParentID, &e.Description, &amount, &e.Category, &date, &createdAt); err != nil {
		return core.Entry{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Entry{}, fmt.Errorf("parse amount of entry %s: %w", e.ID, err)
	}
	e.Amount = core.NewMoney(d)
	e.Date = core.TimestampFromMillis(date)
	e.CreatedAt = core.TimestampFromMillis(createdAt)
	return e, nil
}

func scanCategory(s rowScanner) (core.Category, error) {
	var (
		c         core.Category
		isDefault int64
		createdAt int64
	)
	if err := s.Scan(&c.ID, &c.Name, &isDefault, &createdAt); err != nil {
		return core.Category{}, err
	}
	c.IsDefault = isDefault != 0
	c.CreatedAt = core.TimestampFromMillis(createdAt)
	return c, nil
}

// storageErr classifies driver errors into the store's error kinds.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	case isConstraintViolation(err):
		return fmt.Errorf("%s: %w", op, core.ErrDuplicateKey)
	default:
		return fmt.Errorf("%s: %w: %w", op, core.ErrStorageFailure, err)
	}
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// InsertGroup stores a new group; the id must not exist yet.
func (r *SQLiteRepository) InsertGroup(ctx context.Context, g core.Group) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expense_groups (`+groupColumns+`) VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.CreatedAt.Millis(), g.TotalExpenses.String())
	if err != nil {
		return storageErr(fmt.Sprintf("insert group %s", g.ID), err)
	}

	slog.DebugContext(ctx, "Group saved to SQLite", "id", g.ID, "name", g.Name)
	return nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (core.Group, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM expense_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err != nil {
		return core.Group{}, storageErr(fmt.Sprintf("get group %s", id), err)
	}
	return g, nil
}

func (r *SQLiteRepository) ListGroups(ctx context.Context) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM expense_groups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storageErr("list groups", err)
	}
	defer rows.Close()

	groups := []core.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, storageErr("scan group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list groups", err)
	}
	return groups, nil
}

func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM expense_groups WHERE id = ?`, id); err != nil {
		return storageErr(fmt.Sprintf("delete group %s", id), err)
	}
	return nil
}

// UpdateGroupTotal re-sums the group's entries and writes the total inside
// one transaction, so concurrent recomputes cannot lose an update.
func (r *SQLiteRepository) UpdateGroupTotal(ctx context.Context, id string) (core.Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Group{}, storageErr("begin recompute", err)
	}
	defer tx.Rollback()

	g, err := scanGroup(tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM expense_groups WHERE id = ?`, id))
	if err != nil {
		return core.Group{}, storageErr(fmt.Sprintf("get group %s", id), err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT amount FROM entries WHERE parent_id = ?`, id)
	if err != nil {
		return core.Group{}, storageErr(fmt.Sprintf("sum entries of %s", id), err)
	}
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return core.Group{}, storageErr("scan amount", err)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			rows.Close()
			return core.Group{}, fmt.Errorf("parse amount %q: %w: %w", amount, core.ErrStorageFailure, err)
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return core.Group{}, storageErr(fmt.Sprintf("sum entries of %s", id), err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `UPDATE expense_groups SET total_expenses = ? WHERE id = ?`, total.String(), id); err != nil {
		return core.Group{}, storageErr(fmt.Sprintf("update total of %s", id), err)
	}
	if err := tx.Commit(); err != nil {
		return core.Group{}, storageErr("commit recompute", err)
	}

	g.TotalExpenses = core.NewMoney(total)
	return g, nil
}

func (r *SQLiteRepository) InsertEntry(ctx context.Context, e core.Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ParentID, e.Description, e.Amount.String(), e.Category, e.Date.Millis(), e.CreatedAt.Millis())
	if err != nil {
		return storageErr(fmt.Sprintf("insert entry %s", e.ID), err)
	}

	slog.DebugContext(ctx, "Entry saved to SQLite",
		"id", e.ID,
		"parent_id", e.ParentID,
		"amount", e.Amount.String())
	return nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id string) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return core.Entry{}, storageErr(fmt.Sprintf("get entry %s", id), err)
	}
	return e, nil
}

func (r *SQLiteRepository) ReplaceEntry(ctx context.Context, e core.Entry) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET parent_id = ?, description = ?, amount = ?, category = ?, date = ?, created_at = ?
		 WHERE id = ?`,
		e.ParentID, e.Description, e.Amount.String(), e.Category, e.Date.Millis(), e.CreatedAt.Millis(), e.ID)
	if err != nil {
		return storageErr(fmt.Sprintf("update entry %s", e.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(fmt.Sprintf("update entry %s", e.ID), err)
	}
	if n == 0 {
		return fmt.Errorf("update entry %s: %w", e.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id string) (core.Entry, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, false, storageErr("begin delete entry", err)
	}
	defer tx.Rollback()

	e, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, storageErr(fmt.Sprintf("get entry %s", id), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return core.Entry{}, false, storageErr(fmt.Sprintf("delete entry %s", id), err)
	}
	if err := tx.Commit(); err != nil {
		return core.Entry{}, false, storageErr("commit delete entry", err)
	}
	return e, true, nil
}

func (r *SQLiteRepository) ListEntriesByGroup(ctx context.Context, parentID string) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE parent_id = ? ORDER BY date DESC, created_at DESC, id`,
		parentID)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("list entries of %s", parentID), err)
	}
	defer rows.Close()

	entries := []core.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(fmt.Sprintf("list entries of %s", parentID), err)
	}
	return entries, nil
}

func (r *SQLiteRepository) PurgeEntriesForGroup(ctx context.Context, parentID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, storageErr(fmt.Sprintf("purge entries of %s", parentID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(fmt.Sprintf("purge entries of %s", parentID), err)
	}
	return n, nil
}

func (r *SQLiteRepository) InsertCategory(ctx context.Context, c core.Category) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, boolToInt(c.IsDefault), c.CreatedAt.Millis())
	if err != nil {
		return storageErr(fmt.Sprintf("insert category %s", c.ID), err)
	}
	return nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if err != nil {
		return core.Category{}, storageErr(fmt.Sprintf("get category %s", id), err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories ORDER BY name COLLATE NOCASE, name`)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	defer rows.Close()

	categories := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storageErr("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list categories", err)
	}
	return categories, nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id); err != nil {
		return storageErr(fmt.Sprintf("delete category %s", id), err)
	}
	return nil
}

func (r *SQLiteRepository) CountCategories(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return 0, storageErr("count categories", err)
	}
	return n, nil
}

// Restore swaps the whole group/entry dataset in one transaction; a failure
// leaves the previous data untouched.
func (r *SQLiteRepository) Restore(ctx context.Context, groups []core.Group, entries []core.Entry, categories []core.Category) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin restore", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return storageErr("clear entries", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expense_groups`); err != nil {
		return storageErr("clear groups", err)
	}

	for _, g := range groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO expense_groups (`+groupColumns+`) VALUES (?, ?, ?, ?)`,
			g.ID, g.Name, g.CreatedAt.Millis(), g.TotalExpenses.String()); err != nil {
			return storageErr(fmt.Sprintf("restore group %s", g.ID), err)
		}
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ParentID, e.Description, e.Amount.String(), e.Category, e.Date.Millis(), e.CreatedAt.Millis()); err != nil {
			return storageErr(fmt.Sprintf("restore entry %s", e.ID), err)
		}
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?)`,
			c.ID, c.Name, boolToInt(c.IsDefault), c.CreatedAt.Millis()); err != nil {
			return storageErr(fmt.Sprintf("restore category %s", c.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit restore", err)
	}

	slog.InfoContext(ctx, "Snapshot restored to SQLite",
		"groups", len(groups),
		"entries", len(entries),
		"categories", len(categories))
	return nil
}
