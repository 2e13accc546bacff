package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/membership-downgrades/internal/model"
)

// DefaultListLimit caps List results when the query does not set a limit.
const DefaultListLimit = 100

// DefaultOrderBy is the ordering used by List when none is given.
const DefaultOrderBy = "`id` DESC"

// unsafeOrderBy matches any character that may not appear in an
// order-by clause.  The clause is concatenated into the statement, so
// only identifiers, whitespace, commas and backtick quotes are allowed.
var unsafeOrderBy = regexp.MustCompile("[^a-zA-Z0-9\\s,`]")

const downgradeColumns = "id, user_id, original_level_id, new_level_id, downgrade_order_id, status"

// DowngradeRepo provides CRUD operations for the pmprorate_downgrades
// table.  Records are never deleted by this repository.
type DowngradeRepo struct {
	db *sql.DB
}

// NewDowngradeRepo returns a new DowngradeRepo bound to the given database.
func NewDowngradeRepo(db *sql.DB) *DowngradeRepo { return &DowngradeRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *DowngradeRepo) DB() *sql.DB { return r.db }

// DowngradeQuery filters List.  Nil pointers leave a column
// unfiltered.  OrderBy defaults to DefaultOrderBy and Limit to
// DefaultListLimit.
type DowngradeQuery struct {
	ID               *uint64
	UserID           *uint64
	OriginalLevelID  *uint64
	NewLevelID       *uint64
	DowngradeOrderID *uint64
	Status           *model.Status
	OrderBy          string
	Limit            int
}

// Find loads a single downgrade by id.
func (r *DowngradeRepo) Find(ctx context.Context, id uint64) (model.Downgrade, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+downgradeColumns+" FROM pmprorate_downgrades WHERE id = ? LIMIT 1", id)
	d, err := scanDowngrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Downgrade{}, ErrDowngradeNotFound
	}
	return d, err
}

// List returns the downgrades matching q.  If the order-by clause
// contains characters outside the allow-list the query is not run and
// an empty result is returned alongside ErrUnsafeOrderBy.
func (r *DowngradeRepo) List(ctx context.Context, q DowngradeQuery) ([]model.Downgrade, error) {
	orderBy := q.OrderBy
	if strings.TrimSpace(orderBy) == "" {
		orderBy = DefaultOrderBy
	}
	if unsafeOrderBy.MatchString(orderBy) {
		return []model.Downgrade{}, ErrUnsafeOrderBy
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	where := []string{}
	args := []any{}
	if q.ID != nil {
		where = append(where, "id = ?")
		args = append(args, *q.ID)
	}
	if q.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *q.UserID)
	}
	if q.OriginalLevelID != nil {
		where = append(where, "original_level_id = ?")
		args = append(args, *q.OriginalLevelID)
	}
	if q.NewLevelID != nil {
		where = append(where, "new_level_id = ?")
		args = append(args, *q.NewLevelID)
	}
	if q.DowngradeOrderID != nil {
		where = append(where, "downgrade_order_id = ?")
		args = append(args, *q.DowngradeOrderID)
	}
	if q.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*q.Status))
	}

	query := "SELECT " + downgradeColumns + " FROM pmprorate_downgrades"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy + " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Downgrade, 0)
	for rows.Next() {
		d, err := scanDowngrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a pending downgrade and returns the row as stored.
// userID, originalLevelID and downgradeOrderID must be positive and
// newLevelID non-negative; otherwise ErrInvalidDowngrade is returned
// and nothing is written.
func (r *DowngradeRepo) Create(ctx context.Context, userID, originalLevelID, newLevelID, downgradeOrderID int64) (model.Downgrade, error) {
	if userID <= 0 || originalLevelID <= 0 || newLevelID < 0 || downgradeOrderID <= 0 {
		return model.Downgrade{}, ErrInvalidDowngrade
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO pmprorate_downgrades (user_id, original_level_id, new_level_id, downgrade_order_id, status) VALUES (?, ?, ?, ?, ?)",
		userID, originalLevelID, newLevelID, downgradeOrderID, string(model.StatusPending))
	if err != nil {
		if isDuplicateKey(err) {
			return model.Downgrade{}, ErrDowngradeExists
		}
		return model.Downgrade{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Downgrade{}, err
	}
	if id <= 0 {
		return model.Downgrade{}, ErrDowngradeNotFound
	}
	// Query back the row so callers see the canonical id and status.
	return r.Find(ctx, uint64(id))
}

// UpdateStatus persists a new status for the given downgrade.  The
// caller is responsible for validating the value.
func (r *DowngradeRepo) UpdateStatus(ctx context.Context, id uint64, status model.Status) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE pmprorate_downgrades SET status = ? WHERE id = ?", string(status), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDowngrade(s rowScanner) (model.Downgrade, error) {
	var (
		d      model.Downgrade
		status string
	)
	if err := s.Scan(&d.ID, &d.UserID, &d.OriginalLevelID, &d.NewLevelID, &d.DowngradeOrderID, &status); err != nil {
		return model.Downgrade{}, err
	}
	d.Status = model.Status(status)
	return d, nil
}

// isDuplicateKey recognises unique key violations from MySQL (1062) and
// from SQLite, which backs the tests.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
