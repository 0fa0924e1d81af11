package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// UserRepository implements the UserRepository interface for PostgreSQL
type UserRepository struct {
	exec executor
}

// NewUserRepository creates a repository backed by the connection pool
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{exec: db}
}

// NewUserRepositoryWithTx creates a repository bound to an open transaction
func NewUserRepositoryWithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{exec: tx}
}

const userColumns = "id, username, referral_code, referrer_id, is_treasury, created_at"

func scanUser(row *sql.Row) (*relationaldb.User, error) {
	var u relationaldb.User
	var code sql.NullString
	var referrer sql.NullInt64

	err := row.Scan(&u.ID, &u.Username, &code, &referrer, &u.IsTreasury, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	if code.Valid {
		u.ReferralCode = code.String
	}
	if referrer.Valid {
		id := referrer.Int64
		u.ReferrerID = &id
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*relationaldb.User, error) {
	row := r.exec.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrUserNotFound
	}
	if err != nil {
		return nil, queryError("get_user_by_id", "failed to query user", err)
	}
	return u, nil
}

func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*relationaldb.User, error) {
	row := r.exec.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE referral_code = $1", code)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrCodeNotFound
	}
	if err != nil {
		return nil, queryError("get_user_by_referral_code", "failed to query user", err)
	}
	return u, nil
}

func (r *UserRepository) GetReferrerID(ctx context.Context, id int64) (*int64, error) {
	return r.getReferrerID(ctx, id, false)
}

func (r *UserRepository) GetReferrerIDForUpdate(ctx context.Context, id int64) (*int64, error) {
	return r.getReferrerID(ctx, id, true)
}

func (r *UserRepository) getReferrerID(ctx context.Context, id int64, lock bool) (*int64, error) {
	query := "SELECT referrer_id FROM users WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var referrer sql.NullInt64
	err := r.exec.QueryRowContext(ctx, query, id).Scan(&referrer)
	if err == sql.ErrNoRows {
		return nil, relationaldb.ErrUserNotFound
	}
	if err != nil {
		return nil, queryError("get_referrer_id", "failed to query referrer", err)
	}

	if !referrer.Valid {
		return nil, nil
	}
	parent := referrer.Int64
	return &parent, nil
}

func (r *UserRepository) SetReferrerID(ctx context.Context, childID, parentID int64) error {
	res, err := r.exec.ExecContext(ctx,
		"UPDATE users SET referrer_id = $1, updated_at = NOW() WHERE id = $2",
		parentID, childID)
	if err != nil {
		return queryError("set_referrer_id", "failed to update referrer", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("set_referrer_id", "failed to read rows affected", err)
	}
	if affected != 1 {
		return relationaldb.ErrUserNotFound
	}
	return nil
}

// SetReferralCode assigns a code to a user that has none. The IS NULL guard
// makes the assignment first-writer-wins: a concurrent generator that lost
// the race matches zero rows instead of overwriting the committed code.
func (r *UserRepository) SetReferralCode(ctx context.Context, id int64, code string) error {
	res, err := r.exec.ExecContext(ctx,
		"UPDATE users SET referral_code = $1, updated_at = NOW() WHERE id = $2 AND referral_code IS NULL",
		code, id)
	if err != nil {
		return queryError("set_referral_code", "failed to update referral code", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return queryError("set_referral_code", "failed to read rows affected", err)
	}
	if affected != 1 {
		var one int
		err := r.exec.QueryRowContext(ctx,
			"SELECT 1 FROM users WHERE id = $1", id).Scan(&one)
		if err == sql.ErrNoRows {
			return relationaldb.ErrUserNotFound
		}
		if err != nil {
			return queryError("set_referral_code", "failed to query user", err)
		}
		return relationaldb.ErrCodeAlreadyAssigned
	}
	return nil
}

func (r *UserRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := r.exec.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE referral_code = $1", code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, queryError("referral_code_exists", "failed to query referral code", err)
	}
	return true, nil
}

func (r *UserRepository) GetTreasuryID(ctx context.Context) (int64, error) {
	var id int64
	err := r.exec.QueryRowContext(ctx,
		"SELECT id FROM users WHERE is_treasury = TRUE").Scan(&id)
	if err == sql.ErrNoRows {
		return 0, relationaldb.ErrTreasuryAbsent
	}
	if err != nil {
		return 0, queryError("get_treasury_id", "failed to query treasury user", err)
	}
	return id, nil
}

func (r *UserRepository) ListByReferrerIDs(ctx context.Context, parentIDs []int64, limit int) ([]relationaldb.User, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	rows, err := r.exec.QueryContext(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE referrer_id = ANY($1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		pq.Array(parentIDs), limit)
	if err != nil {
		return nil, queryError("list_by_referrer_ids", "failed to query referrals", err)
	}
	defer rows.Close()

	var users []relationaldb.User
	for rows.Next() {
		var u relationaldb.User
		var code sql.NullString
		var referrer sql.NullInt64

		if err := rows.Scan(&u.ID, &u.Username, &code, &referrer, &u.IsTreasury, &u.CreatedAt); err != nil {
			return nil, queryError("list_by_referrer_ids", "failed to scan row", err)
		}
		if code.Valid {
			u.ReferralCode = code.String
		}
		if referrer.Valid {
			id := referrer.Int64
			u.ReferrerID = &id
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, queryError("list_by_referrer_ids", "error iterating rows", err)
	}
	return users, nil
}
