package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehub/forgehub/internal/platform/db"
)

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// WithTx runs fn inside a single transaction; row locks taken by fn hold
// until the transaction commits.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// UserIDByCredentials matches the exact (name, password) pair. Password
// storage policy is owned by the administration tooling, not this core.
func (r *PGRepository) UserIDByCredentials(ctx context.Context, name, password string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE name=$1 AND password=$2`, name, password).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *PGRepository) UserIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE name=$1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *PGRepository) UserIDByKrbPrincipal(ctx context.Context, principal string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT users.id FROM users
JOIN user_krb_principals ON users.id = user_krb_principals.user_id
WHERE krb_principal=$1`, principal).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *PGRepository) UserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT id, name, status, usertype FROM users WHERE id=$1`, id))
}

// CreateUser inserts the user and, when given, its Kerberos principal in
// one transaction.
func (r *PGRepository) CreateUser(ctx context.Context, name string, usertype UserType, status UserStatus, krbPrincipal string) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO users (name, usertype, status) VALUES ($1,$2,$3) RETURNING id`,
			name, int(usertype), int(status)).Scan(&id); err != nil {
			return err
		}
		if krbPrincipal != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_krb_principals (user_id, krb_principal) VALUES ($1,$2)`,
				id, krbPrincipal); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

func (r *PGRepository) UserKrbPrincipals(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT krb_principal FROM user_krb_principals WHERE user_id=$1 ORDER BY krb_principal`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var principals []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

func (r *PGRepository) AttachKrbPrincipal(ctx context.Context, userID int64, principal string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_krb_principals (user_id, krb_principal) VALUES ($1,$2)`,
		userID, principal)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errf(KindGeneric, "krb principal %s is already attached", principal)
	}
	return err
}

func (r *PGRepository) RemoveKrbPrincipal(ctx context.Context, userID int64, principal string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_krb_principals WHERE user_id=$1 AND krb_principal=$2`,
		userID, principal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) InsertSession(ctx context.Context, userID int64, key, hostip string, authType AuthType, master *int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (user_id, key, hostip, authtype, master, start_time, update_time)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id`,
		userID, key, hostip, int(authType), nullInt64(master)).Scan(&id)
	return id, err
}

// ExpireSession cascades over subsessions via the master column; expiry is
// terminal and the exclusive flag never survives it.
func (r *PGRepository) ExpireSession(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET expired=TRUE, exclusive=NULL WHERE id=$1 OR master=$1`, id)
	return err
}

func (r *PGRepository) ExpireChild(ctx context.Context, masterID, childID int64) error {
	// the master guard keeps a session from expiring subsessions it does
	// not own; a non-matching id is a silent no-op
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET expired=TRUE, exclusive=NULL WHERE id=$1 AND master=$2`,
		childID, masterID)
	return err
}

func (r *PGRepository) ClearExclusive(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET exclusive=NULL WHERE id=$1`, id)
	return err
}

func (r *PGRepository) SessionBelongsToUser(ctx context.Context, sessionID, userID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id=$1 AND user_id=$2)`,
		sessionID, userID).Scan(&ok)
	return ok, err
}

// UserPerms merges permissions granted directly and through group
// membership.
func (r *PGRepository) UserPerms(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permissions.name FROM user_perms
JOIN permissions ON perm_id = permissions.id
WHERE user_perms.active IS TRUE AND user_perms.user_id=$1
UNION
SELECT permissions.name FROM user_groups
JOIN user_perms ON user_perms.user_id = user_groups.group_id
JOIN permissions ON perm_id = permissions.id
WHERE user_groups.active IS TRUE AND user_perms.active IS TRUE AND user_groups.user_id=$1`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

func (r *PGRepository) UserGroups(ctx context.Context, userID int64) (map[int64]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT group_id, users.name FROM user_groups
JOIN users ON group_id = users.id
WHERE user_groups.active IS TRUE AND users.usertype=$1 AND user_id=$2`,
		int(UserTypeGroup), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		groups[id] = name
	}
	return groups, rows.Err()
}

func (r *PGRepository) HostIDByUser(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM host WHERE user_id=$1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

type txRepository struct {
	tx pgx.Tx
}

var _ TxRepository = (*txRepository)(nil)

func (r *txRepository) SessionForUpdate(ctx context.Context, id int64, key, hostip string) (*Session, error) {
	var (
		sess      Session
		master    pgtype.Int8
		exclusive pgtype.Bool
		callnum   pgtype.Int8
		authtype  int
	)
	err := r.tx.QueryRow(ctx,
		`SELECT id, key, user_id, hostip, authtype, master, exclusive, expired, callnum, start_time, update_time
FROM sessions WHERE id=$1 AND key=$2 AND hostip=$3 FOR UPDATE`,
		id, key, hostip).Scan(
		&sess.ID, &sess.Key, &sess.UserID, &sess.HostIP, &authtype, &master,
		&exclusive, &sess.Expired, &callnum, &sess.StartTime, &sess.UpdateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.AuthType = AuthType(authtype)
	if master.Valid {
		m := master.Int64
		sess.Master = &m
	}
	sess.Exclusive = exclusive.Valid && exclusive.Bool
	if callnum.Valid {
		c := callnum.Int64
		sess.Callnum = &c
	}
	return &sess, nil
}

func (r *txRepository) UserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.tx.QueryRow(ctx,
		`SELECT id, name, status, usertype FROM users WHERE id=$1`, id))
}

func (r *txRepository) ExclusiveSessionID(ctx context.Context, userID int64) (int64, error) {
	return r.exclusiveSessionID(ctx, userID, "")
}

func (r *txRepository) ExclusiveSessionIDForUpdate(ctx context.Context, userID int64) (int64, error) {
	return r.exclusiveSessionID(ctx, userID, " FOR UPDATE")
}

func (r *txRepository) exclusiveSessionID(ctx context.Context, userID int64, suffix string) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE user_id=$1 AND exclusive=TRUE AND expired=FALSE`+suffix,
		userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *txRepository) LockUser(ctx context.Context, userID int64) error {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *txRepository) CloseSession(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE sessions SET expired=TRUE, exclusive=NULL WHERE id=$1`, id)
	return err
}

func (r *txRepository) SetExclusive(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sessions SET exclusive=TRUE WHERE id=$1`, id)
	return err
}

func (r *txRepository) TouchSession(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sessions SET update_time=NOW() WHERE id=$1`, id)
	return err
}

func (r *txRepository) StageCallnum(ctx context.Context, sessionID, callnum int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sessions SET callnum=$1 WHERE id=$2`, callnum, sessionID)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		user     User
		status   int
		usertype int
	)
	if err := row.Scan(&user.ID, &user.Name, &status, &usertype); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	user.Status = UserStatus(status)
	user.Type = UserType(usertype)
	return &user, nil
}

func nullInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
