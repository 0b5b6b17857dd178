package auth

import (
	"context"
	"errors"
)

// ErrNotFound indicates a missing row.
var ErrNotFound = errors.New("auth: not found")

// Repository defines persistence for the session core. Single-statement
// operations commit on their own; the resolver and the lock arbiter run
// inside WithTx so that their row locks hold across the whole check.
type Repository interface {
	// User lookups return 0 when no row matches.
	UserIDByCredentials(ctx context.Context, name, password string) (int64, error)
	UserIDByName(ctx context.Context, name string) (int64, error)
	UserIDByKrbPrincipal(ctx context.Context, principal string) (int64, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, name string, usertype UserType, status UserStatus, krbPrincipal string) (int64, error)
	UserKrbPrincipals(ctx context.Context, userID int64) ([]string, error)
	AttachKrbPrincipal(ctx context.Context, userID int64, principal string) error
	RemoveKrbPrincipal(ctx context.Context, userID int64, principal string) error

	InsertSession(ctx context.Context, userID int64, key, hostip string, authType AuthType, master *int64) (int64, error)
	// ExpireSession expires the session and every subsession referencing
	// it as master, clearing exclusive flags, in one statement.
	ExpireSession(ctx context.Context, id int64) error
	// ExpireChild expires childID only when its master is masterID.
	ExpireChild(ctx context.Context, masterID, childID int64) error
	ClearExclusive(ctx context.Context, id int64) error
	SessionBelongsToUser(ctx context.Context, sessionID, userID int64) (bool, error)

	// Read-only collaborator queries.
	UserPerms(ctx context.Context, userID int64) ([]string, error)
	UserGroups(ctx context.Context, userID int64) (map[int64]string, error)
	HostIDByUser(ctx context.Context, userID int64) (int64, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations that must share one transaction: the
// resolver's session-row lock and the arbiter's user-row lock.
type TxRepository interface {
	// SessionForUpdate loads and row-locks the session matching all three
	// credentials. Returns ErrNotFound when no row matches.
	SessionForUpdate(ctx context.Context, id int64, key, hostip string) (*Session, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	// ExclusiveSessionID returns the id of the active exclusive session
	// for the user, or 0.
	ExclusiveSessionID(ctx context.Context, userID int64) (int64, error)
	ExclusiveSessionIDForUpdate(ctx context.Context, userID int64) (int64, error)
	// LockUser takes a row lock on the user record to serialize
	// concurrent exclusivity claims.
	LockUser(ctx context.Context, userID int64) error
	// CloseSession expires a single session and clears its exclusive flag.
	CloseSession(ctx context.Context, id int64) error
	SetExclusive(ctx context.Context, id int64) error
	TouchSession(ctx context.Context, id int64) error
	// StageCallnum writes the call number without committing; it becomes
	// durable with the surrounding transaction.
	StageCallnum(ctx context.Context, sessionID, callnum int64) error
}
