package auth

import (
	"context"
	"errors"
	"log/slog"
)

// LoginOptions tweak session creation at login time.
type LoginOptions struct {
	// HostIP overrides the transport-derived client address.
	HostIP string
	// Exclusive claims the user's exclusive slot immediately after login.
	Exclusive bool
}

// Login authenticates a plain username/password credential and opens a
// session. The empty-password rejection happens before any query runs.
func (s *Service) Login(ctx context.Context, current *Resolved, name, password string, opts LoginOptions) (*SessionInfo, error) {
	if password == "" {
		return nil, errf(KindAuth, "invalid username or password")
	}
	if current.LoggedIn() {
		return nil, errf(KindGeneric, "already logged in")
	}
	userID, err := s.repo.UserIDByCredentials(ctx, name, password)
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		return nil, errf(KindAuth, "invalid username or password")
	}
	if err := s.checkLoginAllowed(ctx, userID); err != nil {
		return nil, err
	}
	hostip := s.remoteIP(opts.HostIP)
	sinfo, err := s.CreateSession(ctx, userID, hostip, AuthTypePassword, nil)
	if err != nil {
		return nil, err
	}
	if opts.Exclusive {
		if err := s.makeExclusive(ctx, sinfo.ID, userID, false); err != nil {
			return nil, err
		}
	}
	s.logger.Info("login",
		slog.Int64("user_id", userID),
		slog.Int64("session_id", sinfo.ID),
		slog.String("authtype", AuthTypePassword.String()))
	return sinfo, nil
}

// CreateSession generates a fresh key, inserts the session row and returns
// the credentials the client will present on subsequent calls. A non-nil
// master makes the new session a subsession.
func (s *Service) CreateSession(ctx context.Context, userID int64, hostip string, authType AuthType, master *int64) (*SessionInfo, error) {
	key := newSessionKey(userID)
	id, err := s.repo.InsertSession(ctx, userID, key, hostip, authType, master)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{ID: id, Key: key}, nil
}

// Subsession opens a parallel session sharing the caller's identity.
// Chains stay one level deep: a subsession's subsession references the
// original master.
func (s *Service) Subsession(ctx context.Context, current *Resolved) (*SessionInfo, error) {
	if !current.LoggedIn() {
		return nil, errf(KindAuth, "not logged in")
	}
	master := current.Session.ID
	if current.Session.Master != nil {
		master = *current.Session.Master
	}
	return s.CreateSession(ctx, current.Session.UserID, current.Session.HostIP,
		current.Session.AuthType, &master)
}

// Logout expires a session and, in the same statement, every subsession
// whose master it is. With sessionID zero the caller's own session is
// expired; otherwise the named session is, which requires admin permission
// unless it belongs to the same user.
func (s *Service) Logout(ctx context.Context, current *Resolved, sessionID int64) error {
	if !current.LoggedIn() {
		return errf(KindAuth, "not logged in")
	}
	target := current.Session.ID
	if sessionID != 0 {
		if admin, err := current.HasPerm(ctx, "admin"); err != nil {
			return err
		} else if !admin {
			owned, err := s.repo.SessionBelongsToUser(ctx, sessionID, current.Session.UserID)
			if err != nil {
				return err
			}
			if !owned {
				return errf(KindNotAllowed, "only admins or the owner may logout another session")
			}
		}
		target = sessionID
	}
	if err := s.repo.ExpireSession(ctx, target); err != nil {
		return err
	}
	s.logger.Info("logout", slog.Int64("session_id", target))
	return nil
}

// LogoutChild expires one subsession of the caller. The update predicate
// carries the master guard, so a foreign id is a silent no-op.
func (s *Service) LogoutChild(ctx context.Context, current *Resolved, childID int64) error {
	if !current.LoggedIn() {
		return errf(KindAuth, "not logged in")
	}
	return s.repo.ExpireChild(ctx, current.Session.ID, childID)
}

func (s *Service) checkLoginAllowed(ctx context.Context, userID int64) error {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errf(KindAuth, "invalid user_id: %d", userID)
		}
		return err
	}
	if user.Status != UserStatusNormal {
		return errf(KindAuth, "logins by %s are not allowed", user.Name)
	}
	return nil
}
