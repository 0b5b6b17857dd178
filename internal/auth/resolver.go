package auth

import (
	"context"
	"errors"
	"log/slog"
)

// Resolved is the outcome of resolving inbound session credentials for one
// call. It carries the locked-and-validated session state plus lazily
// computed authorization data. A nil *Resolved stands for "not logged in";
// its read accessors are nil-safe.
type Resolved struct {
	Session *Session
	User    *User

	svc       *Service
	callnum   *int64
	exclusive bool
	lockErr   string

	// computed on first access, fixed for this instance
	perms  map[string]struct{}
	groups map[int64]string
	hostID *int64
	hostOK bool
}

// Resolve authenticates the session credentials presented with a call.
//
// Inside one transaction it row-locks the session keyed by (id, key,
// hostip), rejects expired sessions, enforces call-number ordering against
// the stored value, loads the user, determines exclusivity and touches
// update_time; the transaction commits before Resolve returns. The
// incoming call number is NOT persisted here: the dispatcher must invoke
// StageCallnum inside the transaction wrapping the call's own work, so the
// number becomes durable iff that work committed. Finding the incoming
// number already stored therefore means a prior attempt succeeded and only
// whitelisted methods may run again.
func (s *Service) Resolve(ctx context.Context, creds CallCredentials, method string) (*Resolved, error) {
	if creds.SessionID == 0 || creds.SessionKey == "" {
		return nil, errf(KindAuth, "session-id and session-key are required")
	}
	hostip := s.remoteIP(creds.RemoteIP)

	r := &Resolved{svc: s, callnum: creds.Callnum}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sess, err := tx.SessionForUpdate(ctx, creds.SessionID, creds.SessionKey, hostip)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("session lookup failed",
					slog.Int64("session_id", creds.SessionID),
					slog.String("hostip", hostip))
				return errf(KindAuth, "invalid session or bad credentials")
			}
			return err
		}
		if sess.Expired {
			return errf(KindExpired, "session %d has expired", sess.ID)
		}

		if creds.Callnum != nil && sess.Callnum != nil {
			last, incoming := *sess.Callnum, *creds.Callnum
			switch {
			case last > incoming:
				return errf(KindSequence, "%d > %d (session %d)", last, incoming, sess.ID)
			case last == incoming:
				// the number is already durable, so the previous attempt
				// committed and only lost its reply
				if !s.MethodRetryable(method) {
					return errf(KindRetry,
						"unable to retry call %d (method %s) for session %d",
						incoming, method, sess.ID)
				}
			}
		}

		user, err := tx.UserByID(ctx, sess.UserID)
		if err != nil {
			return err
		}
		if user.Status != UserStatusNormal {
			return errf(KindAuth, "logins by %s are not allowed", user.Name)
		}

		if sess.Exclusive {
			r.exclusive = true
		} else {
			exclID, err := tx.ExclusiveSessionID(ctx, sess.UserID)
			if err != nil {
				return err
			}
			if exclID != 0 {
				if sess.Master != nil && *sess.Master == exclID {
					// our master session holds the lock
					r.exclusive = true
				} else {
					// held without raising; surfaces via Validate so that
					// calls indifferent to exclusivity are unaffected, and
					// a forced takeover stays possible
					r.lockErr = "user locked by another session"
				}
			}
		}

		if err := tx.TouchSession(ctx, sess.ID); err != nil {
			return err
		}
		r.Session = sess
		r.User = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Validate raises the soft exclusivity conflict recorded during
// resolution. Callers that do not require exclusive access never call it.
func (r *Resolved) Validate() error {
	if r == nil {
		return errf(KindAuth, "not logged in")
	}
	if r.lockErr != "" {
		return errf(KindLock, "%s", r.lockErr)
	}
	return nil
}

// LoggedIn reports whether credentials resolved to an active session.
func (r *Resolved) LoggedIn() bool {
	return r != nil && r.Session != nil
}

// ExclusiveHeld reports whether this session (or its master) holds the
// exclusive slot.
func (r *Resolved) ExclusiveHeld() bool {
	return r != nil && r.exclusive
}

// Callnum returns the call number presented with this call, or nil.
func (r *Resolved) Callnum() *int64 {
	if r == nil {
		return nil
	}
	return r.callnum
}

// StageCallnum records the presented call number inside the dispatcher's
// transaction. The write becomes durable only with that transaction's
// commit, which is the at-most-once crux: a stored number proves the call
// it numbered fully succeeded. No-op when the call carried no number.
func (r *Resolved) StageCallnum(ctx context.Context, tx TxRepository) error {
	if r == nil || r.callnum == nil {
		return nil
	}
	return tx.StageCallnum(ctx, r.Session.ID, *r.callnum)
}

// FinishCall persists the staged call number in its own transaction. It is
// a convenience for dispatch paths whose business work has no transaction
// of its own; dispatchers carrying one should use StageCallnum directly.
func (s *Service) FinishCall(ctx context.Context, r *Resolved) error {
	if r == nil || r.callnum == nil {
		return nil
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return r.StageCallnum(ctx, tx)
	})
}
