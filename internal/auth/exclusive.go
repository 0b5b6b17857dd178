package auth

import (
	"context"
	"log/slog"
)

// MakeExclusive claims the single exclusive slot for the session's user.
// Only a master session may hold it. With force, an existing holder is
// expired under the same user-row lock, so two racing forced claims cannot
// both win.
func (s *Service) MakeExclusive(ctx context.Context, current *Resolved, force bool) error {
	if !current.LoggedIn() {
		return errf(KindAuth, "not logged in")
	}
	if current.Session.Master != nil {
		return errf(KindGeneric, "subsessions cannot become exclusive")
	}
	if current.exclusive {
		return errf(KindGeneric, "session is already exclusive")
	}
	if err := s.makeExclusive(ctx, current.Session.ID, current.Session.UserID, force); err != nil {
		return err
	}
	current.exclusive = true
	current.lockErr = ""
	current.Session.Exclusive = true
	return nil
}

func (s *Service) makeExclusive(ctx context.Context, sessionID, userID int64, force bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// the user-row lock serializes concurrent claims for this user
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		exclID, err := tx.ExclusiveSessionIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if exclID != 0 {
			if !force {
				return errf(KindLock, "cannot get exclusive session")
			}
			if err := tx.CloseSession(ctx, exclID); err != nil {
				return err
			}
			s.logger.Info("exclusive session stolen",
				slog.Int64("user_id", userID),
				slog.Int64("expired_session_id", exclID),
				slog.Int64("session_id", sessionID))
		}
		return tx.SetExclusive(ctx, sessionID)
	})
	return err
}

// MakeShared drops the session out of exclusive mode. Only the owning
// session can clear its own flag, so there is no contention to arbitrate.
func (s *Service) MakeShared(ctx context.Context, current *Resolved) error {
	if !current.LoggedIn() {
		return errf(KindAuth, "not logged in")
	}
	if err := s.repo.ClearExclusive(ctx, current.Session.ID); err != nil {
		return err
	}
	current.exclusive = false
	current.Session.Exclusive = false
	return nil
}
