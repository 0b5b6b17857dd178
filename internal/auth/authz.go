package auth

import "context"

// Lazy authorization accessors. Each value is computed on first use and
// fixed for the lifetime of this Resolved instance; a later call in the
// same chain sees the same answer even if grants changed underneath.

// Perms returns the user's permission names.
func (r *Resolved) Perms(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	if err := r.loadPerms(ctx); err != nil {
		return nil, err
	}
	perms := make([]string, 0, len(r.perms))
	for name := range r.perms {
		perms = append(perms, name)
	}
	return perms, nil
}

// HasPerm reports whether the user holds the named permission.
func (r *Resolved) HasPerm(ctx context.Context, name string) (bool, error) {
	if r == nil {
		return false, nil
	}
	if err := r.loadPerms(ctx); err != nil {
		return false, err
	}
	_, ok := r.perms[name]
	return ok, nil
}

// AssertPerm fails with ActionNotAllowed unless the user holds the named
// permission or admin.
func (r *Resolved) AssertPerm(ctx context.Context, name string) error {
	if r == nil {
		return errf(KindNotAllowed, "%s permission required (user not logged in)", name)
	}
	for _, candidate := range []string{name, "admin"} {
		ok, err := r.HasPerm(ctx, candidate)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return errf(KindNotAllowed, "%s permission required (logged in as %s)", name, r.User.Name)
}

// AssertLogin fails unless credentials resolved to an active session.
func (r *Resolved) AssertLogin() error {
	if !r.LoggedIn() {
		return errf(KindNotAllowed, "you must be logged in for this operation")
	}
	return nil
}

// Groups returns the user's group memberships keyed by group id.
func (r *Resolved) Groups(ctx context.Context) (map[int64]string, error) {
	if r == nil {
		return nil, nil
	}
	if r.groups == nil {
		groups, err := r.svc.repo.UserGroups(ctx, r.User.ID)
		if err != nil {
			return nil, err
		}
		if groups == nil {
			groups = map[int64]string{}
		}
		r.groups = groups
	}
	return r.groups, nil
}

// HasGroup reports membership in the given group.
func (r *Resolved) HasGroup(ctx context.Context, groupID int64) (bool, error) {
	if r == nil {
		return false, nil
	}
	groups, err := r.Groups(ctx)
	if err != nil {
		return false, err
	}
	_, ok := groups[groupID]
	return ok, nil
}

// IsUser reports whether the session acts as the given user, directly or
// through group membership.
func (r *Resolved) IsUser(ctx context.Context, userID int64) (bool, error) {
	if r == nil {
		return false, nil
	}
	if r.User.ID == userID {
		return true, nil
	}
	return r.HasGroup(ctx, userID)
}

// AssertUser fails with ActionNotAllowed unless the session acts as the
// given user or holds admin.
func (r *Resolved) AssertUser(ctx context.Context, userID int64) error {
	ok, err := r.IsUser(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if r != nil {
		admin, err := r.HasPerm(ctx, "admin")
		if err != nil {
			return err
		}
		if admin {
			return nil
		}
	}
	return errf(KindNotAllowed, "not owner")
}

// HostID returns the builder-host id owned by the session's user, or 0.
func (r *Resolved) HostID(ctx context.Context) (int64, error) {
	if r == nil {
		return 0, nil
	}
	if !r.hostOK {
		id, err := r.svc.repo.HostIDByUser(ctx, r.User.ID)
		if err != nil {
			return 0, err
		}
		r.hostID = &id
		r.hostOK = true
	}
	return *r.hostID, nil
}

func (r *Resolved) loadPerms(ctx context.Context) error {
	if r.perms != nil {
		return nil
	}
	names, err := r.svc.repo.UserPerms(ctx, r.User.ID)
	if err != nil {
		return err
	}
	perms := make(map[string]struct{}, len(names))
	for _, name := range names {
		perms[name] = struct{}{}
	}
	r.perms = perms
	return nil
}
