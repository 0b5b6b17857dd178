package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPerm(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	repo.perms[userID] = []string{"build", "tag"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	ok, err := current.HasPerm(context.Background(), "build")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = current.HasPerm(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermsAreMemoized(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	repo.perms[userID] = []string{"build"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	_, err := current.HasPerm(context.Background(), "build")
	require.NoError(t, err)

	// grants change underneath; the resolved instance keeps its snapshot
	repo.perms[userID] = []string{"build", "admin"}

	ok, err := current.HasPerm(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, repo.permQueries)
}

func TestAssertPerm(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	repo.perms[userID] = []string{"tag"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	require.NoError(t, current.AssertPerm(context.Background(), "tag"))

	err := current.AssertPerm(context.Background(), "repo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionNotAllowed))
	assert.Contains(t, err.Error(), "logged in as alice")
}

func TestAssertPermAdminOverride(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("root", UserStatusNormal, "secret")
	repo.perms[userID] = []string{"admin"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	require.NoError(t, current.AssertPerm(context.Background(), "repo"))
}

func TestAssertPermNotLoggedIn(t *testing.T) {
	var current *Resolved
	err := current.AssertPerm(context.Background(), "repo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionNotAllowed))
	assert.Contains(t, err.Error(), "user not logged in")
}

func TestAssertLogin(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	require.NoError(t, current.AssertLogin())

	var anon *Resolved
	err := anon.AssertLogin()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionNotAllowed))
}

func TestGroupsAndHasGroup(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	repo.groups[userID] = map[int64]string{10: "packagers"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	groups, err := current.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{10: "packagers"}, groups)

	ok, err := current.HasGroup(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = current.HasGroup(context.Background(), 11)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, repo.groupQueries)
}

func TestIsUser(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("alice", UserStatusNormal, "secret")
	repo.groups[userID] = map[int64]string{20: "releng"}
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	ok, err := current.IsUser(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, ok)

	// acting as a group pseudo-user through membership
	ok, err = current.IsUser(context.Background(), 20)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = current.IsUser(context.Background(), 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssertUser(t *testing.T) {
	repo := newMockRepository()
	aliceID := repo.addUser("alice", UserStatusNormal, "secret")
	bobID := repo.addUser("bob", UserStatusNormal, "hunter2")
	sess := repo.addSession(aliceID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	require.NoError(t, current.AssertUser(context.Background(), aliceID))

	err := current.AssertUser(context.Background(), bobID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionNotAllowed))
}

func TestAssertUserAdminOverride(t *testing.T) {
	repo := newMockRepository()
	rootID := repo.addUser("root", UserStatusNormal, "secret")
	repo.perms[rootID] = []string{"admin"}
	bobID := repo.addUser("bob", UserStatusNormal, "hunter2")
	sess := repo.addSession(rootID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	require.NoError(t, current.AssertUser(context.Background(), bobID))
}

func TestHostID(t *testing.T) {
	repo := newMockRepository()
	userID := repo.addUser("builder1", UserStatusNormal, "secret")
	repo.hosts[userID] = 7
	sess := repo.addSession(userID, "key", HostIPSentinel, nil)
	svc := newTestService(repo, Config{})
	current := resolvedFor(svc, repo, sess.ID)

	id, err := current.HostID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	// memoized
	_, err = current.HostID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.hostQueries)
}

func TestNilResolvedAuthz(t *testing.T) {
	var r *Resolved

	perms, err := r.Perms(context.Background())
	require.NoError(t, err)
	assert.Nil(t, perms)

	ok, err := r.HasPerm(context.Background(), "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := r.HostID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, id)
}
