package auth

import (
	"context"
	"time"
)

// mockRepository is an in-memory Repository. StageCallnum writes are held
// until the surrounding WithTx callback succeeds, mirroring transactional
// commit.
type mockRepository struct {
	users      map[int64]*User
	passwords  map[int64]string
	principals map[int64][]string
	sessions   map[int64]*Session
	perms      map[int64][]string
	groups     map[int64]map[int64]string
	hosts      map[int64]int64

	nextUserID    int64
	nextSessionID int64

	// query counters for laziness / no-query assertions
	credentialQueries int
	permQueries       int
	groupQueries      int
	hostQueries       int

	txErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:         make(map[int64]*User),
		passwords:     make(map[int64]string),
		principals:    make(map[int64][]string),
		sessions:      make(map[int64]*Session),
		perms:         make(map[int64][]string),
		groups:        make(map[int64]map[int64]string),
		hosts:         make(map[int64]int64),
		nextUserID:    1,
		nextSessionID: 1,
	}
}

func (m *mockRepository) addUser(name string, status UserStatus, password string) int64 {
	id := m.nextUserID
	m.nextUserID++
	m.users[id] = &User{ID: id, Name: name, Status: status, Type: UserTypeNormal}
	if password != "" {
		m.passwords[id] = password
	}
	return id
}

func (m *mockRepository) addSession(userID int64, key, hostip string, master *int64) *Session {
	id := m.nextSessionID
	m.nextSessionID++
	sess := &Session{
		ID:         id,
		Key:        key,
		UserID:     userID,
		HostIP:     hostip,
		AuthType:   AuthTypePassword,
		Master:     master,
		StartTime:  time.Now().Add(-time.Hour),
		UpdateTime: time.Now().Add(-time.Minute),
	}
	m.sessions[id] = sess
	return sess
}

func (m *mockRepository) UserIDByCredentials(ctx context.Context, name, password string) (int64, error) {
	m.credentialQueries++
	for id, user := range m.users {
		if user.Name == name && m.passwords[id] == password && password != "" {
			return id, nil
		}
	}
	return 0, nil
}

func (m *mockRepository) UserIDByName(ctx context.Context, name string) (int64, error) {
	for id, user := range m.users {
		if user.Name == name {
			return id, nil
		}
	}
	return 0, nil
}

func (m *mockRepository) UserIDByKrbPrincipal(ctx context.Context, principal string) (int64, error) {
	for id, principals := range m.principals {
		for _, p := range principals {
			if p == principal {
				return id, nil
			}
		}
	}
	return 0, nil
}

func (m *mockRepository) UserByID(ctx context.Context, id int64) (*User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *mockRepository) CreateUser(ctx context.Context, name string, usertype UserType, status UserStatus, krbPrincipal string) (int64, error) {
	id := m.nextUserID
	m.nextUserID++
	m.users[id] = &User{ID: id, Name: name, Status: status, Type: usertype}
	if krbPrincipal != "" {
		m.principals[id] = append(m.principals[id], krbPrincipal)
	}
	return id, nil
}

func (m *mockRepository) UserKrbPrincipals(ctx context.Context, userID int64) ([]string, error) {
	return m.principals[userID], nil
}

func (m *mockRepository) AttachKrbPrincipal(ctx context.Context, userID int64, principal string) error {
	m.principals[userID] = append(m.principals[userID], principal)
	return nil
}

func (m *mockRepository) RemoveKrbPrincipal(ctx context.Context, userID int64, principal string) error {
	principals := m.principals[userID]
	for i, p := range principals {
		if p == principal {
			m.principals[userID] = append(principals[:i], principals[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepository) InsertSession(ctx context.Context, userID int64, key, hostip string, authType AuthType, master *int64) (int64, error) {
	id := m.nextSessionID
	m.nextSessionID++
	m.sessions[id] = &Session{
		ID:         id,
		Key:        key,
		UserID:     userID,
		HostIP:     hostip,
		AuthType:   authType,
		Master:     master,
		StartTime:  time.Now(),
		UpdateTime: time.Now(),
	}
	return id, nil
}

func (m *mockRepository) ExpireSession(ctx context.Context, id int64) error {
	for _, sess := range m.sessions {
		if sess.ID == id || (sess.Master != nil && *sess.Master == id) {
			sess.Expired = true
			sess.Exclusive = false
		}
	}
	return nil
}

func (m *mockRepository) ExpireChild(ctx context.Context, masterID, childID int64) error {
	sess, ok := m.sessions[childID]
	if ok && sess.Master != nil && *sess.Master == masterID {
		sess.Expired = true
		sess.Exclusive = false
	}
	return nil
}

func (m *mockRepository) ClearExclusive(ctx context.Context, id int64) error {
	if sess, ok := m.sessions[id]; ok {
		sess.Exclusive = false
	}
	return nil
}

func (m *mockRepository) SessionBelongsToUser(ctx context.Context, sessionID, userID int64) (bool, error) {
	sess, ok := m.sessions[sessionID]
	return ok && sess.UserID == userID, nil
}

func (m *mockRepository) UserPerms(ctx context.Context, userID int64) ([]string, error) {
	m.permQueries++
	return m.perms[userID], nil
}

func (m *mockRepository) UserGroups(ctx context.Context, userID int64) (map[int64]string, error) {
	m.groupQueries++
	groups := make(map[int64]string, len(m.groups[userID]))
	for id, name := range m.groups[userID] {
		groups[id] = name
	}
	return groups, nil
}

func (m *mockRepository) HostIDByUser(ctx context.Context, userID int64) (int64, error) {
	m.hostQueries++
	return m.hosts[userID], nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	tx := &mockTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, callnum := range tx.staged {
		if sess, ok := m.sessions[id]; ok {
			c := callnum
			sess.Callnum = &c
		}
	}
	return nil
}

type mockTx struct {
	repo   *mockRepository
	staged map[int64]int64
}

func (t *mockTx) SessionForUpdate(ctx context.Context, id int64, key, hostip string) (*Session, error) {
	sess, ok := t.repo.sessions[id]
	if !ok || sess.Key != key || sess.HostIP != hostip {
		return nil, ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (t *mockTx) UserByID(ctx context.Context, id int64) (*User, error) {
	return t.repo.UserByID(ctx, id)
}

func (t *mockTx) ExclusiveSessionID(ctx context.Context, userID int64) (int64, error) {
	for _, sess := range t.repo.sessions {
		if sess.UserID == userID && sess.Exclusive && !sess.Expired {
			return sess.ID, nil
		}
	}
	return 0, nil
}

func (t *mockTx) ExclusiveSessionIDForUpdate(ctx context.Context, userID int64) (int64, error) {
	return t.ExclusiveSessionID(ctx, userID)
}

func (t *mockTx) LockUser(ctx context.Context, userID int64) error {
	if _, ok := t.repo.users[userID]; !ok {
		return ErrNotFound
	}
	return nil
}

func (t *mockTx) CloseSession(ctx context.Context, id int64) error {
	if sess, ok := t.repo.sessions[id]; ok {
		sess.Expired = true
		sess.Exclusive = false
	}
	return nil
}

func (t *mockTx) SetExclusive(ctx context.Context, id int64) error {
	if sess, ok := t.repo.sessions[id]; ok {
		sess.Exclusive = true
	}
	return nil
}

func (t *mockTx) TouchSession(ctx context.Context, id int64) error {
	if sess, ok := t.repo.sessions[id]; ok {
		sess.UpdateTime = time.Now()
	}
	return nil
}

func (t *mockTx) StageCallnum(ctx context.Context, sessionID, callnum int64) error {
	if t.staged == nil {
		t.staged = make(map[int64]int64)
	}
	t.staged[sessionID] = callnum
	return nil
}

var _ Repository = (*mockRepository)(nil)
var _ TxRepository = (*mockTx)(nil)
