package auth

import "time"

// AuthType identifies the credential mechanism that opened a session.
type AuthType int

const (
	// AuthTypePassword is plain username/password authentication.
	AuthTypePassword AuthType = iota
	// AuthTypeSSL is client-certificate authentication.
	AuthTypeSSL
	// AuthTypeGSSAPI is Kerberos/GSSAPI authentication.
	AuthTypeGSSAPI
)

func (t AuthType) String() string {
	switch t {
	case AuthTypePassword:
		return "password"
	case AuthTypeSSL:
		return "ssl"
	case AuthTypeGSSAPI:
		return "gssapi"
	default:
		return "unknown"
	}
}

// UserStatus gates whether an account may authenticate.
type UserStatus int

const (
	// UserStatusNormal allows logins.
	UserStatusNormal UserStatus = iota
	// UserStatusBlocked rejects logins and invalidates active sessions.
	UserStatusBlocked
)

// UserType classifies an account.
type UserType int

const (
	// UserTypeNormal is a regular account.
	UserTypeNormal UserType = iota
	// UserTypeHost is a builder-host account.
	UserTypeHost
	// UserTypeGroup is a group pseudo-account.
	UserTypeGroup
)

// HostIPSentinel replaces the client address when CheckClientIP is off.
const HostIPSentinel = "-"

// Session is one row of the sessions table. Master is non-nil for
// subsessions. Callnum holds the last call number durably recorded as
// completed; nil means no numbered call has completed yet.
type Session struct {
	ID         int64
	Key        string
	UserID     int64
	HostIP     string
	AuthType   AuthType
	Master     *int64
	Exclusive  bool
	Expired    bool
	Callnum    *int64
	StartTime  time.Time
	UpdateTime time.Time
}

// IsSubsession reports whether the session references a master session.
func (s *Session) IsSubsession() bool {
	return s != nil && s.Master != nil
}

// User is one row of the users table.
type User struct {
	ID     int64
	Name   string
	Status UserStatus
	Type   UserType
}

// SessionInfo is returned to a freshly authenticated client.
type SessionInfo struct {
	ID  int64  `json:"session-id"`
	Key string `json:"session-key"`
}

// CallCredentials identify an established session on an inbound call.
type CallCredentials struct {
	SessionID  int64
	SessionKey string
	Callnum    *int64
	RemoteIP   string
}

// TransportIdentity carries the identity fields injected by the transport
// layer for certificate and Kerberos logins. RemoteUser, when set, is a
// Kerberos principal and takes precedence over the certificate fields.
type TransportIdentity struct {
	RemoteUser   string
	ClientVerify string
	ClientDN     string
	DNComponents map[string]string
	RemoteIP     string
}
