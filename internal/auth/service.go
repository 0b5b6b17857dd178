package auth

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Config is the session core's view of the hub configuration.
type Config struct {
	// CheckClientIP binds sessions to the caller's address. When off,
	// every session stores the sentinel address instead.
	CheckClientIP bool
	// DNUsernameComponent names the certificate subject field that yields
	// the username for SSL logins.
	DNUsernameComponent string
	// ProxyDNs lists certificate subjects allowed to log other users in,
	// separated by '|'.
	ProxyDNs string
	// ProxyPrincipals lists Kerberos principals allowed to log other
	// users in, separated by ','.
	ProxyPrincipals string
	// DisableGSSAPIProxyDNFallback turns off the legacy behaviour of
	// reading GSSAPI proxy principals from ProxyDNs when ProxyPrincipals
	// is unset.
	DisableGSSAPIProxyDNFallback bool
	// AllowedKrbRealms is "*" or a comma-separated realm allow-list.
	AllowedKrbRealms string
	// LoginCreatesUser auto-provisions unknown Kerberos users on first
	// login.
	LoginCreatesUser bool
	// RetryWhitelist names the methods safe to re-execute when a call
	// number is replayed.
	RetryWhitelist []string
}

// Service implements the session and authentication core: credential
// validation, session lifecycle, per-call resolution, exclusivity
// arbitration and authorization lookups.
type Service struct {
	repo      Repository
	cfg       Config
	logger    *slog.Logger
	whitelist map[string]struct{}
}

// NewService constructs a Service.
func NewService(repo Repository, cfg Config, logger *slog.Logger) *Service {
	if cfg.DNUsernameComponent == "" {
		cfg.DNUsernameComponent = "CN"
	}
	if cfg.AllowedKrbRealms == "" {
		cfg.AllowedKrbRealms = "*"
	}
	whitelist := make(map[string]struct{}, len(cfg.RetryWhitelist))
	for _, m := range cfg.RetryWhitelist {
		whitelist[m] = struct{}{}
	}
	return &Service{repo: repo, cfg: cfg, logger: logger, whitelist: whitelist}
}

// MethodRetryable reports whether a method may be re-executed after an
// at-most-once conflict.
func (s *Service) MethodRetryable(method string) bool {
	_, ok := s.whitelist[method]
	return ok
}

// remoteIP resolves the address a session is bound to.
func (s *Service) remoteIP(addr string) string {
	if !s.cfg.CheckClientIP {
		return HostIPSentinel
	}
	return addr
}

// newSessionKey builds the opaque secret bound to a session id. The user
// id prefix only aids debugging; the random part carries the secrecy.
func newSessionKey(userID int64) string {
	return fmt.Sprintf("%d-%s", userID, uuid.NewString())
}
