package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// SSLVerifySuccess is the transport's marker for a verified client
// certificate.
const SSLVerifySuccess = "SUCCESS"

// SSLLogin authenticates via transport identity: a Kerberos principal when
// the transport delivered one, otherwise a verified client certificate. A
// non-empty proxyUser logs that user in instead, provided the caller's
// DN/principal is in the configured allow-list.
func (s *Service) SSLLogin(ctx context.Context, current *Resolved, ident TransportIdentity, proxyUser string, opts LoginOptions) (*SessionInfo, error) {
	if current.LoggedIn() {
		return nil, errf(KindGeneric, "already logged in")
	}

	var (
		username string
		clientDN string
		authtype AuthType
	)
	if ident.RemoteUser != "" {
		// transport-delivered Kerberos principal
		username = ident.RemoteUser
		clientDN = username
		authtype = AuthTypeGSSAPI
	} else {
		if ident.ClientVerify != SSLVerifySuccess {
			return nil, errf(KindAuth, "could not verify client: %s", ident.ClientVerify)
		}
		username = ident.DNComponents[s.cfg.DNUsernameComponent]
		if username == "" {
			return nil, errf(KindAuth,
				"unable to get user information (%s) from client certificate",
				s.cfg.DNUsernameComponent)
		}
		clientDN = ident.ClientDN
		authtype = AuthTypeSSL
	}

	if proxyUser != "" {
		if !s.proxyAllowed(clientDN, authtype) {
			return nil, errf(KindAuth, "%s is not authorized to login other users", clientDN)
		}
		username = proxyUser
	}

	var (
		userID int64
		err    error
	)
	krb := authtype == AuthTypeGSSAPI && strings.Contains(username, "@")
	if krb {
		userID, err = s.userIDFromKerberos(ctx, username)
	} else {
		userID, err = s.repo.UserIDByName(ctx, username)
	}
	if err != nil {
		return nil, err
	}
	if userID == 0 {
		if !s.cfg.LoginCreatesUser {
			return nil, errf(KindAuth, "unknown user: %s", username)
		}
		if krb {
			userID, err = s.CreateUserFromKerberos(ctx, username)
		} else {
			userID, err = s.repo.CreateUser(ctx, username, UserTypeNormal, UserStatusNormal, "")
		}
		if err != nil {
			return nil, err
		}
	}
	if err := s.checkLoginAllowed(ctx, userID); err != nil {
		return nil, err
	}

	hostip := s.remoteIP(ident.RemoteIP)
	sinfo, err := s.CreateSession(ctx, userID, hostip, authtype, nil)
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
		slog.String("authtype", authtype.String()))
	return sinfo, nil
}

// proxyAllowed checks the on-behalf-of allow-list for the caller. SSL uses
// ProxyDNs split on '|' (DNs contain commas). GSSAPI uses ProxyPrincipals
// split on ','; when that option is unset the legacy fallback reads
// ProxyDNs with the comma delimiter, unless disabled. An absent caller
// identity never matches: splitting an empty allow-list yields one empty
// entry, which must not grant an empty clientDN proxy rights.
func (s *Service) proxyAllowed(clientDN string, authtype AuthType) bool {
	if clientDN == "" {
		return false
	}
	raw := s.cfg.ProxyDNs
	delimiter := "|"
	if authtype == AuthTypeGSSAPI {
		delimiter = ","
		if s.cfg.ProxyPrincipals != "" || s.cfg.DisableGSSAPIProxyDNFallback {
			raw = s.cfg.ProxyPrincipals
		}
	}
	for _, dn := range strings.Split(raw, delimiter) {
		if dn = strings.TrimSpace(dn); dn != "" && dn == clientDN {
			return true
		}
	}
	return false
}

// userIDFromKerberos maps a principal to a user id, or 0 when unknown.
func (s *Service) userIDFromKerberos(ctx context.Context, principal string) (int64, error) {
	if err := s.checkKrbPrincipal(principal); err != nil {
		return 0, err
	}
	return s.repo.UserIDByKrbPrincipal(ctx, principal)
}

// checkKrbPrincipal enforces the realm policy. A principal without '@' or
// with an empty realm is always rejected; the wildcard policy skips the
// realm membership check only.
func (s *Service) checkKrbPrincipal(principal string) error {
	atidx := strings.Index(principal, "@")
	if atidx == -1 || atidx == len(principal)-1 {
		return errf(KindAuth, "invalid Kerberos principal: %s", principal)
	}
	if s.cfg.AllowedKrbRealms == "*" {
		return nil
	}
	realm := principal[atidx+1:]
	for _, allowed := range strings.Split(s.cfg.AllowedKrbRealms, ",") {
		if strings.TrimSpace(allowed) == realm {
			return nil
		}
	}
	return errf(KindAuth, "Kerberos principal's realm: %s is not allowed", realm)
}

// CreateUserFromKerberos provisions a user for a first-time Kerberos
// login. The username is the principal's local part; if such a user
// already exists the principal is attached to it instead.
func (s *Service) CreateUserFromKerberos(ctx context.Context, principal string) (int64, error) {
	atidx := strings.Index(principal, "@")
	if atidx == -1 {
		return 0, errf(KindAuth, "invalid Kerberos principal: %s", principal)
	}
	name := principal[:atidx]

	userID, err := s.repo.UserIDByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return s.repo.CreateUser(ctx, name, UserTypeNormal, UserStatusNormal, principal)
	}
	existing, err := s.repo.UserKrbPrincipals(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, p := range existing {
		if p == principal {
			return userID, nil
		}
	}
	if err := s.repo.AttachKrbPrincipal(ctx, userID, principal); err != nil {
		return 0, err
	}
	return userID, nil
}

// SetKrbPrincipal attaches a principal to a named user, subject to the
// realm policy. Returns the user id.
func (s *Service) SetKrbPrincipal(ctx context.Context, name, principal string) (int64, error) {
	if err := s.checkKrbPrincipal(principal); err != nil {
		return 0, err
	}
	userID, err := s.repo.UserIDByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, errf(KindAuth, "no such user: %s", name)
	}
	if err := s.repo.AttachKrbPrincipal(ctx, userID, principal); err != nil {
		return 0, err
	}
	return userID, nil
}

// RemoveKrbPrincipal detaches a principal from a named user.
func (s *Service) RemoveKrbPrincipal(ctx context.Context, name, principal string) (int64, error) {
	userID, err := s.repo.UserIDByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, errf(KindAuth, "no such user: %s", name)
	}
	if err := s.repo.RemoveKrbPrincipal(ctx, userID, principal); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, errf(KindAuth,
				"cannot remove Kerberos principal %s from user %s", principal, name)
		}
		return 0, err
	}
	return userID, nil
}
