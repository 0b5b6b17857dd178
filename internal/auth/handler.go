package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgehub/forgehub/internal/platform/httpx"
)

// Session credential headers presented on every authenticated call.
const (
	HeaderSessionID  = "X-Session-Id"
	HeaderSessionKey = "X-Session-Key"
	HeaderCallnum    = "X-Session-Callnum"
)

// Transport identity headers injected by the terminating proxy for
// certificate and Kerberos logins. Per-component subject fields arrive as
// X-Ssl-Client-Dn-<component>, e.g. X-Ssl-Client-Dn-Cn.
const (
	HeaderRemoteUser     = "X-Remote-User"
	HeaderClientVerify   = "X-Ssl-Client-Verify"
	HeaderClientDN       = "X-Ssl-Client-Dn"
	headerClientDNPrefix = "X-Ssl-Client-Dn-"
)

// Handler wires the hub's session endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers session routes on the provided router. The
// credential endpoints are grouped so callers can throttle them without
// touching the per-call endpoints.
func (h *Handler) MountRoutes(r chi.Router, loginMiddleware ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		for _, mw := range loginMiddleware {
			r.Use(mw)
		}
		r.Post("/login", h.handleLogin)
		r.Post("/ssllogin", h.handleSSLLogin)
	})
	r.Post("/logout", h.handleLogout)
	r.Post("/subsession", h.handleSubsession)
	r.Post("/logout-child", h.handleLogoutChild)
	r.Post("/exclusive", h.handleExclusive)
	r.Post("/shared", h.handleShared)
	r.Get("/session", h.handleSessionInfo)
}

type loginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	Exclusive bool   `json:"exclusive"`
	HostIP    string `json:"host_ip"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	hostIP := req.HostIP
	if hostIP == "" {
		hostIP = remoteIP(r)
	}
	current, err := h.resolveOptional(r, "login")
	if err != nil {
		h.respondError(w, err)
		return
	}
	sinfo, err := h.service.Login(r.Context(), current, req.Username, req.Password,
		LoginOptions{HostIP: hostIP, Exclusive: req.Exclusive})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sinfo)
}

type sslLoginRequest struct {
	ProxyUser string `json:"proxyuser"`
	Exclusive bool   `json:"exclusive"`
}

func (h *Handler) handleSSLLogin(w http.ResponseWriter, r *http.Request) {
	var req sslLoginRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	ident := transportIdentity(r)
	current, err := h.resolveOptional(r, "sslLogin")
	if err != nil {
		h.respondError(w, err)
		return
	}
	sinfo, err := h.service.SSLLogin(r.Context(), current, ident, req.ProxyUser,
		LoginOptions{Exclusive: req.Exclusive})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sinfo)
}

type logoutRequest struct {
	SessionID int64 `json:"session_id"`
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "logout")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req logoutRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.service.Logout(r.Context(), resolved, req.SessionID); err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleSubsession(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "subsession")
	if err != nil {
		h.respondError(w, err)
		return
	}
	sinfo, err := h.service.Subsession(r.Context(), resolved)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, sinfo)
}

type logoutChildRequest struct {
	SessionID int64 `json:"session_id" validate:"required"`
}

func (h *Handler) handleLogoutChild(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "logoutChild")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req logoutChildRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.LogoutChild(r.Context(), resolved, req.SessionID); err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type exclusiveRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) handleExclusive(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "exclusiveSession")
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req exclusiveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.service.MakeExclusive(r.Context(), resolved, req.Force); err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, map[string]bool{"exclusive": true})
}

func (h *Handler) handleShared(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "sharedSession")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.MakeShared(r.Context(), resolved); err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, map[string]bool{"exclusive": false})
}

type sessionInfoResponse struct {
	SessionID int64            `json:"session_id"`
	UserID    int64            `json:"user_id"`
	UserName  string           `json:"user_name"`
	AuthType  string           `json:"authtype"`
	Master    *int64           `json:"master,omitempty"`
	Exclusive bool             `json:"exclusive"`
	Perms     []string         `json:"perms"`
	Groups    map[int64]string `json:"groups"`
	HostID    int64            `json:"host_id,omitempty"`
}

func (h *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.resolve(r, "getSessionInfo")
	if err != nil {
		h.respondError(w, err)
		return
	}
	perms, err := resolved.Perms(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	groups, err := resolved.Groups(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	hostID, err := resolved.HostID(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.finish(r, resolved)
	httpx.JSON(w, http.StatusOK, sessionInfoResponse{
		SessionID: resolved.Session.ID,
		UserID:    resolved.User.ID,
		UserName:  resolved.User.Name,
		AuthType:  resolved.Session.AuthType.String(),
		Master:    resolved.Session.Master,
		Exclusive: resolved.ExclusiveHeld(),
		Perms:     perms,
		Groups:    groups,
		HostID:    hostID,
	})
}

// resolve authenticates the call from its session headers.
func (h *Handler) resolve(r *http.Request, method string) (*Resolved, error) {
	creds, err := callCredentials(r)
	if err != nil {
		return nil, err
	}
	return h.service.Resolve(r.Context(), creds, method)
}

// resolveOptional is used by login endpoints, where session headers are
// normally absent but a double login must still be detected. Headers that
// are present but do not resolve are an error, not an anonymous call.
func (h *Handler) resolveOptional(r *http.Request, method string) (*Resolved, error) {
	if r.Header.Get(HeaderSessionID) == "" {
		return nil, nil
	}
	return h.resolve(r, method)
}

// finish commits the staged call number once the operation's work is done.
func (h *Handler) finish(r *http.Request, resolved *Resolved) {
	if err := h.service.FinishCall(r.Context(), resolved); err != nil {
		h.logger.Error("persist callnum", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var authErr *Error
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case KindAuth, KindExpired:
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", authErr.Msg)
		case KindNotAllowed:
			httpx.Problem(w, http.StatusForbidden, "Forbidden", authErr.Msg)
		case KindLock, KindSequence, KindRetry:
			httpx.Problem(w, http.StatusConflict, "Conflict", authErr.Msg)
		default:
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", authErr.Msg)
		}
		return
	}
	h.logger.Error("session endpoint", slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// callCredentials extracts session credentials from request headers.
func callCredentials(r *http.Request) (CallCredentials, error) {
	rawID := r.Header.Get(HeaderSessionID)
	key := r.Header.Get(HeaderSessionKey)
	if rawID == "" || key == "" {
		return CallCredentials{}, errf(KindAuth, "session-id and session-key are required")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return CallCredentials{}, errf(KindAuth, "invalid session-id: %s", rawID)
	}
	creds := CallCredentials{SessionID: id, SessionKey: key, RemoteIP: remoteIP(r)}
	if raw := r.Header.Get(HeaderCallnum); raw != "" {
		callnum, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return CallCredentials{}, errf(KindAuth, "invalid callnum: %s", raw)
		}
		creds.Callnum = &callnum
	}
	return creds, nil
}

// transportIdentity collects the proxy-injected identity fields.
func transportIdentity(r *http.Request) TransportIdentity {
	components := make(map[string]string)
	for name, values := range r.Header {
		if strings.HasPrefix(name, headerClientDNPrefix) && len(values) > 0 {
			components[strings.ToUpper(name[len(headerClientDNPrefix):])] = values[0]
		}
	}
	return TransportIdentity{
		RemoteUser:   r.Header.Get(HeaderRemoteUser),
		ClientVerify: r.Header.Get(HeaderClientVerify),
		ClientDN:     r.Header.Get(HeaderClientDN),
		DNComponents: components,
		RemoteIP:     remoteIP(r),
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
