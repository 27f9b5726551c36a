package ws

import (
	"net/http"
	"strings"

	"github.com/folkengine/goname"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/auth"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/types"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades requests on /chat/{room} to websocket connections and subscribes them to the room.
//
// The user is taken from an OIDC ID token (query parameters id_token and provider), otherwise from the
// user_id and username query parameters, otherwise the connection gets a generated guest name.
type Handler struct {
	svc       *chat.Service
	oidc      *auth.OIDCAuthenticator
	accounts  *auth.Accounts
	rateLimit config.RateLimitConfig
	logger    hclog.Logger
}

func NewHandler(svc *chat.Service, oidc *auth.OIDCAuthenticator, accounts *auth.Accounts, rateLimit config.RateLimitConfig, logger hclog.Logger) *Handler {
	return &Handler{svc: svc, oidc: oidc, accounts: accounts, rateLimit: rateLimit, logger: logger}
}

func (h *Handler) user(r *http.Request) types.User {
	vals := r.URL.Query()
	if idToken := vals.Get("id_token"); idToken != "" && h.oidc != nil {
		identity, err := h.oidc.Authenticate(r.Context(), idToken, vals.Get("provider"))
		if err != nil {
			h.logger.Info("authentication failed, continuing as guest", "error", err)
		}
		if identity != nil {
			user := types.User{Id: identity.UserId, Username: identity.Name, Email: identity.Email}
			if h.accounts != nil {
				if registered, err := h.accounts.ByEmail(identity.Email); err == nil {
					user = *registered
				}
			}
			if user.Username == "" {
				user.Username = identity.Email
			}
			return user
		}
	}
	if userId := strings.TrimSpace(vals.Get("user_id")); userId != "" {
		name := strings.TrimSpace(vals.Get("username"))
		if name == "" {
			name = userId
		}
		return types.User{Id: userId, Username: name}
	}
	nick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	return types.User{Id: nick, Username: nick}
}

func (h *Handler) limiter() *rate.Limiter {
	if h.rateLimit.MessagesPerSecond <= 0 {
		return nil
	}
	burst := h.rateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.rateLimit.MessagesPerSecond), burst)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	if roomId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	user := h.user(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close() //nolint

	logger := h.logger.With("user", user.Id)
	c := NewClient(h.svc, conn, user, h.limiter(), logger)
	// the request context ends with the handler, not with the connection
	ctx := r.Context()
	if err := c.Join(ctx, roomId); err != nil {
		logger.Info("could not join room", "room", roomId, "error", err)
		msg, _ := types.EncodeWire(types.WireEventError, map[string]string{"message": apperrors.UserMessage(err)})
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		return
	}
	c.Run(ctx)
	logger.Debug("connection closed", "room", roomId)
}
