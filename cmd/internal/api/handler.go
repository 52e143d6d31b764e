// Package api serves the REST surface next to the chat socket: lights balances and
// withdrawals, push device registration and the last message per chat.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Aaliyah097/bochat/cmd/internal/auth"
	"github.com/Aaliyah097/bochat/cmd/internal/lights"
	"github.com/Aaliyah097/bochat/cmd/internal/notify"
	"github.com/Aaliyah097/bochat/cmd/internal/realtime"
	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

const (
	defaultMaxBodyBytes = 64 << 10
	defaultMaxLastChats = 200
)

// Config bounds request sizes.
type Config struct {
	MaxBodyBytes int64
	MaxLastChats int
}

// LightsService is the balance surface of the scoring engine.
type LightsService interface {
	Balance(ctx context.Context, userID, chatID int64) (int, error)
	Withdraw(ctx context.Context, userID, chatID int64, amount int) (lights.Balance, error)
}

// Handler wires HTTP endpoints to the lights engine, the device registry and the presence cache.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	authn    auth.Authenticator
	lights   LightsService
	devices  notify.DeviceRegistry
	presence realtime.PresenceCache
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithConfig overrides the default request bounds.
func WithConfig(cfg Config) HandlerOption {
	return func(h *Handler) {
		if cfg.MaxBodyBytes > 0 {
			h.cfg.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.MaxLastChats > 0 {
			h.cfg.MaxLastChats = cfg.MaxLastChats
		}
	}
}

// NewHandler constructs a Handler. All collaborators are required.
func NewHandler(log *slog.Logger, authn auth.Authenticator, ls LightsService, devices notify.DeviceRegistry, presence realtime.PresenceCache, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if authn == nil || ls == nil || devices == nil || presence == nil {
		return nil, errors.New("api: nil dependency")
	}

	h := &Handler{
		log:      log,
		cfg:      Config{MaxBodyBytes: defaultMaxBodyBytes, MaxLastChats: defaultMaxLastChats},
		authn:    authn,
		lights:   ls,
		devices:  devices,
		presence: presence,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the routes on r behind bearer authentication.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(h.authn))

		r.Get("/lights/{chat_id}/{user_id}", h.handleBalance)
		r.Post("/lights/{chat_id}/{user_id}/withdrawn", h.handleWithdraw)

		r.Post("/notifications/register-device", h.handleRegisterDevice)
		r.Get("/notifications/devices", h.handleListDevices)

		r.Post("/messages/last", h.handleLastMessages)
	})
}

// ---- handlers ----

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}

	amount, err := h.lights.Balance(r.Context(), userID, chatID)
	if err != nil {
		h.log.Error("api.lights.balance.fail", "chat_id", chatID, "user_id", userID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, ChatID: chatID, Amount: amount})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := h.pathIDs(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	b, err := h.lights.Withdraw(r.Context(), userID, chatID, req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, ChatID: chatID, Amount: b.Amount})
	case lights.IsInsufficientBalance(err):
		writeError(w, r, http.StatusConflict, "insufficient_balance", "not enough lights")
	case lights.IsInvalidAmount(err):
		writeError(w, r, http.StatusBadRequest, "invalid_amount", "amount must be a positive integer")
	default:
		h.log.Error("api.lights.withdraw.fail", "chat_id", chatID, "user_id", userID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	d := notify.Device{UserID: req.UserID, Token: req.Token}
	if err := d.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_device", err.Error())
		return
	}
	if !h.permits(w, r, d.UserID) {
		return
	}

	if err := h.devices.Register(r.Context(), d); err != nil {
		h.log.Error("api.devices.register.fail", "user_id", d.UserID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_user_id", "user_id must be a positive integer")
		return
	}
	if !h.permits(w, r, userID) {
		return
	}

	devices, err := h.devices.DevicesFor(r.Context(), userID)
	if err != nil {
		h.log.Error("api.devices.list.fail", "user_id", userID, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{UserID: d.UserID, Token: d.Token})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLastMessages(w http.ResponseWriter, r *http.Request) {
	var chatIDs []int64
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &chatIDs); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "body must be a JSON array of chat ids")
		return
	}
	if len(chatIDs) > h.cfg.MaxLastChats {
		writeError(w, r, http.StatusBadRequest, "too_many_chats", "too many chat ids")
		return
	}

	last, err := h.presence.Last(r.Context(), chatIDs...)
	if err != nil {
		h.log.Error("api.messages.last.fail", "chats", len(chatIDs), "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	// Keep request order; chats without messages are omitted.
	resp := lastMessagesResponse{Messages: make([]v1.Message, 0, len(last))}
	seen := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		if m, ok := last[id]; ok && !seen[id] {
			seen[id] = true
			resp.Messages = append(resp.Messages, m)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- helpers ----

func (h *Handler) pathIDs(w http.ResponseWriter, r *http.Request) (chatID, userID int64, ok bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_chat_id", "chat_id must be a positive integer")
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_user_id", "user_id must be a positive integer")
		return 0, 0, false
	}
	if !h.permits(w, r, userID) {
		return 0, 0, false
	}
	return chatID, userID, true
}

func (h *Handler) permits(w http.ResponseWriter, r *http.Request, userID int64) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || !claims.Permits(userID) {
		writeError(w, r, http.StatusForbidden, "forbidden", "token does not grant access to this user")
		return false
	}
	return true
}
