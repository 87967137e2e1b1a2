package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/auth"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/http/respond"
)

// HTTPOptions configure the notification routes. Token registration is
// guarded by the customer JWT, direct and topic sends by the shared secret.
type HTTPOptions struct {
	JWTSecret    string
	SecretHeader string
	Secret       string
}

// HTTP exposes device token registration and operator sends.
type HTTP struct {
	sender    Sender
	customers customer.Directory
	opts      HTTPOptions
	logger    *zap.Logger
}

func NewHTTP(sender Sender, customers customer.Directory, opts HTTPOptions, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{sender: sender, customers: customers, opts: opts, logger: logger.Named("notify_http")}
}

// Mount registers the notification routes on r.
func (h *HTTP) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.opts.JWTSecret, auth.RoleCustomer))
		r.Post("/v1/notifications/token", h.registerToken)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.SharedSecret(h.opts.SecretHeader, h.opts.Secret))
		r.Post("/v1/notifications/send", h.sendToCustomer)
		r.Post("/v1/notifications/topic", h.sendToTopic)
	})
}

type tokenRequest struct {
	UserID   string `json:"userId"`
	FCMToken string `json:"fcmToken"`
}

func (h *HTTP) registerToken(w http.ResponseWriter, r *http.Request) {
	var payload tokenRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	if missing := missingFields(map[string]string{"userId": payload.UserID, "fcmToken": payload.FCMToken}); len(missing) > 0 {
		respond.Error(w, http.StatusBadRequest, "userId and fcmToken are required", missing...)
		return
	}
	if !auth.ActsFor(r.Context(), payload.UserID) {
		respond.Error(w, http.StatusForbidden, "token does not belong to userId")
		return
	}
	if err := h.sender.ValidateToken(r.Context(), payload.FCMToken); err != nil {
		h.logger.Info("rejected device token", zap.String("customer_id", payload.UserID), zap.Error(err))
		respond.Error(w, http.StatusBadRequest, "FCM token is invalid or expired", "fcmToken")
		return
	}
	err := h.customers.SetFCMToken(r.Context(), payload.UserID, payload.FCMToken)
	if errors.Is(err, customer.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("store device token failed", zap.String("customer_id", payload.UserID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "FCM token updated successfully"})
}

type sendRequest struct {
	UserID string         `json:"userId"`
	Topic  string         `json:"topic"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data"`
}

func (h *HTTP) sendToCustomer(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	if missing := missingFields(map[string]string{"userId": payload.UserID, "title": payload.Title, "body": payload.Body}); len(missing) > 0 {
		respond.Error(w, http.StatusBadRequest, "userId, title, and body are required", missing...)
		return
	}
	c, err := h.customers.FindByID(r.Context(), payload.UserID)
	if errors.Is(err, customer.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("customer lookup failed", zap.String("customer_id", payload.UserID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c.FCMToken == "" {
		respond.Error(w, http.StatusBadRequest, "User has no FCM token registered")
		return
	}
	id, err := h.sender.Notify(r.Context(), c.FCMToken, Message{Title: payload.Title, Body: payload.Body, Data: payload.Data})
	if err != nil {
		h.logger.Warn("direct send failed", zap.String("customer_id", c.ID), zap.Error(err))
		respond.Error(w, http.StatusBadGateway, "notification could not be delivered")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Notification sent successfully", "messageId": id})
}

func (h *HTTP) sendToTopic(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	if missing := missingFields(map[string]string{"topic": payload.Topic, "title": payload.Title, "body": payload.Body}); len(missing) > 0 {
		respond.Error(w, http.StatusBadRequest, "topic, title, and body are required", missing...)
		return
	}
	id, err := h.sender.NotifyTopic(r.Context(), payload.Topic, Message{Title: payload.Title, Body: payload.Body, Data: payload.Data})
	if err != nil {
		h.logger.Warn("topic send failed", zap.String("topic", payload.Topic), zap.Error(err))
		respond.Error(w, http.StatusBadGateway, "notification could not be delivered")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Topic notification sent successfully", "messageId": id})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// missingFields returns the blank keys in a stable order.
func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"userId", "fcmToken", "topic", "title", "body"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
