package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/http/respond"
)

const defaultTokenTTL = 24 * time.Hour

// CodeIssuer is the slice of otp.Issuer the login flow needs.
type CodeIssuer interface {
	Issue(ctx context.Context, phone string) (string, error)
	Verify(ctx context.Context, phone, code string) error
}

// Login implements phone OTP sign-in for customers.
type Login struct {
	codes     CodeIssuer
	customers customer.Directory
	secret    string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewLogin(codes CodeIssuer, customers customer.Directory, secret string, ttl time.Duration, logger *zap.Logger) *Login {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Login{codes: codes, customers: customers, secret: secret, ttl: ttl, now: time.Now, logger: logger.Named("login")}
}

// Mount registers the login routes on r.
func (l *Login) Mount(r chi.Router) {
	r.Post("/v1/auth/otp", l.requestCode)
	r.Post("/v1/auth/verify", l.verifyCode)
}

type codeRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

func (l *Login) requestCode(w http.ResponseWriter, r *http.Request) {
	var payload codeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Phone) == "" {
		respond.Error(w, http.StatusBadRequest, "phone is required", "phone")
		return
	}
	if _, err := l.codes.Issue(r.Context(), payload.Phone); err != nil {
		l.logger.Error("issue otp failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "could not issue code")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP sent"})
}

func (l *Login) verifyCode(w http.ResponseWriter, r *http.Request) {
	var payload codeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var missing []string
	if strings.TrimSpace(payload.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(payload.OTP) == "" {
		missing = append(missing, "otp")
	}
	if len(missing) > 0 {
		respond.Error(w, http.StatusBadRequest, "missing required fields", missing...)
		return
	}

	if err := l.codes.Verify(r.Context(), payload.Phone, payload.OTP); err != nil {
		respond.Error(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}
	c, err := l.customers.FindByPhone(r.Context(), strings.TrimSpace(payload.Phone))
	if errors.Is(err, customer.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "no customer registered for this phone")
		return
	}
	if err != nil {
		l.logger.Error("customer lookup failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	token, err := IssueToken(l.secret, c.ID, RoleCustomer, l.ttl, l.now())
	if err != nil {
		l.logger.Error("sign token failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "token": token, "customer": c})
}
