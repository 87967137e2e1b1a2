// Package otp issues short-lived numeric one-time codes.
package otp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAbsent   = errors.New("otp: no code issued")
	ErrExpired  = errors.New("otp: code expired")
	ErrMismatch = errors.New("otp: code does not match")
)

const DefaultTTL = 5 * time.Minute

// Cache holds values that can be taken at most once before they expire.
type Cache interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// TakeIfValid removes the entry and returns it, or ErrAbsent / ErrExpired.
	TakeIfValid(ctx context.Context, key string) (string, error)
}

// Generate returns a uniformly distributed code in [1000, 9999].
func Generate() int {
	return rand.Intn(9000) + 1000
}

// Issuer hands out login codes keyed by phone number.
type Issuer struct {
	cache    Cache
	ttl      time.Duration
	generate func() int
	logger   *zap.Logger
}

func NewIssuer(cache Cache, ttl time.Duration, logger *zap.Logger) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{cache: cache, ttl: ttl, generate: Generate, logger: logger.Named("otp")}
}

// Issue stores a fresh code for phone, replacing any previous one. Codes are
// not delivered; they are logged for the operator console.
func (i *Issuer) Issue(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", errors.New("otp: phone is required")
	}
	code := strconv.Itoa(i.generate())
	if err := i.cache.Put(ctx, phone, code, i.ttl); err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	i.logger.Info("otp issued", zap.String("phone", phone), zap.String("code", code))
	return code, nil
}

// Verify consumes the code for phone. A wrong guess also consumes it.
func (i *Issuer) Verify(ctx context.Context, phone, code string) error {
	stored, err := i.cache.TakeIfValid(ctx, strings.TrimSpace(phone))
	if err != nil {
		return err
	}
	if stored != strings.TrimSpace(code) {
		return ErrMismatch
	}
	return nil
}
