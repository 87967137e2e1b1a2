// Package handler exposes the booking service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/auth"
	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/booking/service"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/http/respond"
	"github.com/example/servicebook/internal/vendor"
)

// VendorSecretHeader authenticates partner systems on the callback routes.
const VendorSecretHeader = "X-Vendor-Secret"

// Availability answers vendor search queries.
type Availability interface {
	FindAllAvailableVendors(ctx context.Context, service string, point geo.Point, maxKm float64) ([]domain.Match, error)
	IsVendorAvailable(ctx context.Context, vendorID, service string) (bool, error)
}

// Options configure authentication. An empty JWTSecret disables token checks;
// an empty VendorSecret closes the partner callback routes.
type Options struct {
	JWTSecret    string
	VendorSecret string
}

// HTTP exposes booking endpoints.
type HTTP struct {
	svc          *service.Service
	availability Availability
	opts         Options
	logger       *zap.Logger
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, availability Availability, opts Options, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, availability: availability, opts: opts, logger: logger.Named("http")}
}

// Router builds the chi router with all endpoints and middlewares. extra
// mounts additional routes, such as login, on the same router.
func (h *HTTP) Router(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	h.Mount(r)
	for _, mount := range extra {
		mount(r)
	}
	return r
}

// Mount registers the booking routes on r.
func (h *HTTP) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.opts.JWTSecret, auth.RoleCustomer))
		r.Post("/v1/bookings", h.createBooking)
		r.Post("/v1/bookings/{id}/cancel", h.cancelBooking)
		r.Post("/v1/bookings/{id}/rematch", h.rematchBooking)
		r.Get("/v1/customers/{id}/bookings", h.listCustomerBookings)
		r.Get("/v1/customers/{id}/history", h.bookingHistory)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.opts.JWTSecret))
		r.Get("/v1/bookings/{id}", h.getBooking)
		r.Get("/v1/vendors/available", h.availableVendors)
		r.Get("/v1/vendors/{id}/availability", h.vendorAvailability)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.opts.JWTSecret, auth.RoleVendor))
		r.Get("/v1/vendors/{id}/bookings", h.listVendorBookings)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.SharedSecret(VendorSecretHeader, h.opts.VendorSecret))
		r.Patch("/v1/bookings/status", h.updateStatus)
		r.Post("/v1/external/vendor-update", h.externalVendorUpdate)
	})
}

type createResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	service.CreateResult
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateBookingRequest
	if !decode(w, r, &payload) {
		return
	}
	if !auth.ActsFor(r.Context(), payload.CustomerID) {
		respond.Error(w, http.StatusForbidden, "token does not belong to userId")
		return
	}
	res, err := h.svc.CreateBooking(r.Context(), r.Header.Get("Idempotency-Key"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.VendorFound {
		respond.JSON(w, http.StatusOK, createResponse{Success: true, Message: "Booking created, searching for an available vendor", CreateResult: res})
		return
	}
	respond.JSON(w, http.StatusCreated, createResponse{Success: true, Message: "Booking created and vendor assigned", CreateResult: res})
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != b.CustomerID && !b.AssignedTo(claims.Subject) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

type ownerRequest struct {
	CustomerID string `json:"customerId"`
}

func (h *HTTP) ownerAction(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, ok := bookingID(w, r)
	if !ok {
		return 0, "", false
	}
	var payload ownerRequest
	if !decode(w, r, &payload) {
		return 0, "", false
	}
	if strings.TrimSpace(payload.CustomerID) == "" {
		respond.Error(w, http.StatusBadRequest, "customerId is required", "customerId")
		return 0, "", false
	}
	if !auth.ActsFor(r.Context(), payload.CustomerID) {
		h.writeError(w, domain.ErrForbidden)
		return 0, "", false
	}
	return id, payload.CustomerID, true
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, customerID, ok := h.ownerAction(w, r)
	if !ok {
		return
	}
	b, err := h.svc.CancelBooking(r.Context(), id, customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Booking cancelled", "booking": b})
}

func (h *HTTP) rematchBooking(w http.ResponseWriter, r *http.Request) {
	id, customerID, ok := h.ownerAction(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RematchBooking(r.Context(), id, customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !res.VendorFound {
		respond.JSON(w, http.StatusOK, createResponse{Success: true, Message: "No vendor available yet", CreateResult: res})
		return
	}
	respond.JSON(w, http.StatusOK, createResponse{Success: true, Message: "Vendor assigned", CreateResult: res})
}

func (h *HTTP) updateStatus(w http.ResponseWriter, r *http.Request) {
	var payload service.StatusUpdate
	if !decode(w, r, &payload) {
		return
	}
	b, err := h.svc.ApplyStatusUpdate(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Booking " + string(b.Status), "booking": b})
}

func (h *HTTP) externalVendorUpdate(w http.ResponseWriter, r *http.Request) {
	var payload service.ExternalVendorUpdate
	if !decode(w, r, &payload) {
		return
	}
	b, err := h.svc.ApplyExternalVendorUpdate(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Vendor update recorded", "booking": b})
}

func (h *HTTP) listCustomerBookings(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	if !auth.ActsFor(r.Context(), customerID) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	bookings, err := h.svc.ListCustomerBookings(r.Context(), customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, bookings)
}

func (h *HTTP) bookingHistory(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	if !auth.ActsFor(r.Context(), customerID) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	bookings, err := h.svc.BookingHistory(r.Context(), customerID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, bookings)
}

func (h *HTTP) listVendorBookings(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")
	if !auth.ActsFor(r.Context(), vendorID) {
		h.writeError(w, domain.ErrForbidden)
		return
	}
	bookings, err := h.svc.ListVendorBookings(r.Context(), vendorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, bookings)
}

type vendorResult struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Rating     float64 `json:"rating"`
	Completed  int     `json:"completedBookings"`
	DistanceKm float64 `json:"distanceKm"`
	Address    string  `json:"address,omitempty"`
}

func (h *HTTP) availableVendors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var invalid []string
	svcName := strings.TrimSpace(q.Get("service"))
	if svcName == "" {
		invalid = append(invalid, "service")
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		invalid = append(invalid, "lat")
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		invalid = append(invalid, "lng")
	}
	var radius float64
	if raw := q.Get("radius_km"); raw != "" {
		if radius, err = strconv.ParseFloat(raw, 64); err != nil || radius < 0 {
			invalid = append(invalid, "radius_km")
		}
	}
	if len(invalid) > 0 {
		respond.Error(w, http.StatusBadRequest, "invalid query parameters", invalid...)
		return
	}

	matches, err := h.availability.FindAllAvailableVendors(r.Context(), svcName, geo.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]vendorResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, vendorResult{
			ID:         m.Vendor.ID,
			Name:       m.Vendor.Name,
			Rating:     m.Vendor.Rating,
			Completed:  m.Vendor.CompletedBookings,
			DistanceKm: m.DistanceKm,
			Address:    m.Presence.Address,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "count": len(out), "vendors": out})
}

func (h *HTTP) vendorAvailability(w http.ResponseWriter, r *http.Request) {
	svcName := strings.TrimSpace(r.URL.Query().Get("service"))
	if svcName == "" {
		respond.Error(w, http.StatusBadRequest, "service is required", "service")
		return
	}
	available, err := h.availability.IsVendorAvailable(r.Context(), chi.URLParam(r, "id"), svcName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "available": available})
}

func (h *HTTP) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, verr.Error(), verr.Fields...)
	case errors.Is(err, domain.ErrForbidden):
		respond.Error(w, http.StatusForbidden, "not permitted to act on this booking")
	case errors.Is(err, domain.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, customer.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "customer not found")
	case errors.Is(err, vendor.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "vendor not found")
	case errors.Is(err, domain.ErrConflict):
		respond.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func writeList(w http.ResponseWriter, bookings []domain.Booking) {
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "count": len(bookings), "bookings": bookings})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, http.StatusBadRequest, "invalid booking id", "id")
		return 0, false
	}
	return id, true
}
