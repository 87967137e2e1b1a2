package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/servicebook/internal/auth"
	"github.com/example/servicebook/internal/booking/handler"
	"github.com/example/servicebook/internal/booking/matching"
	"github.com/example/servicebook/internal/booking/repository"
	"github.com/example/servicebook/internal/booking/service"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/scheduler"
	"github.com/example/servicebook/internal/vendor"
)

type env struct {
	router   http.Handler
	vendors  *vendor.MemoryDirectory
	presence *presence.MemoryStore
}

func newEnv(t *testing.T, opts handler.Options) *env {
	t.Helper()
	e := &env{
		vendors:  vendor.NewMemoryDirectory(),
		presence: presence.NewMemoryStore(),
	}
	customers := customer.NewMemoryDirectory(
		customer.Customer{ID: "c1", Name: "Asha"},
		customer.Customer{ID: "c2", Name: "Bilal"},
	)
	matcher, err := matching.NewMatcher(e.presence, e.vendors, matching.NewMemoryReservationStore(nil), matching.Config{}, nil)
	require.NoError(t, err)
	svc, err := service.New(service.Deps{
		Repo:        repository.NewMemoryRepository(),
		Customers:   customers,
		Vendors:     e.vendors,
		Matcher:     matcher,
		Scheduler:   scheduler.NewManual(time.Now()),
		Idempotency: repository.NewMemoryIdempotencyStore(),
		OTP:         func() int { return 4321 },
	}, service.Config{})
	require.NoError(t, err)
	e.router = handler.NewHTTP(svc, matcher, opts, nil).Router()
	return e
}

func (e *env) onlineVendor(t *testing.T, id string, at geo.Point) {
	t.Helper()
	e.vendors.Put(vendor.Vendor{ID: id, Name: "Vendor " + id, Services: []string{"Plumbing"}, Rating: 4})
	require.NoError(t, e.presence.Upsert(context.Background(), presence.Presence{VendorID: id, Online: true, Location: &at, Address: "MG Road"}))
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

const createBody = `{
	"userId": "c1",
	"selectedService": "Plumbing",
	"jobDescription": "Leaking tap",
	"date": "2024-06-02",
	"time": "10:00",
	"location": {"latitude": 12.97, "longitude": 77.59, "address": "MG Road"}
}`

func TestCreateBookingStatusCodes(t *testing.T) {
	e := newEnv(t, handler.Options{})

	rec, body := e.do(t, http.MethodPost, "/v1/bookings", createBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["vendorFound"])
	require.Equal(t, true, body["success"])

	e.onlineVendor(t, "v1", geo.Point{Lat: 12.98, Lng: 77.60})
	rec, body = e.do(t, http.MethodPost, "/v1/bookings", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, true, body["vendorFound"])
	vendorInfo := body["vendor"].(map[string]any)
	require.Equal(t, "v1", vendorInfo["id"])
	require.InDelta(t, 1.55, vendorInfo["distanceKm"], 0.01)
	booking := body["booking"].(map[string]any)
	require.Equal(t, "pending", booking["status"])
}

func TestCreateBookingValidation(t *testing.T) {
	e := newEnv(t, handler.Options{})

	rec, body := e.do(t, http.MethodPost, "/v1/bookings", `{"userId":"c1","location":{"latitude":1}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, false, body["success"])
	require.ElementsMatch(t, []any{"selectedService", "jobDescription", "date", "time", "location.longitude", "location.address"}, body["fields"])

	rec, _ = e.do(t, http.MethodPost, "/v1/bookings", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.do(t, http.MethodPost, "/v1/bookings", strings.Replace(createBody, `"c1"`, `"ghost"`, 1))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, handler.Options{VendorSecret: "s3cret"})
	e.onlineVendor(t, "v1", geo.Point{Lat: 12.98, Lng: 77.60})
	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)

	rec, _ := e.do(t, http.MethodPatch, "/v1/bookings/status", `{"bookingId":1,"vendorId":"v1","status":"accepted"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := e.do(t, http.MethodPatch, "/v1/bookings/status", `{"bookingId":1,"vendorId":"v1","status":"accepted","otp":1}`, handler.VendorSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(4321), body["booking"].(map[string]any)["otp"])

	rec, _ = e.do(t, http.MethodPatch, "/v1/bookings/status", `{"bookingId":1,"vendorId":"v1","status":"accepted"}`, handler.VendorSecretHeader, "s3cret")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = e.do(t, http.MethodPatch, "/v1/bookings/status", `{"bookingId":1,"vendorId":"v9","status":"enroute"}`, handler.VendorSecretHeader, "s3cret")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = e.do(t, http.MethodPost, "/v1/bookings/1/cancel", `{"customerId":"c2"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = e.do(t, http.MethodPost, "/v1/bookings/1/cancel", `{"customerId":"c1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", body["booking"].(map[string]any)["status"])

	rec, _ = e.do(t, http.MethodPost, "/v1/bookings/1/cancel", `{"customerId":"c1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/v1/bookings/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = e.do(t, http.MethodGet, "/v1/bookings/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExternalVendorUpdateRequiresSecret(t *testing.T) {
	e := newEnv(t, handler.Options{VendorSecret: "s3cret"})
	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)
	update := `{"vendorId":"ext-1","vendorName":"FixIt","vendorPhone":"+91","vendorAddress":"HSR","serviceType":"Plumbing","assignedOrderId":"1","status":"accepted"}`

	rec, _ := e.do(t, http.MethodPost, "/v1/external/vendor-update", update, handler.VendorSecretHeader, "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := e.do(t, http.MethodPost, "/v1/external/vendor-update", update, handler.VendorSecretHeader, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	booking := body["booking"].(map[string]any)
	require.Equal(t, "accepted", booking["status"])
	require.Equal(t, "FixIt", booking["externalVendor"].(map[string]any)["vendorName"])

	rec, body = e.do(t, http.MethodPost, "/v1/external/vendor-update", `{"status":"accepted"}`, handler.VendorSecretHeader, "s3cret")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, body["fields"], 6)
}

func TestCallbackRoutesClosedWithoutConfiguredSecret(t *testing.T) {
	e := newEnv(t, handler.Options{})
	e.onlineVendor(t, "v1", geo.Point{Lat: 12.98, Lng: 77.60})
	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)

	update := `{"vendorId":"ext-1","vendorName":"FixIt","vendorPhone":"+91","vendorAddress":"HSR","serviceType":"Plumbing","assignedOrderId":"1","status":"cancelled"}`
	rec, _ := e.do(t, http.MethodPost, "/v1/external/vendor-update", update)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = e.do(t, http.MethodPost, "/v1/external/vendor-update", update, handler.VendorSecretHeader, "anything")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = e.do(t, http.MethodPatch, "/v1/bookings/status", `{"bookingId":1,"vendorId":"v1","status":"cancelled"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := e.do(t, http.MethodGet, "/v1/bookings/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pending", body["booking"].(map[string]any)["status"])
}

func TestListingsAndHistory(t *testing.T) {
	e := newEnv(t, handler.Options{})
	e.onlineVendor(t, "v1", geo.Point{Lat: 12.98, Lng: 77.60})
	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)
	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)

	rec, body := e.do(t, http.MethodGet, "/v1/customers/c1/bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), body["count"])

	_, body = e.do(t, http.MethodGet, "/v1/vendors/v1/bookings", "")
	require.Equal(t, float64(1), body["count"])

	_, body = e.do(t, http.MethodGet, "/v1/customers/c2/history?status=pending", "")
	require.Equal(t, float64(0), body["count"])
	require.Empty(t, body["bookings"])

	rec, _ = e.do(t, http.MethodGet, "/v1/customers/c1/history?status=lost", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVendorSearch(t *testing.T) {
	e := newEnv(t, handler.Options{})
	e.onlineVendor(t, "near", geo.Point{Lat: 12.98, Lng: 77.60})
	e.onlineVendor(t, "far", geo.Point{Lat: 13.10, Lng: 77.70})

	rec, body := e.do(t, http.MethodGet, "/v1/vendors/available?service=Plumbing&lat=12.97&lng=77.59", "")
	require.Equal(t, http.StatusOK, rec.Code)
	vendors := body["vendors"].([]any)
	require.Len(t, vendors, 2)
	require.Equal(t, "near", vendors[0].(map[string]any)["id"])

	_, body = e.do(t, http.MethodGet, "/v1/vendors/available?service=Plumbing&lat=12.97&lng=77.59&radius_km=5", "")
	require.Equal(t, float64(1), body["count"])

	rec, body = e.do(t, http.MethodGet, "/v1/vendors/available?lat=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.ElementsMatch(t, []any{"service", "lat", "lng"}, body["fields"])

	_, body = e.do(t, http.MethodGet, "/v1/vendors/near/availability?service=Plumbing", "")
	require.Equal(t, true, body["available"])
	_, body = e.do(t, http.MethodGet, "/v1/vendors/near/availability?service=Cleaning", "")
	require.Equal(t, false, body["available"])
	rec, _ = e.do(t, http.MethodGet, "/v1/vendors/ghost/availability?service=Plumbing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWTProtectsCustomerRoutes(t *testing.T) {
	e := newEnv(t, handler.Options{JWTSecret: "jwt"})

	rec, _ := e.do(t, http.MethodPost, "/v1/bookings", createBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := auth.IssueToken("jwt", "c2", auth.RoleCustomer, time.Hour, time.Now())
	require.NoError(t, err)
	rec, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody, "Authorization", "Bearer "+other)
	require.Equal(t, http.StatusForbidden, rec.Code)

	own, err := auth.IssueToken("jwt", "c1", auth.RoleCustomer, time.Hour, time.Now())
	require.NoError(t, err)
	rec, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody, "Authorization", "Bearer "+own)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/v1/bookings/1", "", "Authorization", "Bearer "+other)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = e.do(t, http.MethodGet, "/v1/vendors/v1/bookings", "", "Authorization", "Bearer "+own)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	e := newEnv(t, handler.Options{})
	_, first := e.do(t, http.MethodPost, "/v1/bookings", createBody, "Idempotency-Key", "abc")
	_, second := e.do(t, http.MethodPost, "/v1/bookings", createBody, "Idempotency-Key", "abc")
	require.Equal(t, first["booking"].(map[string]any)["bookingId"], second["booking"].(map[string]any)["bookingId"])

	_, _ = e.do(t, http.MethodPost, "/v1/bookings", createBody)
	_, list := e.do(t, http.MethodGet, "/v1/customers/c1/bookings", "")
	require.Equal(t, float64(2), list["count"])
}
