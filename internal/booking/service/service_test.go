package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/booking/matching"
	"github.com/example/servicebook/internal/booking/repository"
	"github.com/example/servicebook/internal/booking/service"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/notify"
	"github.com/example/servicebook/internal/partner"
	"github.com/example/servicebook/internal/presence"
	"github.com/example/servicebook/internal/scheduler"
	"github.com/example/servicebook/internal/vendor"
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *stubPublisher) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubPublisher) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, token string, msg notify.Message) (string, error) {
	args := m.Called(ctx, token, msg)
	return args.String(0), args.Error(1)
}

func (m *mockNotifier) NotifyMany(ctx context.Context, tokens []string, msg notify.Message) (notify.BatchResult, error) {
	args := m.Called(ctx, tokens, msg)
	return args.Get(0).(notify.BatchResult), args.Error(1)
}

type sent struct {
	Token string
	Title string
	Data  map[string]any
}

// sentMessages lists single-token notifications in call order.
func (m *mockNotifier) sentMessages() []sent {
	var out []sent
	for _, call := range m.Calls {
		if call.Method != "Notify" {
			continue
		}
		msg := call.Arguments.Get(2).(notify.Message)
		out = append(out, sent{Token: call.Arguments.String(1), Title: msg.Title, Data: msg.Data})
	}
	return out
}

func (m *mockNotifier) titlesFor(token string) []string {
	var out []string
	for _, s := range m.sentMessages() {
		if s.Token == token {
			out = append(out, s.Title)
		}
	}
	return out
}

type recordingForwarder struct {
	mu       sync.Mutex
	received []partner.NewBooking
	err      error
}

func (f *recordingForwarder) Name() string { return "recording" }

func (f *recordingForwarder) Forward(_ context.Context, b partner.NewBooking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, b)
	return f.err
}

type fixture struct {
	svc       *service.Service
	repo      *repository.MemoryRepository
	customers *customer.MemoryDirectory
	vendors   *vendor.MemoryDirectory
	presence  *presence.MemoryStore
	notifier  *mockNotifier
	events    *stubPublisher
	sched     *scheduler.Manual
	forwarder *recordingForwarder
	backend   *recordingForwarder
	otpCodes  []int
}

var (
	customerPoint = geo.Point{Lat: 12.97, Lng: 77.59}
	vendorPoint   = geo.Point{Lat: 12.98, Lng: 77.60}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      repository.NewMemoryRepository(),
		customers: customer.NewMemoryDirectory(customer.Customer{ID: "c1", Name: "Asha", Phone: "+9100", FCMToken: "cust-token"}),
		vendors:   vendor.NewMemoryDirectory(),
		presence:  presence.NewMemoryStore(),
		notifier:  &mockNotifier{},
		events:    &stubPublisher{},
		sched:     scheduler.NewManual(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
		forwarder: &recordingForwarder{},
		backend:   &recordingForwarder{},
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return("msg-1", nil)
	f.notifier.On("NotifyMany", mock.Anything, mock.Anything, mock.Anything).Return(notify.BatchResult{SuccessCount: 1}, nil)

	matcher, err := matching.NewMatcher(f.presence, f.vendors, matching.NewMemoryReservationStore(nil), matching.Config{}, zap.NewNop())
	require.NoError(t, err)

	svc, err := service.New(service.Deps{
		Repo:          f.repo,
		Customers:     f.customers,
		Vendors:       f.vendors,
		Matcher:       matcher,
		Notifier:      f.notifier,
		Events:        f.events,
		Scheduler:     f.sched,
		Idempotency:   repository.NewMemoryIdempotencyStore(),
		Forwarders:    []partner.Forwarder{f.forwarder},
		VendorBackend: f.backend,
		Clock:         stubClock{t: f.sched.Now()},
		OTP: func() int {
			code := 1000 + len(f.otpCodes)*1111
			f.otpCodes = append(f.otpCodes, code)
			return code
		},
		Logger: zap.NewNop(),
	}, service.Config{})
	require.NoError(t, err)
	f.svc = svc
	t.Cleanup(svc.Drain)
	return f
}

func (f *fixture) addVendor(t *testing.T, v vendor.Vendor, at geo.Point) {
	t.Helper()
	f.vendors.Put(v)
	require.NoError(t, f.presence.Upsert(context.Background(), presence.Presence{VendorID: v.ID, Online: true, Location: &at, LastSeen: f.sched.Now()}))
}

func plumbingRequest() service.CreateBookingRequest {
	lat, lng := customerPoint.Lat, customerPoint.Lng
	return service.CreateBookingRequest{
		CustomerID:     "c1",
		Service:        "Plumbing",
		JobDescription: "Kitchen sink leaking",
		Date:           "2024-06-02",
		Time:           "10:00",
		Location:       &service.LocationInput{Latitude: &lat, Longitude: &lng, Address: "MG Road"},
	}
}

func TestCreateBookingEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "v1", Name: "Ravi", Services: []string{"Plumbing"}, Rating: 4.5, FCMTokens: []string{"vendor-token"}}, vendorPoint)

	res, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	f.svc.Drain()

	require.True(t, res.VendorFound)
	require.Equal(t, domain.StatusPending, res.Booking.Status)
	require.NotNil(t, res.Vendor)
	require.Equal(t, "v1", res.Vendor.ID)
	expected := geo.DistanceKm(customerPoint.Lat, customerPoint.Lng, vendorPoint.Lat, vendorPoint.Lng)
	require.Equal(t, expected, res.Vendor.DistanceKm)
	require.InDelta(t, 1.55, res.Vendor.DistanceKm, 0.01)

	stored, err := f.svc.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	require.True(t, stored.AssignedTo("v1"))
	require.Equal(t, expected, *stored.DistanceKm)
	require.Nil(t, stored.OTP)

	msgs := f.notifier.sentMessages()
	require.Len(t, msgs, 2)
	require.Equal(t, "vendor-token", msgs[0].Token)
	require.Equal(t, service.TypeNewBooking, msgs[0].Data["type"])
	require.Equal(t, "cust-token", msgs[1].Token)
	require.Equal(t, service.TypeBookingConfirmation, msgs[1].Data["type"])

	require.Equal(t, []domain.EventType{domain.EventBookingCreated, domain.EventVendorAssigned}, f.events.types())
	require.Equal(t, []string{"booking:1"}, f.sched.Pending())

	require.Len(t, f.forwarder.received, 1)
	require.Equal(t, "Asha", f.forwarder.received[0].CustomerName)
	require.Len(t, f.backend.received, 1)
	require.Equal(t, "v1", f.backend.received[0].VendorID)
}

func TestCreateBookingValidationFailsBeforePersistence(t *testing.T) {
	f := newFixture(t)
	req := plumbingRequest()
	req.Location.Address = "  "
	req.Date = ""

	_, err := f.svc.CreateBooking(context.Background(), "", req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"date", "location.address"}, verr.Fields)

	bookings, err := f.svc.ListCustomerBookings(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, bookings)
	require.Empty(t, f.notifier.Calls)
	require.Empty(t, f.forwarder.received)
}

func TestCreateBookingAcceptsZeroCoordinates(t *testing.T) {
	f := newFixture(t)
	zero := 0.0
	req := plumbingRequest()
	req.Location = &service.LocationInput{Latitude: &zero, Longitude: &zero, Address: "Null Island"}

	res, err := f.svc.CreateBooking(context.Background(), "", req)
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Booking.Location.Latitude)
}

func TestCreateBookingUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	req := plumbingRequest()
	req.CustomerID = "ghost"

	_, err := f.svc.CreateBooking(context.Background(), "", req)
	require.ErrorIs(t, err, customer.ErrNotFound)
	_, err = f.svc.GetBooking(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateBookingWithoutVendor(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "far", Services: []string{"Plumbing"}}, geo.Point{Lat: 13.97, Lng: 78.59})
	f.addVendor(t, vendor.Vendor{ID: "cleaner", Services: []string{"Cleaning"}}, vendorPoint)

	res, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	require.False(t, res.VendorFound)
	require.Nil(t, res.Vendor)
	require.Nil(t, res.Booking.VendorID)
	require.Equal(t, domain.StatusPending, res.Booking.Status)
	require.Equal(t, []string{"No Vendor Available"}, f.notifier.titlesFor("cust-token"))
	require.Equal(t, []domain.EventType{domain.EventBookingCreated}, f.events.types())
}

func TestCreateBookingSurvivesSideEffectFailures(t *testing.T) {
	f := newFixture(t)
	f.notifier = &mockNotifier{}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("fcm unavailable"))
	f.forwarder.err = errors.New("partner down")
	f.events.err = errors.New("outbox insert failed")

	matcher, err := matching.NewMatcher(f.presence, f.vendors, nil, matching.Config{}, nil)
	require.NoError(t, err)
	svc, err := service.New(service.Deps{
		Repo:       f.repo,
		Customers:  f.customers,
		Vendors:    f.vendors,
		Matcher:    matcher,
		Notifier:   f.notifier,
		Events:     f.events,
		Forwarders: []partner.Forwarder{f.forwarder},
	}, service.Config{})
	require.NoError(t, err)
	f.addVendor(t, vendor.Vendor{ID: "v1", Services: []string{"Plumbing"}, FCMTokens: []string{"vendor-token"}}, vendorPoint)

	res, err := svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	svc.Drain()
	require.True(t, res.VendorFound)
	require.Len(t, f.notifier.sentMessages(), 2)
	require.Len(t, f.forwarder.received, 1)
	require.Empty(t, f.events.types())

	stored, err := f.repo.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", *stored.VendorID)
}

func TestCreateBookingNotifiesEveryVendorDevice(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "v1", Services: []string{"Plumbing"}, FCMTokens: []string{"phone", "tablet"}}, vendorPoint)

	_, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	f.notifier.AssertCalled(t, "NotifyMany", mock.Anything, []string{"phone", "tablet"}, mock.MatchedBy(func(m notify.Message) bool {
		return m.Title == "New Service Request"
	}))
}

func TestCreateBookingIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.CreateBooking(context.Background(), "key-1", plumbingRequest())
	require.NoError(t, err)
	again, err := f.svc.CreateBooking(context.Background(), "key-1", plumbingRequest())
	require.NoError(t, err)
	require.Equal(t, first.Booking.ID, again.Booking.ID)

	bookings, err := f.svc.ListCustomerBookings(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
}

func TestConcurrentBookingsNeverShareAVendor(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "v1", Services: []string{"Plumbing"}}, vendorPoint)

	var wg sync.WaitGroup
	results := make([]service.CreateResult, 4)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CreateBooking(context.Background(), "", plumbingRequest())
		}(i)
	}
	wg.Wait()

	matched := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		if r.VendorFound {
			matched++
		}
	}
	require.Equal(t, 1, matched)
}

func TestDeferredCheckNotifiesWhileStillPending(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "v1", Services: []string{"Plumbing"}}, vendorPoint)
	res, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)

	require.Zero(t, f.sched.Advance(context.Background(), 59*time.Second))
	require.Equal(t, 1, f.sched.Advance(context.Background(), time.Second))
	require.Contains(t, f.notifier.titlesFor("cust-token"), "Vendor Not Found")

	// the timed-out offer no longer holds the vendor
	other, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	require.True(t, other.VendorFound)
	require.NotEqual(t, res.Booking.ID, other.Booking.ID)
}

func TestDeferredCheckIsCancelledByAcceptance(t *testing.T) {
	f := newFixture(t)
	f.addVendor(t, vendor.Vendor{ID: "v1", Services: []string{"Plumbing"}}, vendorPoint)
	res, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)

	_, err = f.svc.AcceptBooking(context.Background(), res.Booking.ID, "v1")
	require.NoError(t, err)
	require.Empty(t, f.sched.Pending())
	require.Zero(t, f.sched.Advance(context.Background(), time.Hour))
	require.NotContains(t, f.notifier.titlesFor("cust-token"), "Vendor Not Found")
}

func TestBookingHistoryFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(context.Background(), "", plumbingRequest())
	require.NoError(t, err)
	_, err = f.svc.CancelBooking(context.Background(), first.Booking.ID, "c1")
	require.NoError(t, err)

	cancelled, err := f.svc.BookingHistory(context.Background(), "c1", "CANCELLED")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, first.Booking.ID, cancelled[0].ID)

	all, err := f.svc.BookingHistory(context.Background(), "c1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = f.svc.BookingHistory(context.Background(), "c1", "lost")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
