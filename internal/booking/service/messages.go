package service

import (
	"fmt"
	"strconv"

	"github.com/example/servicebook/internal/booking/domain"
	"github.com/example/servicebook/internal/customer"
	"github.com/example/servicebook/internal/notify"
)

// Notification types understood by the mobile apps.
const (
	TypeNewBooking          = "NEW_BOOKING"
	TypeBookingConfirmation = "BOOKING_CONFIRMATION"
	TypeBookingStatus       = "BOOKING_STATUS"
	TypeVendorNotFound      = "VENDOR_NOT_FOUND"
	TypeStatusUpdate        = "BOOKING_STATUS_UPDATE"
	TypeBookingAccepted     = "BOOKING_ACCEPTED"
	TypeBookingCancelled    = "BOOKING_CANCELLED"
	TypeVendorUpdate        = "VENDOR_UPDATE"
)

func formatKm(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func newBookingMessage(b domain.Booking, c customer.Customer, match domain.Match) notify.Message {
	return notify.Message{
		Title: "New Service Request",
		Body: fmt.Sprintf("%s needs %s at %s on %s. Distance: %skm",
			c.DisplayName(), b.Service, b.Time, b.Date, formatKm(match.DistanceKm)),
		Data: map[string]any{
			"type":           TypeNewBooking,
			"bookingId":      idString(b.ID),
			"vendorId":       match.Vendor.ID,
			"customerId":     b.CustomerID,
			"customerName":   c.DisplayName(),
			"customerPhone":  c.Phone,
			"service":        b.Service,
			"jobDescription": b.JobDescription,
			"date":           b.Date,
			"time":           b.Time,
			"address":        b.Location.Address,
			"latitude":       b.Location.Latitude,
			"longitude":      b.Location.Longitude,
			"distance":       formatKm(match.DistanceKm),
		},
	}
}

func confirmationMessage(b domain.Booking, vendorName string) notify.Message {
	return notify.Message{
		Title: "Booking Confirmed",
		Body:  fmt.Sprintf("Your %s request for %s at %s has been sent to a vendor. Waiting for acceptance.", b.Service, b.Date, b.Time),
		Data: map[string]any{
			"type":       TypeBookingConfirmation,
			"bookingId":  idString(b.ID),
			"service":    b.Service,
			"vendorName": vendorName,
		},
	}
}

func noVendorMessage(b domain.Booking) notify.Message {
	return notify.Message{
		Title: "No Vendor Available",
		Body:  fmt.Sprintf("Sorry, no vendor is available for %s right now. We'll notify you when one becomes available.", b.Service),
		Data: map[string]any{
			"type":      TypeBookingStatus,
			"bookingId": idString(b.ID),
			"status":    string(domain.StatusPending),
		},
	}
}

func stillSearchingMessage(b domain.Booking) notify.Message {
	return notify.Message{
		Title: "Vendor Not Found",
		Body:  fmt.Sprintf("Sorry, no vendor has accepted your %s request yet. We're still searching...", b.Service),
		Data: map[string]any{
			"type":      TypeVendorNotFound,
			"bookingId": idString(b.ID),
			"status":    string(domain.StatusPending),
			"service":   b.Service,
		},
	}
}

// statusMessage is what the customer sees after a vendor acts on the booking.
func statusMessage(b domain.Booking, change domain.StatusChange) notify.Message {
	data := map[string]any{
		"type":      TypeStatusUpdate,
		"bookingId": idString(b.ID),
		"status":    string(change.Status()),
	}
	msg := notify.Message{Data: data}
	switch c := change.(type) {
	case domain.Accepted:
		msg.Title = "Booking Accepted!"
		msg.Body = fmt.Sprintf("Your %s booking has been accepted. OTP: %d", b.Service, c.OTP)
		data["otp"] = strconv.Itoa(c.OTP)
	case domain.Rejected:
		msg.Title = "Booking Rejected"
		msg.Body = c.Reason
		if msg.Body == "" {
			msg.Body = fmt.Sprintf("Sorry, your %s booking was rejected. We'll find another vendor.", b.Service)
		}
		data["reason"] = c.Reason
	case domain.EnRoute:
		msg.Title = "Vendor On The Way"
		msg.Body = fmt.Sprintf("Your vendor for %s is heading to your location.", b.Service)
	case domain.Completed:
		msg.Title = "Service Completed"
		msg.Body = fmt.Sprintf("Your %s service has been completed. Thank you!", b.Service)
	case domain.Cancelled:
		msg.Title = "Booking Cancelled"
		msg.Body = fmt.Sprintf("Your %s booking has been cancelled.", b.Service)
		data["cancelledBy"] = string(c.By)
	}
	return msg
}

// vendorUpdateMessage is sent when a partner system reports progress.
func vendorUpdateMessage(b domain.Booking, change domain.StatusChange, ext domain.ExternalVendor) notify.Message {
	msg := notify.Message{Data: map[string]any{
		"type":        TypeVendorUpdate,
		"bookingId":   idString(b.ID),
		"status":      string(change.Status()),
		"vendorName":  ext.VendorName,
		"vendorPhone": ext.VendorPhone,
	}}
	switch change.(type) {
	case domain.Accepted:
		msg.Title = "Vendor Assigned!"
		msg.Body = fmt.Sprintf("%s has accepted your %s request.", ext.VendorName, b.Service)
	case domain.Rejected:
		msg.Title = "Vendor Declined"
		msg.Body = "Unfortunately, the vendor couldn't accept your request. We're finding another vendor."
	case domain.EnRoute:
		msg.Title = "Vendor On The Way"
		msg.Body = fmt.Sprintf("%s is heading to your location.", ext.VendorName)
	case domain.Completed:
		msg.Title = "Service Completed"
		msg.Body = fmt.Sprintf("Your %s service has been completed by %s.", b.Service, ext.VendorName)
	case domain.Cancelled:
		msg.Title = "Service Cancelled"
		msg.Body = fmt.Sprintf("Your %s service has been cancelled.", b.Service)
	}
	return msg
}

func acceptedForVendorMessage(b domain.Booking) notify.Message {
	return notify.Message{
		Title: "Booking Accepted",
		Body:  fmt.Sprintf("You accepted the %s booking on %s at %s. Ask the customer for the OTP to start.", b.Service, b.Date, b.Time),
		Data: map[string]any{
			"type":      TypeBookingAccepted,
			"bookingId": idString(b.ID),
			"address":   b.Location.Address,
		},
	}
}

func cancelledForVendorMessage(b domain.Booking) notify.Message {
	return notify.Message{
		Title: "Booking Cancelled",
		Body:  fmt.Sprintf("The customer cancelled the %s booking on %s at %s.", b.Service, b.Date, b.Time),
		Data: map[string]any{
			"type":      TypeBookingCancelled,
			"bookingId": idString(b.ID),
		},
	}
}
