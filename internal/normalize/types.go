package normalize

import "time"

// Defaults used when a device omits identity fields.
const (
	DefaultDeviceName      = "Unknown Device"
	DefaultPlatformType    = "Unknown Type"
	DefaultSoftwareVersion = "Unknown"
	DefaultSerialNumber    = "Unknown"
)

// Defaults used when a booking omits fields.
const (
	DefaultBookingTitle = "Untitled Meeting"
	DefaultOrganizer    = "Unknown"
)

// DeviceInfo is the identity of a connected device. Every field is
// non-empty: missing values are replaced by the Default* constants.
type DeviceInfo struct {
	Name            string `json:"name"`
	PlatformType    string `json:"platform_type"`
	SoftwareVersion string `json:"software_version"`
	SerialNumber    string `json:"serial_number"`
}

// Privacy is the visibility of a booking.
type Privacy string

// Privacy values.
const (
	PrivacyPublic  Privacy = "Public"
	PrivacyPrivate Privacy = "Private"
)

// DialInfo is how to join a booked meeting.
type DialInfo struct {
	Number   string `json:"number"`
	Protocol string `json:"protocol,omitempty"`
}

// Booking is one scheduled meeting on the device calendar.
//
// Bookings are derived from a device query and are never cached.
type Booking struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Organizer       string    `json:"organizer"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Privacy         Privacy   `json:"privacy"`
	MeetingPlatform string    `json:"meeting_platform,omitempty"`
	DialInfo        *DialInfo `json:"dial_info,omitempty"`
}
