package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// Response paths read by the normalizers.
const (
	SystemUnitPath     = "Status/SystemUnit"
	BookingsResultPath = "Command/BookingsListResult"
)

// DeviceInfoFrom extracts device identity from a Status/SystemUnit response.
// A nil or empty node yields all defaults.
func DeviceInfoFrom(node *xapi.Node) DeviceInfo {
	unit, _ := node.Lookup(SystemUnitPath)

	platform := unit.TextOr("ProductPlatform", "")
	if platform == "" {
		platform = unit.TextOr("ProductType", DefaultPlatformType)
	}

	return DeviceInfo{
		Name:            unit.TextOr("ProductId", DefaultDeviceName),
		PlatformType:    platform,
		SoftwareVersion: unit.TextOr("Software/Version", DefaultSoftwareVersion),
		SerialNumber:    unit.TextOr("Hardware/Module/SerialNumber", DefaultSerialNumber),
	}
}

// ResultStatus returns the status attribute of the bookings result
// element, or "OK" when the device omits it.
func ResultStatus(node *xapi.Node) string {
	result, ok := node.Lookup(BookingsResultPath)
	if !ok {
		return "OK"
	}
	if s := result.Attr("status"); s != "" {
		return s
	}
	return result.TextOr("status", "OK")
}

// BookingsFrom normalizes every Booking under Command/BookingsListResult.
// A single booking and a one-element list produce the same result. The
// returned slice is never nil.
func BookingsFrom(node *xapi.Node) []Booking {
	items := node.List(BookingsResultPath + "/Booking")
	out := make([]Booking, 0, len(items))
	for i, item := range items {
		out = append(out, bookingFrom(item, i))
	}
	return out
}

func bookingFrom(n *xapi.Node, index int) Booking {
	id := n.TextOr("Id", n.Attr("item"))
	if id == "" {
		id = strconv.Itoa(index + 1)
	}

	return Booking{
		ID:              id,
		Title:           n.TextOr("Title", DefaultBookingTitle),
		Organizer:       organizerName(n),
		StartTime:       parseTime(n.TextOr("Time/StartTime", "")),
		EndTime:         parseTime(n.TextOr("Time/EndTime", "")),
		DurationMinutes: parseMinutes(n),
		Privacy:         parsePrivacy(n.TextOr("Privacy", "")),
		MeetingPlatform: meetingPlatform(n),
		DialInfo:        dialInfo(n),
	}
}

func organizerName(n *xapi.Node) string {
	org, ok := n.Lookup("Organizer")
	if !ok {
		return DefaultOrganizer
	}
	first := org.TextOr("FirstName", "")
	last := org.TextOr("LastName", "")
	if full := strings.TrimSpace(first + " " + last); full != "" {
		return full
	}
	// Some firmware sends the organizer as plain text.
	if v, ok := n.Text("Organizer"); ok {
		return v
	}
	return org.TextOr("Name", DefaultOrganizer)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseMinutes reads Time/Duration, then Duration. Non-numeric values are 0.
func parseMinutes(n *xapi.Node) int {
	raw, ok := n.Text("Time/Duration")
	if !ok {
		raw, _ = n.Text("Duration")
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 {
		return 0
	}
	return minutes
}

func parsePrivacy(s string) Privacy {
	if strings.EqualFold(s, string(PrivacyPrivate)) {
		return PrivacyPrivate
	}
	return PrivacyPublic
}

func meetingPlatform(n *xapi.Node) string {
	if v, ok := n.Text("MeetingPlatform"); ok {
		return v
	}
	if strings.EqualFold(n.TextOr("Webex/Enabled", ""), "True") {
		return "Webex"
	}
	return ""
}

// dialInfo takes the first call of DialInfo/Calls/Call.
func dialInfo(n *xapi.Node) *DialInfo {
	number, ok := n.Text("DialInfo/Calls/Call/Number")
	if !ok {
		return nil
	}
	return &DialInfo{
		Number:   number,
		Protocol: n.TextOr("DialInfo/Calls/Call/Protocol", ""),
	}
}
