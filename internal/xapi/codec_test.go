package xapi

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const systemUnitXML = `<?xml version="1.0"?>
<Status>
  <SystemUnit>
    <ProductId>Cisco Room Kit</ProductId>
    <ProductPlatform>Room Kit</ProductPlatform>
    <Software><Version>ce11.5.1</Version></Software>
    <Hardware><Module><SerialNumber>FOC1234ABCD</SerialNumber></Module></Hardware>
  </SystemUnit>
</Status>`

func TestDecodeXML_Scalars(t *testing.T) {
	node, err := DecodeXML(strings.NewReader(systemUnitXML))
	if err != nil {
		t.Fatalf("DecodeXML() error: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"Status/SystemUnit/ProductId", "Cisco Room Kit"},
		{"Status/SystemUnit/ProductPlatform", "Room Kit"},
		{"Status/SystemUnit/Software/Version", "ce11.5.1"},
		{"Status/SystemUnit/Hardware/Module/SerialNumber", "FOC1234ABCD"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := node.Text(tt.path)
			if !ok {
				t.Fatalf("Text(%q) missing", tt.path)
			}
			if got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDecodeXML_RepeatedSiblingsFormSequence(t *testing.T) {
	body := `<Command><BookingsListResult status="OK">
		<Booking item="1"><Title>A</Title></Booking>
		<Booking item="2"><Title>B</Title></Booking>
		<Booking item="3"><Title>C</Title></Booking>
	</BookingsListResult></Command>`

	node, err := DecodeXML(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeXML() error: %v", err)
	}

	list := node.List("Command/BookingsListResult/Booking")
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	for i, want := range []string{"A", "B", "C"} {
		if got := list[i].TextOr("Title", ""); got != want {
			t.Errorf("Booking[%d].Title = %q, want %q", i, got, want)
		}
	}

	if got := node.TextOr("Command/BookingsListResult/Booking[2]/Title", ""); got != "C" {
		t.Errorf("explicit index lookup = %q, want %q", got, "C")
	}
	if got := list[1].Attr("item"); got != "2" {
		t.Errorf("Attr(item) = %q, want %q", got, "2")
	}

	result, _ := node.Lookup("Command/BookingsListResult")
	if got := result.Attr("status"); got != "OK" {
		t.Errorf("status attr = %q, want OK", got)
	}
}

func TestDecodeXML_SingleElementIsOneElementSequence(t *testing.T) {
	body := `<Command><BookingsListResult><Booking><Title>Only</Title></Booking></BookingsListResult></Command>`

	node, err := DecodeXML(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeXML() error: %v", err)
	}

	list := node.List("Command/BookingsListResult/Booking")
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	if got := node.TextOr("Command/BookingsListResult/Booking/Title", ""); got != "Only" {
		t.Errorf("singleton lookup = %q, want %q", got, "Only")
	}
}

func TestDecodeXML_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace only", "   \n"},
		{"malformed", "<Status><SystemUnit></Status>"},
		{"truncated", "<Status><SystemUnit>"},
		{"unexpected root", "<html><body>login</body></html>"},
		{"multiple roots", "<Status></Status><Status></Status>"},
		{"not xml", "{\"json\": true}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeXML(strings.NewReader(tt.body))
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("DecodeXML() error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestDecodeJSON_WrapsUnderRequestPath(t *testing.T) {
	raw := json.RawMessage(`{"ProductId":"Cisco Room Bar","Software":{"Version":"ce11.9"},"Hardware":{"Module":{"SerialNumber":"X1"}}}`)

	node, err := DecodeJSON([]string{"Status", "SystemUnit"}, raw)
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}

	if got := node.TextOr("Status/SystemUnit/ProductId", ""); got != "Cisco Room Bar" {
		t.Errorf("ProductId = %q", got)
	}
	if got := node.TextOr("Status/SystemUnit/Software/Version", ""); got != "ce11.9" {
		t.Errorf("Version = %q", got)
	}
	if got := node.TextOr("Status/SystemUnit/Hardware/Module/SerialNumber", ""); got != "X1" {
		t.Errorf("SerialNumber = %q", got)
	}
}

func TestDecodeJSON_ArraysAndScalars(t *testing.T) {
	raw := json.RawMessage(`{"status":"OK","Booking":[{"Id":1,"Title":"A"},{"Id":2,"Title":"B"}],"Private":false}`)

	node, err := DecodeJSON([]string{"Command", "BookingsListResult"}, raw)
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}

	list := node.List("Command/BookingsListResult/Booking")
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if got := list[0].TextOr("Id", ""); got != "1" {
		t.Errorf("Id = %q, want 1", got)
	}
	if got := node.TextOr("Command/BookingsListResult/Private", ""); got != "false" {
		t.Errorf("Private = %q, want false", got)
	}
}

func TestDecodeJSON_XMLEquivalence(t *testing.T) {
	xmlNode, err := DecodeXML(strings.NewReader(systemUnitXML))
	if err != nil {
		t.Fatalf("DecodeXML() error: %v", err)
	}
	jsonNode, err := DecodeJSON([]string{"Status", "SystemUnit"}, json.RawMessage(`{
		"ProductId":"Cisco Room Kit",
		"ProductPlatform":"Room Kit",
		"Software":{"Version":"ce11.5.1"},
		"Hardware":{"Module":{"SerialNumber":"FOC1234ABCD"}}
	}`))
	if err != nil {
		t.Fatalf("DecodeJSON() error: %v", err)
	}

	for _, path := range []string{
		"Status/SystemUnit/ProductId",
		"Status/SystemUnit/ProductPlatform",
		"Status/SystemUnit/Software/Version",
		"Status/SystemUnit/Hardware/Module/SerialNumber",
	} {
		if x, j := xmlNode.TextOr(path, "-"), jsonNode.TextOr(path, "-"); x != j {
			t.Errorf("%s: xml=%q json=%q", path, x, j)
		}
	}
}

func TestDecodeJSON_Errors(t *testing.T) {
	if _, err := DecodeJSON([]string{"Status"}, json.RawMessage(`{"broken"`)); !errors.Is(err, ErrProtocol) {
		t.Errorf("malformed json error = %v, want ErrProtocol", err)
	}
	if _, err := DecodeJSON(nil, json.RawMessage(`[1,2]`)); !errors.Is(err, ErrProtocol) {
		t.Errorf("root array error = %v, want ErrProtocol", err)
	}
}

func TestEncodeConfigurationXML(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value string
		want  string
	}{
		{
			name:  "plain path",
			path:  "Audio/DefaultVolume",
			value: "50",
			want:  "<Configuration><Audio><DefaultVolume>50</DefaultVolume></Audio></Configuration>",
		},
		{
			name:  "root prefix is ignored",
			path:  "Configuration/SystemUnit/Name",
			value: "Room 1",
			want:  "<Configuration><SystemUnit><Name>Room 1</Name></SystemUnit></Configuration>",
		},
		{
			name:  "value escaped",
			path:  "SystemUnit/Name",
			value: "A&B <x>",
			want:  "<Configuration><SystemUnit><Name>A&amp;B &lt;x&gt;</Name></SystemUnit></Configuration>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeConfigurationXML(tt.path, tt.value)
			if err != nil {
				t.Fatalf("EncodeConfigurationXML() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeConfigurationXML() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestEncodeCommandXML(t *testing.T) {
	got, err := EncodeCommandXML("Bookings List", map[string]string{
		"ScheduleType": "Upcoming",
		"Days":         "1",
		"DayOffset":    "0",
	})
	if err != nil {
		t.Fatalf("EncodeCommandXML() error: %v", err)
	}
	want := "<Command><Bookings><List><DayOffset>0</DayOffset><Days>1</Days><ScheduleType>Upcoming</ScheduleType></List></Bookings></Command>"
	if string(got) != want {
		t.Errorf("EncodeCommandXML() =\n%s\nwant\n%s", got, want)
	}
}

func TestEncode_RejectsInjectedNames(t *testing.T) {
	if _, err := EncodeConfigurationXML("Audio/<x>", "1"); !errors.Is(err, ErrProtocol) {
		t.Errorf("configuration error = %v, want ErrProtocol", err)
	}
	if _, err := EncodeCommandXML("Dial", map[string]string{"Num ber": "1"}); err == nil {
		t.Error("expected error for parameter name with space")
	}
	if _, err := EncodeCommandXML("", nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("empty command error = %v, want ErrProtocol", err)
	}
}

func TestCommandResultName(t *testing.T) {
	tests := map[string]string{
		"Bookings List":         "BookingsListResult",
		"Command/Bookings/List": "BookingsListResult",
		"Dial":                  "DialResult",
	}
	for in, want := range tests {
		if got := commandResultName(in); got != want {
			t.Errorf("commandResultName(%q) = %q, want %q", in, got, want)
		}
	}
}
