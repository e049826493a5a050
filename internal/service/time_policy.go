package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeLayout is the DD.MM.YYYY HH:MM form users type.
const DefaultTimeLayout = "02.01.2006 15:04"

// TimePolicy converts between the users' local wall time and UTC.
type TimePolicy struct {
	loc    *time.Location
	layout string
}

// NewTimePolicy builds a policy for zone, which is either a fixed offset
// ("+03:00", "-0530", "UTC+3") or an IANA name ("Europe/Moscow").
// An empty layout selects DefaultTimeLayout.
func NewTimePolicy(zone, layout string) (*TimePolicy, error) {
	loc, err := ParseZone(zone)
	if err != nil {
		return nil, err
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return &TimePolicy{loc: loc, layout: layout}, nil
}

// DefaultTimePolicy is UTC+3 with DefaultTimeLayout.
func DefaultTimePolicy() *TimePolicy {
	return &TimePolicy{loc: time.FixedZone("UTC+03:00", 3*3600), layout: DefaultTimeLayout}
}

// ParseZone resolves a zone string to a location.
func ParseZone(zone string) (*time.Location, error) {
	z := strings.TrimSpace(zone)
	switch strings.ToUpper(z) {
	case "", "UTC", "Z", "GMT":
		return time.UTC, nil
	}

	upper := strings.ToUpper(z)
	for _, prefix := range []string{"UTC", "GMT"} {
		if strings.HasPrefix(upper, prefix) && len(z) > len(prefix) {
			z = z[len(prefix):]
			break
		}
	}

	if z[0] == '+' || z[0] == '-' {
		offset, err := parseOffset(z)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", zone, err)
		}
		return time.FixedZone(formatOffset(offset), offset), nil
	}

	loc, err := time.LoadLocation(z)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", zone, err)
	}
	return loc, nil
}

// parseOffset accepts +H, +HH, +HH:MM and +HHMM and returns seconds east of UTC.
func parseOffset(s string) (int, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(s[1:], ":", "")

	var hours, minutes int
	var err error
	switch len(body) {
	case 1, 2:
		hours, err = strconv.Atoi(body)
	case 3, 4:
		hours, err = strconv.Atoi(body[:len(body)-2])
		if err == nil {
			minutes, err = strconv.Atoi(body[len(body)-2:])
		}
	default:
		return 0, fmt.Errorf("malformed offset")
	}
	if err != nil {
		return 0, fmt.Errorf("malformed offset")
	}
	if hours > 14 || minutes > 59 {
		return 0, fmt.Errorf("offset out of range")
	}
	return sign * (hours*3600 + minutes*60), nil
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, seconds/3600, seconds%3600/60)
}

// ParseLocal parses a local wall-clock string into a UTC instant.
func (p *TimePolicy) ParseLocal(value string) (time.Time, error) {
	t, err := time.ParseInLocation(p.layout, strings.TrimSpace(value), p.loc)
	if err != nil {
		return time.Time{}, validationErrorf("cannot parse %q, expected format %s", value, p.Example())
	}
	return t.UTC(), nil
}

// FormatLocal renders an instant in local wall time.
func (p *TimePolicy) FormatLocal(t time.Time) string {
	return t.In(p.loc).Format(p.layout)
}

// Location returns the configured zone.
func (p *TimePolicy) Location() *time.Location {
	return p.loc
}

// Layout returns the Go time layout used for parsing and formatting.
func (p *TimePolicy) Layout() string {
	return p.layout
}

// Example shows the layout the way users should type it.
func (p *TimePolicy) Example() string {
	r := strings.NewReplacer("02", "DD", "01", "MM", "2006", "YYYY", "15", "HH", "04", "MM")
	return r.Replace(p.layout)
}

// ZoneName is a display name for the zone.
func (p *TimePolicy) ZoneName() string {
	return p.loc.String()
}
