package audit

import (
	"strings"
	"time"
)

// CSVHeader is the fixed header row of the audit export.
const CSVHeader = "User,Action,Detail,Location,IP,Browser,Timestamp"

// RenderCSV renders entries as an RFC4180-style CSV document. Names maps
// user ids to display names; entries whose user id is unmapped fall back to
// the raw id.
func RenderCSV(entries []Entry, names map[string]string) string {
	var builder strings.Builder
	builder.WriteString(CSVHeader)
	builder.WriteString("\r\n")
	for _, entry := range entries {
		name := names[entry.UserID]
		if name == "" {
			name = entry.UserID
		}
		columns := []string{
			name,
			entry.Action,
			entry.Detail,
			Location(entry.City, entry.Region),
			entry.IPAddress,
			BrowserLabel(entry.UserAgent),
			time.Unix(entry.CreatedAtSeconds, 0).UTC().Format(time.RFC3339),
		}
		for i, column := range columns {
			if i > 0 {
				builder.WriteByte(',')
			}
			builder.WriteString(escapeCSV(column))
		}
		builder.WriteString("\r\n")
	}
	return builder.String()
}

// escapeCSV wraps a field in double quotes when it contains a comma, quote
// or newline, doubling any embedded quotes.
func escapeCSV(field string) string {
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// browserMarkers is checked in order: Edge user agents also contain
// "Chrome", and Chrome user agents contain "Safari", so the more specific
// marker must win before the generic one is tried.
var browserMarkers = []struct {
	marker string
	label  string
}{
	{marker: "Edg", label: "Edge"},
	{marker: "Chrome", label: "Chrome"},
	{marker: "Firefox", label: "Firefox"},
	{marker: "Safari", label: "Safari"},
	{marker: "MSIE", label: "IE"},
	{marker: "Trident", label: "IE"},
}

// BrowserLabel reduces a user agent string to a short browser label. Unknown
// agents are truncated to 20 characters; absent agents render empty.
func BrowserLabel(userAgent string) string {
	trimmed := strings.TrimSpace(userAgent)
	if trimmed == "" || strings.EqualFold(trimmed, "unknown") {
		return ""
	}
	for _, candidate := range browserMarkers {
		if strings.Contains(trimmed, candidate.marker) {
			return candidate.label
		}
	}
	if len(trimmed) > 20 {
		return trimmed[:20]
	}
	return trimmed
}

// Location joins city and region for display, tolerating either being absent.
func Location(city, region string) string {
	city = strings.TrimSpace(city)
	region = strings.TrimSpace(region)
	switch {
	case city != "" && region != "":
		return city + ", " + region
	case city != "":
		return city
	default:
		return region
	}
}
