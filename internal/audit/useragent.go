package audit

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknown = "Unknown"

// DeviceFromUserAgent derives device type, OS and browser from a User-Agent header.
// Fields that cannot be determined are "Unknown"; the type defaults to desktop.
func DeviceFromUserAgent(raw string) Device {
	d := Device{
		Type:      DeviceDesktop,
		OS:        unknown,
		Browser:   unknown,
		UserAgent: raw,
	}
	if strings.TrimSpace(raw) == "" {
		return d
	}

	ua := useragent.New(raw)
	platform := strings.ToLower(ua.Platform())
	family := osFamily(strings.ToLower(ua.OS() + " " + ua.Platform()))
	if family != "" {
		d.OS = family
	}

	switch {
	// Android tablets omit the Mobile token; useragent reports every Android webkit as mobile
	case platform == "ipad", strings.Contains(strings.ToLower(raw), "tablet"),
		family == "Android" && !strings.Contains(raw, "Mobile"):
		d.Type = DeviceTablet
	case ua.Mobile():
		d.Type = DeviceMobile
	}

	name, version := ua.Browser()
	if name == "" {
		// non-browser clients such as curl/8.7.1
		name, version, _ = strings.Cut(strings.Fields(raw)[0], "/")
	}
	if name != "" {
		d.Browser = name
		d.BrowserVersion = version
	}
	return d
}

// osFamily maps the OS and platform reported by useragent to a family name
func osFamily(s string) string {
	switch {
	case strings.Contains(s, "windows"):
		return "Windows"
	case strings.Contains(s, "iphone"), strings.Contains(s, "ipad"), strings.Contains(s, "ipod"):
		return "iOS"
	case strings.Contains(s, "android"):
		return "Android"
	case strings.Contains(s, "mac os"), strings.Contains(s, "macintosh"):
		return "macOS"
	case strings.Contains(s, "linux"), strings.Contains(s, "x11"):
		return "Linux"
	}
	return ""
}

// LocationFromIP returns a Location carrying only the address. Geo lookup is not performed.
func LocationFromIP(ip string) Location {
	if ip == "" {
		ip = "unknown"
	}
	return Location{
		IP:      ip,
		Country: unknown,
		City:    unknown,
	}
}
