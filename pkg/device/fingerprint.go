package device

import (
	"net"
	"net/http"
	"strings"
)

// Request headers carrying client supplied fingerprint data
const (
	HeaderInstallID = "X-Install-ID"
	HeaderPlatform  = "X-Device-Platform"
	HeaderModel     = "X-Device-Model"
)

// FingerprintFromRequest extracts fingerprint data from an HTTP request.
// The IP is taken from X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func FingerprintFromRequest(r *http.Request) Fingerprint {
	return Fingerprint{
		InstallID: strings.TrimSpace(r.Header.Get(HeaderInstallID)),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Platform:  strings.TrimSpace(r.Header.Get(HeaderPlatform)),
		Model:     strings.TrimSpace(r.Header.Get(HeaderModel)),
	}
}

// Overlay returns fp with every non-empty field of other applied on top
func (fp Fingerprint) Overlay(other Fingerprint) Fingerprint {
	if other.InstallID != "" {
		fp.InstallID = other.InstallID
	}
	if other.IP != "" {
		fp.IP = other.IP
	}
	if other.UserAgent != "" {
		fp.UserAgent = other.UserAgent
	}
	if other.Platform != "" {
		fp.Platform = other.Platform
	}
	if other.Model != "" {
		fp.Model = other.Model
	}
	return fp
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// DefaultDisplayName names a new device "<platform> <model>" when the client
// reported them, otherwise from its user agent.
func DefaultDisplayName(fp Fingerprint) string {
	name := strings.TrimSpace(fp.Platform + " " + fp.Model)
	if name != "" {
		return name
	}
	return determineDeviceName(fp.UserAgent)
}

// determineDeviceName extracts a human-readable device name from the user agent
func determineDeviceName(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	switch {
	case contains(userAgent, "iPhone"):
		return "iPhone"
	case contains(userAgent, "iPad"):
		return "iPad"
	case contains(userAgent, "Android") && contains(userAgent, "Pixel"):
		return "Google Pixel"
	case contains(userAgent, "Android") && (contains(userAgent, "Samsung") || contains(userAgent, "SM-")):
		return "Samsung Phone"
	case contains(userAgent, "Android") && contains(userAgent, "Mobile"):
		return "Android Phone"
	case contains(userAgent, "Android"):
		return "Android Tablet"
	case contains(userAgent, "CrOS"):
		return "Chromebook"
	case contains(userAgent, "Macintosh"), contains(userAgent, "Mac OS X"):
		return "Mac"
	case contains(userAgent, "Windows"):
		return "Windows PC"
	case contains(userAgent, "Linux"):
		return "Linux"
	case contains(userAgent, "Edg"):
		return "Edge Browser"
	case contains(userAgent, "Chrome"):
		return "Chrome Browser"
	case contains(userAgent, "Firefox"):
		return "Firefox Browser"
	case contains(userAgent, "Safari"):
		return "Safari Browser"
	}
	return "Unknown Device"
}

// contains reports whether substr is in s, ignoring case
func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
