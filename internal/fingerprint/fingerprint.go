package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// CanonicalURL normalises a URL string for duplicate detection. It lowercases
// scheme, host and path, upgrades http to https, removes default ports, and
// strips query parameters, fragments and a single trailing slash. Tracking
// parameters (utm_*, fbclid, etc.) disappear along with the rest of the query,
// so links that differ only by campaign noise collapse to the same value.
// Unparseable input falls back to the trimmed lowercase string so a value is
// always produced.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" || scheme == "http" {
		scheme = "https"
	}

	host := strings.ToLower(parsed.Host)
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.HasSuffix(host, "]") {
		port := host[idx+1:]
		if (scheme == "https" && (port == "443" || port == "80")) || port == "" {
			host = host[:idx]
		}
	}

	path := strings.ToLower(parsed.EscapedPath())
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	return scheme + "://" + host + path
}

// Fingerprint derives the stable dedup key for an item from its title and URL.
// Identical (title, URL-variant) pairs that differ only by query string, case
// or trailing slash hash to the same key; any change to the title or path
// yields a different one. The  separator keeps (title, url) pairs from
// colliding across the field boundary.
func Fingerprint(title, rawURL string) string {
	sum := sha256.Sum256([]byte(title + "" + CanonicalURL(rawURL)))
	return hex.EncodeToString(sum[:])
}
