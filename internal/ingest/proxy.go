package ingest

import (
	"net/url"
	"strings"
)

// MediaProxyPath is the same-origin route that serves proxied media bytes.
// The original URL is carried in the "url" query parameter.
const MediaProxyPath = "/api/v1/media/proxy"

// Instagram CDN hosts whose URLs expire and reject cross-origin loads.
// Anything pointing at them is rewritten through the local proxy.
var cdnHostSubstrings = []string{
	"cdninstagram.com",
	"fbcdn.net",
}

// RewriteMediaURL rewrites a CDN media URL into proxied form. Non-CDN URLs
// pass through unchanged. The same rule applies to profile avatars and post
// media.
func RewriteMediaURL(raw string) string {
	if raw == "" {
		return raw
	}
	if IsCDNURL(raw) {
		return MediaProxyPath + "?url=" + url.QueryEscape(raw)
	}
	return raw
}

// IsCDNURL reports whether a URL points at one of the Instagram CDN hosts.
// Substring matching is deliberate here: stored URLs vary in regional
// subdomains and this only decides whether to rewrite.
func IsCDNURL(raw string) bool {
	for _, host := range cdnHostSubstrings {
		if strings.Contains(raw, host) {
			return true
		}
	}
	return false
}

// IsCDNHost reports whether hostname is one of the CDN domains or a
// subdomain of one. The media proxy's outbound fetch gate uses this exact
// suffix match; a lookalike registration such as evil-cdninstagram.com must
// not pass.
func IsCDNHost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, domain := range cdnHostSubstrings {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}
