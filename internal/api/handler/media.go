package handler

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kavyanair/gramscope/internal/api/response"
	"github.com/kavyanair/gramscope/internal/ingest"
)

const mediaFetchTimeout = 20 * time.Second

// NewMediaProxyHandler returns an http.HandlerFunc for GET /api/v1/media/proxy.
// It fetches an expiring Instagram CDN URL server-side and streams the bytes
// back, so stored media links keep working in a browser. Only CDN hosts are
// fetched; everything else is refused.
func NewMediaProxyHandler(client *http.Client) http.HandlerFunc {
	if client == nil {
		client = &http.Client{Timeout: mediaFetchTimeout}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("url")
		if raw == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "url is required", nil)
			return
		}

		target, err := url.Parse(raw)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "url must be an absolute http(s) URL", nil)
			return
		}
		if !ingest.IsCDNHost(target.Hostname()) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "url host is not a supported media CDN", nil)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to build upstream request", nil)
			return
		}
		// The CDN refuses requests that look like hotlinking.
		req.Header.Set("Referer", "https://www.instagram.com/")
		req.Header.Set("User-Agent", r.UserAgent())

		resp, err := client.Do(req)
		if err != nil {
			response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch media", nil)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Media URL has expired or is unavailable", nil)
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			w.Header().Set("Content-Length", cl)
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		io.Copy(w, resp.Body)
	}
}
