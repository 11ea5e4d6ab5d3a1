package server

import (
	"net/http"
	"net/url"
	"strings"
)

// requestOrigin reconstructs the scheme and host the client used, honouring
// reverse-proxy forwarding headers.
func requestOrigin(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(r, "X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}

	host := r.Host
	if fwd := firstHeaderValue(r, "X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// videoURL returns the canonical streaming URL of a video.
func videoURL(r *http.Request, videoID string) string {
	u := requestOrigin(r)
	u.Path = "/video/" + videoID
	return u.String()
}

func firstHeaderValue(r *http.Request, name string) string {
	v, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.ToLower(strings.TrimSpace(v))
}
