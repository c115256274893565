package ws

import (
	"fmt"
	"net/http"
	"net/url"
)

// NegotiateResponse tells a subscriber where to connect for a space.
type NegotiateResponse struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
}

// Negotiate builds the push endpoint for spaceID relative to the request
// host. Honors X-Forwarded-Proto so the relay works behind a TLS proxy.
func Negotiate(r *http.Request, spaceID string) NegotiateResponse {
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return NegotiateResponse{
		URL:       fmt.Sprintf("%s://%s/ws/spaces/%s", scheme, r.Host, url.PathEscape(spaceID)),
		Protocols: []string{ProtocolBinary, ProtocolJSON},
	}
}
