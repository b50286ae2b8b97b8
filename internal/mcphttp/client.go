package mcphttp

import "net/http"

// BearerTransport adds an Authorization header to every request. MCP clients
// use it to reach the bridge's authenticated /mcp endpoint.
type BearerTransport struct {
	Token string
	Base  http.RoundTripper
}

func (t *BearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.Token)
	return base.RoundTrip(r)
}

// BearerClient returns an HTTP client that authenticates with token.
func BearerClient(token string) *http.Client {
	return &http.Client{Transport: &BearerTransport{Token: token}}
}
