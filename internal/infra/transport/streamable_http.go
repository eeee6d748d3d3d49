package transport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgate/internal/domain"
)

// HTTPDialer connects to streamable HTTP endpoints.
type HTTPDialer struct {
	maxRetries int
}

type HTTPDialerOptions struct {
	MaxRetries int
}

func NewHTTPDialer(opts HTTPDialerOptions) *HTTPDialer {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultHTTPMaxRetries
	}
	return &HTTPDialer{maxRetries: maxRetries}
}

func (d *HTTPDialer) Dial(desc domain.ServerDescriptor) (mcp.Transport, error) {
	endpoint := strings.TrimSpace(desc.Endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required for http transport")
	}

	client, err := buildHTTPClient(desc.Headers)
	if err != nil {
		return nil, err
	}

	return &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: client,
		MaxRetries: d.maxRetries,
	}, nil
}

func buildHTTPClient(rawHeaders map[string]string) (*http.Client, error) {
	if len(rawHeaders) == 0 {
		return http.DefaultClient, nil
	}

	headers := http.Header{}
	for key, value := range rawHeaders {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, errors.New("headers contain empty key")
		}
		headers.Set(name, value)
	}

	return &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}, nil
}

// headerRoundTripper stamps descriptor headers onto every outbound request,
// replacing any same-named header the SDK set.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}
