package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/toolagent/pkg/agent"
)

// MaxBodyBytes caps the response body http.get returns.
const MaxBodyBytes = 64 << 10

const defaultHTTPTimeout = 10 * time.Second

type httpGetIn struct {
	URL       string `json:"url" jsonschema:"absolute http or https URL"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"request timeout in milliseconds, at most 60000"`
}

type httpGetOut struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated"`
}

// NewHTTPGet returns the http.get tool. A nil client gets an otelhttp-instrumented default.
func NewHTTPGet(client *http.Client) (agent.Tool, error) {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return agent.NewFunctionTool("http.get", "Performs an HTTP GET request and returns the status and body.",
		func(ctx context.Context, in httpGetIn) (httpGetOut, error) {
			timeout := defaultHTTPTimeout
			if in.TimeoutMS > 0 && in.TimeoutMS <= 60000 {
				timeout = time.Duration(in.TimeoutMS) * time.Millisecond
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return httpGetOut{}, err
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return httpGetOut{}, fmt.Errorf("unsupported scheme %q", req.URL.Scheme)
			}
			res, err := client.Do(req)
			if err != nil {
				return httpGetOut{}, err
			}
			defer func() { _ = res.Body.Close() }()
			b, err := io.ReadAll(io.LimitReader(res.Body, MaxBodyBytes+1))
			if err != nil {
				return httpGetOut{}, err
			}
			out := httpGetOut{Status: res.StatusCode, ContentType: res.Header.Get("Content-Type")}
			if len(b) > MaxBodyBytes {
				b, out.Truncated = b[:MaxBodyBytes], true
			}
			out.Body = string(b)
			return out, nil
		},
		agent.ToolPermission{Name: PermNetwork, Description: "outbound HTTP requests"},
	)
}
