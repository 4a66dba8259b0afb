package hostfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

// HTTPConfig restricts outbound requests. With no AllowedHosts every request
// is refused.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP performs requests on behalf of scripts.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Register adds http_request and http_get to r.
func (h *HTTP) Register(r *Registry) {
	r.Register("http_request", h.Request, "method", "url", "body", "headers")
	r.Register("http_get", h.Get, "url", "headers")
}

// Get is Request with the method fixed to GET.
func (h *HTTP) Get(ctx context.Context, args map[string]any) (any, error) {
	withMethod := make(map[string]any, len(args)+1)
	for k, v := range args {
		withMethod[k] = v
	}
	withMethod["method"] = "GET"
	return h.Request(ctx, withMethod)
}

// Request sends method to url. A "json" argument is encoded as the body
// with a JSON content type; otherwise "body" is sent as is.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url required")
	}

	if len(rawURL) > h.cfg.MaxURLLength {
		return nil, fmt.Errorf("url exceeds max length")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https")
	}

	if len(h.cfg.AllowedHosts) == 0 {
		return nil, fmt.Errorf("http not enabled")
	}

	host := parsed.Hostname()
	if !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}

	var payload []byte
	contentType := ""
	if doc, ok := args["json"]; ok && doc != nil {
		payload, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("json body not serializable: %w", err)
		}
		contentType = "application/json"
	} else if bodyStr, ok := args["body"].(string); ok {
		payload = []byte(bodyStr)
	}
	if int64(len(payload)) > h.cfg.MaxBodySize {
		return nil, fmt.Errorf("request body exceeds max size")
	}
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	respHeaders := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(respBody),
		"headers": respHeaders,
	}, nil
}

// isHostAllowed matches IP literals by address and names by exact match or
// subdomain suffix.
func (h *HTTP) isHostAllowed(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		for _, allowed := range h.cfg.AllowedHosts {
			if aip := net.ParseIP(allowed); aip != nil && aip.Equal(ip) {
				return true
			}
		}
		return false
	}
	for _, allowed := range h.cfg.AllowedHosts {
		if net.ParseIP(allowed) != nil {
			continue
		}
		if strings.EqualFold(host, allowed) || strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

// NewHTTPGet returns a standalone http_get function.
func NewHTTPGet(cfg HTTPConfig) Func {
	return NewHTTP(cfg).Get
}
