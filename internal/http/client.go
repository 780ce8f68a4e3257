package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"dispatch/internal/logging"
	"dispatch/internal/model"
)

const (
	// DefaultMaxResponseSize limits response body to 50MB to prevent memory exhaustion
	DefaultMaxResponseSize = 50 * 1024 * 1024

	// InvalidJSONBody replaces response bodies that are not JSON.
	InvalidJSONBody = "Error: Could not parse JSON"
)

// Options configures a Client.
type Options struct {
	// Timeout of zero leaves the exchange bounded only by the transport.
	Timeout                time.Duration
	MaxResponseBytes       int64
	BlockMetadataEndpoints bool
	Logger                 *slog.Logger
	Transport              http.RoundTripper
}

// Client performs one blocking exchange per call.
type Client struct {
	client   *http.Client
	maxBytes int64
	block    bool
	logger   *slog.Logger
}

// NewClient creates a new HTTP client
func NewClient(opts Options) *Client {
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		maxBytes: opts.MaxResponseBytes,
		block:    opts.BlockMetadataEndpoints,
		logger:   opts.Logger,
	}
}

// Execute sends req and converts the outcome into a result. It never returns
// an error: transport failures become failed results.
func (c *Client) Execute(ctx context.Context, req model.RequestDraft) model.ExchangeResult {
	if err := c.validateURL(req.URL); err != nil {
		return model.Failure(err.Error())
	}

	var bodyReader io.Reader
	if req.Method.HasBody() {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method.String(), req.URL, bodyReader)
	if err != nil {
		return model.Failure(err.Error())
	}

	for _, h := range req.Headers.Clean() {
		if !httpguts.ValidHeaderFieldName(h.Name) || !httpguts.ValidHeaderFieldValue(h.Value) {
			c.logger.Debug("dropping invalid header", "name", h.Name)
			continue
		}
		httpReq.Header.Add(h.Name, h.Value)
	}

	// Default Content-Type for requests with body
	if req.Method.HasBody() && req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return model.Failure(err.Error())
	}
	defer resp.Body.Close()

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return model.Success(model.Response{
		StatusCode:  uint16(resp.StatusCode),
		StatusText:  http.StatusText(resp.StatusCode),
		HeadersText: formatHeaders(resp.Header),
		Body:        c.readBody(resp.Body),
		Elapsed:     elapsed,
		Size:        size,
	})
}

// readBody reads at most maxBytes and pretty-prints it as JSON.
func (c *Client) readBody(r io.Reader) string {
	limited := io.LimitReader(r, c.maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		c.logger.Warn("failed to read response body", "error", err)
		return InvalidJSONBody
	}
	if int64(len(raw)) > c.maxBytes {
		raw = raw[:c.maxBytes]
		c.logger.Warn("response body truncated", "limit", c.maxBytes)
	}
	return prettyJSON(raw)
}

func prettyJSON(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(raw), "", "  "); err != nil {
		return InvalidJSONBody
	}
	return out.String()
}

// formatHeaders renders one "Name: value" line per header value, sorted by
// name so that identical responses render identically.
func formatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return b.String()
}

// validateURL checks the URL for potential SSRF vulnerabilities
func (c *Client) validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q (only http and https are allowed)", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if scheme == "http" {
		c.logger.Warn("using insecure HTTP connection", "host", hostname)
	}

	if isLoopbackHost(hostname) {
		c.logger.Warn("making request to localhost/loopback address", "host", hostname)
	} else if isPrivateOrReservedHost(hostname) {
		c.logger.Warn("making request to private/internal IP address", "host", hostname)
	}

	if c.block && isCloudMetadataEndpoint(hostname) {
		return fmt.Errorf("blocked request to cloud metadata endpoint: %s", hostname)
	}

	return nil
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// isPrivateOrReservedHost checks if the hostname is a private, link-local or
// unspecified IP literal. Names are not resolved.
func isPrivateOrReservedHost(hostname string) bool {
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// isCloudMetadataEndpoint checks if the hostname is a cloud metadata service
func isCloudMetadataEndpoint(hostname string) bool {
	metadataHosts := map[string]bool{
		"169.254.169.254":          true, // AWS, GCP, Azure metadata
		"metadata.google.internal": true, // GCP metadata
		"metadata.goog":            true, // GCP metadata alternative
		"100.100.100.200":          true, // Alibaba Cloud metadata
		"169.254.170.2":            true, // AWS ECS task metadata
	}

	return metadataHosts[strings.ToLower(hostname)]
}
