package usercore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snowskill/snowskill-backend/pkg/config"
)

const maxResponseBytes = 1 << 20

var (
	// ErrMissingEndpoint is returned when no upstream path was supplied.
	ErrMissingEndpoint = errors.New("missing endpoint")
	// ErrInvalidEndpoint is returned for endpoints that leave the UserCore host.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Request is one call to forward.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     []byte
	Headers  map[string]string
}

// Response is the upstream answer, already checked to be JSON.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Proxy forwards analytics calls to UserCore under a fixed timeout.
type Proxy struct {
	base    *url.URL
	timeout time.Duration
	client  *http.Client
}

func NewProxy(cfg config.UserCoreConfig) (*Proxy, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("usercore base url %q is invalid", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Proxy{
		base:    base,
		timeout: timeout,
		client:  &http.Client{},
	}, nil
}

// Resolve joins endpoint onto the base URL and refuses other hosts.
func (p *Proxy) Resolve(endpoint string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || endpoint == "/" {
		return nil, ErrMissingEndpoint
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, ErrInvalidEndpoint
	}
	target := p.base.ResolveReference(ref)
	if target.Host != p.base.Host {
		return nil, ErrInvalidEndpoint
	}
	target.Scheme = p.base.Scheme
	return target, nil
}

// Forward performs the upstream call. Transport failures, timeouts, non-2xx
// answers and non-JSON bodies all come back as errors.
func (p *Proxy) Forward(ctx context.Context, req Request) (*Response, error) {
	target, err := p.Resolve(req.Endpoint)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			if k == "endpoint" {
				continue
			}
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build usercore request: %w", err)
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		if strings.EqualFold(k, "host") || strings.EqualFold(k, "content-length") {
			continue
		}
		upstream.Header.Set(k, v)
	}

	resp, err := p.client.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("usercore %s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read usercore response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("usercore %s %s: status %d", method, target.Path, resp.StatusCode)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("usercore %s %s: non-json response", method, target.Path)
	}
	return &Response{Status: resp.StatusCode, Body: raw}, nil
}
