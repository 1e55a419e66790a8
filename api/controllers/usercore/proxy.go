package usercore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snowskill/snowskill-backend/api/responses"
	usercoresvc "github.com/snowskill/snowskill-backend/internal/usercore"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const (
	maxRequestBytes = 256 << 10
	msgMissing      = "Missing endpoint"
	msgInvalid      = "Invalid endpoint"
	msgUnavailable  = "Analytics service temporarily unavailable"
)

type forwarder interface {
	Forward(ctx context.Context, req usercoresvc.Request) (*usercoresvc.Response, error)
}

type proxyRequest struct {
	Endpoint string            `json:"endpoint"`
	Body     json.RawMessage   `json:"body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Proxy serves /api/usercore/proxy. GET reads ?endpoint=, POST reads
// {endpoint, body, headers}.
func Proxy(svc forwarder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := usercoresvc.Request{Method: r.Method, Query: r.URL.Query()}
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			req.Endpoint = r.URL.Query().Get("endpoint")
		} else {
			var payload proxyRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
				responses.WriteJSON(w, http.StatusBadRequest, failure{Error: msgMissing})
				return
			}
			req.Endpoint = payload.Endpoint
			req.Body = payload.Body
			req.Headers = payload.Headers
			if req.Endpoint == "" {
				req.Endpoint = r.URL.Query().Get("endpoint")
			}
		}
		forward(w, r, svc, req, logg)
	}
}

// Passthrough serves /api/usercore/* with the wildcard as the upstream path.
func Passthrough(svc forwarder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			responses.WriteJSON(w, http.StatusOK, failure{Error: msgUnavailable})
			return
		}
		endpoint := strings.TrimSpace(chi.URLParam(r, "*"))
		if endpoint != "" {
			endpoint = "/" + strings.TrimPrefix(endpoint, "/")
		}
		forward(w, r, svc, usercoresvc.Request{
			Method:   r.Method,
			Endpoint: endpoint,
			Query:    r.URL.Query(),
			Body:     body,
		}, logg)
	}
}

func forward(w http.ResponseWriter, r *http.Request, svc forwarder, req usercoresvc.Request, logg *logger.Logger) {
	ctx := r.Context()
	if strings.TrimSpace(req.Endpoint) == "" {
		responses.WriteJSON(w, http.StatusBadRequest, failure{Error: msgMissing})
		return
	}
	if svc == nil {
		responses.WriteJSON(w, http.StatusOK, failure{Error: msgUnavailable})
		return
	}

	resp, err := svc.Forward(ctx, req)
	switch {
	case errors.Is(err, usercoresvc.ErrMissingEndpoint):
		responses.WriteJSON(w, http.StatusBadRequest, failure{Error: msgMissing})
		return
	case errors.Is(err, usercoresvc.ErrInvalidEndpoint):
		responses.WriteJSON(w, http.StatusBadRequest, failure{Error: msgInvalid})
		return
	case err != nil:
		// Upstream trouble is reported as 200 with success=false.
		if logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"endpoint": req.Endpoint,
				"error":    err.Error(),
			}), "usercore.proxy_failed")
		}
		responses.WriteJSON(w, http.StatusOK, failure{Error: msgUnavailable})
		return
	}
	responses.WriteJSON(w, resp.Status, resp.Body)
}
