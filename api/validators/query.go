package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func queryError(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt reads key as an int in [min, max], falling back to def when
// absent. Commission listings use it for limit.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, queryError(key, "query parameter must be numeric", nil)
	case n < min || n > max:
		return 0, queryError(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return n, nil
}

// ParseQueryUUID reads key as a uuid. A missing value is uuid.Nil unless
// required, in which case it is missingMsg as a validation error.
func ParseQueryUUID(r *http.Request, key string, required bool, missingMsg string) (uuid.UUID, error) {
	raw := queryValue(r, key)
	if raw == "" {
		if required {
			return uuid.Nil, queryError(key, missingMsg, nil)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, queryError(key, key+" must be a uuid", nil)
	}
	return id, nil
}
