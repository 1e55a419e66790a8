package affiliates

import (
	"net/http"

	"github.com/snowskill/snowskill-backend/api/middleware"
	"github.com/snowskill/snowskill-backend/api/responses"
	affsvc "github.com/snowskill/snowskill-backend/internal/affiliates"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

// Dashboard serves the signed-in partner's own statistics.
func Dashboard(svc affsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "affiliate service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		dashboard, err := svc.Dashboard(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}
