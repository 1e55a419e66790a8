package subscriptions

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/api/middleware"
	"github.com/snowskill/snowskill-backend/api/responses"
	"github.com/snowskill/snowskill-backend/api/validators"
	subsvc "github.com/snowskill/snowskill-backend/internal/subscriptions"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type grantRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	PlanID string    `json:"plan_id" validate:"required"`
}

// AdminGrant sets a user's plan without a payment. Admin only.
func AdminGrant(svc subsvc.Granter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		adminID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		var payload grantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		granted, err := svc.Grant(ctx, subsvc.GrantInput{
			UserID:    payload.UserID,
			PlanID:    strings.TrimSpace(payload.PlanID),
			GrantedBy: adminID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, granted)
	}
}
