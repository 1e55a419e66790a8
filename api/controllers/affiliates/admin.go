package affiliates

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/snowskill/snowskill-backend/api/responses"
	"github.com/snowskill/snowskill-backend/api/validators"
	affsvc "github.com/snowskill/snowskill-backend/internal/affiliates"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

type createPartnerRequest struct {
	PartnerName    string           `json:"partner_name" validate:"required,max=120"`
	ContactEmail   string           `json:"contact_email" validate:"required,email"`
	CouponCode     string           `json:"coupon_code" validate:"required,min=4,max=32"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type markPaidRequest struct {
	IDs    []uuid.UUID `json:"ids" validate:"required,min=1,max=100"`
	Status string      `json:"status" validate:"required,oneof=paid"`
}

type commissionsResponse struct {
	Commissions []affsvc.CommissionRow `json:"commissions"`
	Count       int                    `json:"count"`
}

// AdminCreatePartner onboards a partner with its coupon and login. The
// temporary password is only ever returned here.
func AdminCreatePartner(svc affsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "affiliate service unavailable"))
			return
		}
		var payload createPartnerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.CreatePartner(r.Context(), affsvc.CreatePartnerInput{
			PartnerName:    validators.SanitizeString(payload.PartnerName, 120),
			ContactEmail:   payload.ContactEmail,
			CouponCode:     payload.CouponCode,
			CommissionRate: payload.CommissionRate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, created)
	}
}

type partnersResponse struct {
	Partners []affsvc.PartnerSummary `json:"partners"`
	Count    int                     `json:"count"`
}

// AdminListPartners lists every partner with its conversion and commission totals.
func AdminListPartners(svc affsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "affiliate service unavailable"))
			return
		}
		partners, err := svc.ListPartners(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if partners == nil {
			partners = []affsvc.PartnerSummary{}
		}
		responses.WriteSuccess(w, partnersResponse{Partners: partners, Count: len(partners)})
	}
}

// AdminListCommissions lists commissions filtered by quarter, status and partner.
func AdminListCommissions(svc affsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "affiliate service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", affsvc.MaxListLimit, 1, affsvc.MaxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		q := r.URL.Query()
		filter := affsvc.CommissionFilter{
			Quarter: strings.TrimSpace(q.Get("quarter")),
			Status:  enums.CommissionStatus(strings.TrimSpace(q.Get("status"))),
			Limit:   limit,
		}
		partnerID, err := validators.ParseQueryUUID(r, "partner_id", false, "")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if partnerID != uuid.Nil {
			filter.PartnerID = &partnerID
		}

		rows, err := svc.ListCommissions(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if rows == nil {
			rows = []affsvc.CommissionRow{}
		}
		responses.WriteSuccess(w, commissionsResponse{Commissions: rows, Count: len(rows)})
	}
}

// AdminMarkCommissionsPaid moves settled commissions to paid.
func AdminMarkCommissionsPaid(svc affsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "affiliate service unavailable"))
			return
		}
		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.MarkPaid(r.Context(), payload.IDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"updated": updated, "status": enums.CommissionStatusPaid})
	}
}
