package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/snowskill/snowskill-backend/internal/eventlog"
	"github.com/snowskill/snowskill-backend/internal/users"
	"github.com/snowskill/snowskill-backend/pkg/db"
	"github.com/snowskill/snowskill-backend/pkg/db/dbtest"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
	pkgerrors "github.com/snowskill/snowskill-backend/pkg/errors"
)

func newTestGranter(t *testing.T) (Granter, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	g, err := NewGranter(GranterParams{
		Users:             users.NewRepository(client.DB()),
		Events:            eventlog.NewRepository(client.DB()),
		TransactionRunner: client,
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)
	return g, client
}

func TestGrantAppliesPlanAndLogs(t *testing.T) {
	g, client := newTestGranter(t)
	user := &models.User{Email: "comp@snowskill.app"}
	require.NoError(t, client.DB().Create(user).Error)
	admin := uuid.New()

	res, err := g.Grant(context.Background(), GrantInput{UserID: user.ID, PlanID: " pass_30 ", GrantedBy: admin})
	require.NoError(t, err)
	require.Equal(t, PlanPass30, res.Plan)
	require.True(t, res.ExpiresAt.Equal(now.AddDate(0, 0, 30)))

	var stored models.User
	require.NoError(t, client.DB().First(&stored, "id = ?", user.ID).Error)
	require.Equal(t, PlanPass30, stored.SubscriptionType)
	require.NotNil(t, stored.SubscriptionExpiresAt)
	require.True(t, stored.SubscriptionExpiresAt.Equal(res.ExpiresAt))
	require.NotNil(t, stored.LastPaymentProvider)
	require.Equal(t, string(enums.PaymentProviderAdmin), *stored.LastPaymentProvider)

	var events int64
	require.NoError(t, client.DB().Model(&models.EventLog{}).
		Where("user_id = ? AND event_type = ?", user.ID, enums.EventPlanGranted).
		Count(&events).Error)
	require.EqualValues(t, 1, events)
}

func TestGrantRejectsBadInput(t *testing.T) {
	g, _ := newTestGranter(t)

	_, err := g.Grant(context.Background(), GrantInput{UserID: uuid.New(), PlanID: "free"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = g.Grant(context.Background(), GrantInput{PlanID: PlanPass7})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = g.Grant(context.Background(), GrantInput{UserID: uuid.New(), PlanID: PlanPass7})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), "got %v", err)
}
