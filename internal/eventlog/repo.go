package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/internal/repo"
	"github.com/snowskill/snowskill-backend/pkg/db/models"
	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// MetaClientIP is the metadata key carrying the requester's address.
const MetaClientIP = "client_ip"

// Repository appends and queries event_log rows.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// AppendWithTx writes one event inside tx, or on the base connection when tx is nil.
func (r *Repository) AppendWithTx(ctx context.Context, tx *gorm.DB, userID *uuid.UUID, eventType enums.EventType, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := &models.EventLog{
		UserID:    userID,
		EventType: eventType,
		Metadata:  datatypes.JSONMap(metadata),
	}
	return r.Conn(ctx, tx).Create(row).Error
}

// CountByIPSince counts events of a type carrying client_ip == ip created at or after since.
func (r *Repository) CountByIPSince(ctx context.Context, eventType enums.EventType, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.EventLog{}).
		Where("event_type = ?", eventType).
		Where("created_at >= ?", since).
		Where(datatypes.JSONQuery("metadata").Equals(ip, MetaClientIP)).
		Count(&count).Error
	return count, err
}

// ListForUser returns the newest events for a user.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.EventLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var rows []models.EventLog
	err := r.DB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
