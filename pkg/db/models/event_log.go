package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/snowskill/snowskill-backend/pkg/enums"
)

// EventLog is an append-only audit of subscription lifecycle events.
type EventLog struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID    *uuid.UUID        `gorm:"column:user_id;type:uuid;index"`
	EventType enums.EventType   `gorm:"column:event_type;not null;index"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (EventLog) TableName() string { return "event_log" }

func (e *EventLog) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
