package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// Notification is an in-app message about a job, bid or payout. Rows are
// served straight from the list endpoint, so the json tags are the API shape.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"-"`
	Type      enums.NotificationType `gorm:"column:type;not null" json:"type"`
	Title     string                 `gorm:"column:title;not null" json:"title"`
	Message   string                 `gorm:"column:message;not null" json:"message"`
	Payload   json.RawMessage        `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
