package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// InspectionBid is an inspector's offer on a job.
type InspectionBid struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	JobID              uuid.UUID       `gorm:"column:job_id;type:uuid;not null"`
	InspectorID        uuid.UUID       `gorm:"column:inspector_id;type:uuid;not null"`
	ProposedPriceCents int64           `gorm:"column:proposed_price_cents;not null"`
	ProposedDate       *time.Time      `gorm:"column:proposed_date"`
	Message            string          `gorm:"column:message"`
	Status             enums.BidStatus `gorm:"column:status;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (InspectionBid) TableName() string { return "inspection_bids" }
