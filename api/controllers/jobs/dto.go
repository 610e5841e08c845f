package jobs

import (
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/angelmondragon/inspectbid-backend/pkg/money"
	"github.com/google/uuid"
)

type createJobRequest struct {
	PropertyAddress string       `json:"property_address" validate:"required,max=255"`
	PropertyCity    string       `json:"property_city" validate:"required,max=120"`
	PropertyState   string       `json:"property_state" validate:"required,usstate"`
	PropertyZip     string       `json:"property_zip" validate:"required,zip"`
	Urgency         string       `json:"urgency" validate:"omitempty,oneof=standard urgent express"`
	Budget          money.Amount `json:"budget" validate:"gt=0"`
	Currency        string       `json:"currency" validate:"omitempty,len=3"`
	Scope           string       `json:"scope" validate:"max=4000"`
	Publish         bool         `json:"publish"`
}

type updateBudgetRequest struct {
	Budget money.Amount `json:"budget" validate:"gt=0"`
}

type createBidRequest struct {
	ProposedPrice money.Amount `json:"proposed_price" validate:"gt=0"`
	ProposedDate  *time.Time   `json:"proposed_date"`
	Message       string       `json:"message" validate:"max=2000"`
}

type checkoutRequest struct {
	BidID uuid.UUID `json:"bid_id" validate:"required"`
}

type jobResponse struct {
	ID                  uuid.UUID           `json:"id"`
	PosterID            uuid.UUID           `json:"poster_id"`
	PropertyAddress     string              `json:"property_address"`
	PropertyCity        string              `json:"property_city"`
	PropertyState       string              `json:"property_state"`
	PropertyZip         string              `json:"property_zip"`
	Urgency             enums.Urgency       `json:"urgency"`
	Budget              money.Amount        `json:"budget"`
	Currency            string              `json:"currency"`
	Scope               string              `json:"scope,omitempty"`
	Status              enums.JobStatus     `json:"status"`
	PaymentStatus       enums.PaymentStatus `json:"payment_status"`
	PayoutStatus        enums.PayoutStatus  `json:"payout_status"`
	AssignedInspectorID *uuid.UUID          `json:"assigned_inspector_id,omitempty"`
	AgreedPrice         *money.Amount       `json:"agreed_price,omitempty"`
	AgreedDate          *time.Time          `json:"agreed_date,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	CompletedAt         *time.Time          `json:"completed_at,omitempty"`
	CancelledAt         *time.Time          `json:"cancelled_at,omitempty"`
}

func toJobResponse(job *models.InspectionJob) jobResponse {
	resp := jobResponse{
		ID:                  job.ID,
		PosterID:            job.PosterID,
		PropertyAddress:     job.PropertyAddress,
		PropertyCity:        job.PropertyCity,
		PropertyState:       job.PropertyState,
		PropertyZip:         job.PropertyZip,
		Urgency:             job.Urgency,
		Budget:              money.Amount(job.BudgetCents),
		Currency:            job.Currency,
		Scope:               job.Scope,
		Status:              job.Status,
		PaymentStatus:       job.PaymentStatus,
		PayoutStatus:        job.PayoutStatus,
		AssignedInspectorID: job.AssignedInspectorID,
		AgreedDate:          job.AgreedDate,
		CreatedAt:           job.CreatedAt,
		CompletedAt:         job.CompletedAt,
		CancelledAt:         job.CancelledAt,
	}
	if job.AgreedPriceCents != nil {
		agreed := money.Amount(*job.AgreedPriceCents)
		resp.AgreedPrice = &agreed
	}
	return resp
}

type jobListResponse struct {
	Items  []jobResponse `json:"items"`
	Cursor string        `json:"cursor"`
}

type bidResponse struct {
	ID            uuid.UUID       `json:"id"`
	JobID         uuid.UUID       `json:"job_id"`
	InspectorID   uuid.UUID       `json:"inspector_id"`
	ProposedPrice money.Amount    `json:"proposed_price"`
	ProposedDate  *time.Time      `json:"proposed_date,omitempty"`
	Message       string          `json:"message,omitempty"`
	Status        enums.BidStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toBidResponse(bid *models.InspectionBid) bidResponse {
	return bidResponse{
		ID:            bid.ID,
		JobID:         bid.JobID,
		InspectorID:   bid.InspectorID,
		ProposedPrice: money.Amount(bid.ProposedPriceCents),
		ProposedDate:  bid.ProposedDate,
		Message:       bid.Message,
		Status:        bid.Status,
		CreatedAt:     bid.CreatedAt,
	}
}
