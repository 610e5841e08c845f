package stripewebhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/internal/escrow"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

// errNotActionable marks deliveries that are acknowledged without effect.
type errNotActionable struct{ reason string }

func (e errNotActionable) Error() string { return e.reason }

func checkoutConfirmed(event *stripe.Event) (escrow.CheckoutConfirmed, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return escrow.CheckoutConfirmed{}, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return escrow.CheckoutConfirmed{}, errNotActionable{"checkout not paid yet"}
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return escrow.CheckoutConfirmed{}, errNotActionable{"checkout has no payment intent"}
	}

	jobID, err := metadataID(session.Metadata, "job_id")
	if err != nil {
		return escrow.CheckoutConfirmed{}, err
	}
	bidID, err := metadataID(session.Metadata, "bid_id")
	if err != nil {
		return escrow.CheckoutConfirmed{}, err
	}

	return escrow.CheckoutConfirmed{
		JobID:       jobID,
		BidID:       bidID,
		PaymentRef:  session.PaymentIntent.ID,
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
		PaidAt:      time.Unix(event.Created, 0).UTC(),
	}, nil
}

func refundConfirmed(event *stripe.Event) (escrow.RefundConfirmed, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return escrow.RefundConfirmed{}, fmt.Errorf("decode charge: %w", err)
	}
	// partial refunds are handled by hand
	if !charge.Refunded {
		return escrow.RefundConfirmed{}, errNotActionable{"charge only partially refunded"}
	}

	out := escrow.RefundConfirmed{}
	if charge.PaymentIntent != nil {
		out.PaymentRef = charge.PaymentIntent.ID
	}
	if jobID, err := metadataID(charge.Metadata, "job_id"); err == nil {
		out.JobID = jobID
	}
	if out.PaymentRef == "" && out.JobID == uuid.Nil {
		return escrow.RefundConfirmed{}, errNotActionable{"refunded charge is not tied to a job"}
	}
	return out, nil
}

func transferConfirmed(event *stripe.Event) (escrow.TransferConfirmed, error) {
	var transfer stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
		return escrow.TransferConfirmed{}, fmt.Errorf("decode transfer: %w", err)
	}
	jobID, err := metadataID(transfer.Metadata, "job_id")
	if err != nil {
		return escrow.TransferConfirmed{}, err
	}
	return escrow.TransferConfirmed{JobID: jobID, TransferRef: transfer.ID}, nil
}

func metadataID(metadata map[string]string, key string) (uuid.UUID, error) {
	raw, ok := metadata[key]
	if !ok || raw == "" {
		return uuid.Nil, errNotActionable{key + " missing from metadata"}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errNotActionable{key + " in metadata is not a uuid"}
	}
	return id, nil
}
