package enums

import "fmt"

// PayoutStatus tracks money leaving escrow toward the inspector.
type PayoutStatus string

const (
	PayoutStatusNone              PayoutStatus = "none"
	PayoutStatusPendingOnboarding PayoutStatus = "pending_onboarding"
	PayoutStatusProcessing        PayoutStatus = "processing"
	PayoutStatusPaid              PayoutStatus = "paid"
	PayoutStatusFailed            PayoutStatus = "failed"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusNone,
	PayoutStatusPendingOnboarding,
	PayoutStatusProcessing,
	PayoutStatusPaid,
	PayoutStatusFailed,
}

// Claimable lists the statuses from which a payout attempt may start.
var Claimable = []PayoutStatus{
	PayoutStatusNone,
	PayoutStatusPendingOnboarding,
	PayoutStatusFailed,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
