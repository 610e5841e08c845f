package enums

import "fmt"

// BidStatus tracks an inspector's bid. Everything except pending is terminal.
type BidStatus string

const (
	BidStatusPending   BidStatus = "pending"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusDeclined  BidStatus = "declined"
	BidStatusWithdrawn BidStatus = "withdrawn"
)

var validBidStatuses = []BidStatus{
	BidStatusPending,
	BidStatusAccepted,
	BidStatusDeclined,
	BidStatusWithdrawn,
}

func (b BidStatus) String() string {
	return string(b)
}

func (b BidStatus) IsValid() bool {
	for _, candidate := range validBidStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

func ParseBidStatus(value string) (BidStatus, error) {
	for _, candidate := range validBidStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bid status %q", value)
}
