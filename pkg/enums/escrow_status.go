package enums

import "fmt"

// EscrowStatus is the state of the money held for one job.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusHeld,
	EscrowStatusReleased,
	EscrowStatusRefunded,
}

func (e EscrowStatus) String() string {
	return string(e)
}

func (e EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}
