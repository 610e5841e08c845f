package enums

import "fmt"

// Urgency is how soon the poster needs the inspection.
type Urgency string

const (
	UrgencyStandard Urgency = "standard"
	UrgencyUrgent   Urgency = "urgent"
	UrgencyExpress  Urgency = "express"
)

var validUrgencies = []Urgency{UrgencyStandard, UrgencyUrgent, UrgencyExpress}

func (u Urgency) String() string {
	return string(u)
}

func (u Urgency) IsValid() bool {
	for _, candidate := range validUrgencies {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUrgency converts raw input into an Urgency; empty input means standard.
func ParseUrgency(value string) (Urgency, error) {
	if value == "" {
		return UrgencyStandard, nil
	}
	for _, candidate := range validUrgencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid urgency %q", value)
}
