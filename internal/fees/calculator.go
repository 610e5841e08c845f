package fees

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
)

const basisPointsDenominator = 10000

// Split is the division of a gross amount between the platform and the payee.
// PlatformFee + PayeeShare always equals the gross it was computed from.
type Split struct {
	Gross       int64
	PlatformFee int64
	PayeeShare  int64
}

// Calculator splits gross amounts (minor currency units) under a fixed fee.
type Calculator struct {
	basisPoints int64
}

// NewCalculator builds a calculator charging basisPoints/10000 of the gross.
func NewCalculator(basisPoints int64) (*Calculator, error) {
	if basisPoints < 0 || basisPoints > basisPointsDenominator {
		return nil, fmt.Errorf("fee basis points must be within [0, %d], got %d", basisPointsDenominator, basisPoints)
	}
	return &Calculator{basisPoints: basisPoints}, nil
}

// NewPercentCalculator builds a calculator from a whole percent, e.g. 10.
func NewPercentCalculator(percent int64) (*Calculator, error) {
	return NewCalculator(percent * 100)
}

func (c *Calculator) BasisPoints() int64 {
	return c.basisPoints
}

// Split rounds the fee half-up to the nearest minor unit and gives the payee
// the remainder.
func (c *Calculator) Split(gross int64) (Split, error) {
	if gross < 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "gross amount must not be negative")
	}

	fee := (gross*c.basisPoints + basisPointsDenominator/2) / basisPointsDenominator
	return Split{
		Gross:       gross,
		PlatformFee: fee,
		PayeeShare:  gross - fee,
	}, nil
}
