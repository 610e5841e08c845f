package fees

import (
	"testing"

	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTenPercent(t *testing.T) {
	calc, err := NewPercentCalculator(10)
	require.NoError(t, err)

	split, err := calc.Split(50000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), split.PlatformFee)
	assert.Equal(t, int64(45000), split.PayeeShare)
}

func TestSplitRoundsHalfUp(t *testing.T) {
	calc, err := NewPercentCalculator(10)
	require.NoError(t, err)

	cases := []struct {
		gross int64
		fee   int64
	}{
		{gross: 5, fee: 1},  // 0.5 rounds up
		{gross: 4, fee: 0},  // 0.4 rounds down
		{gross: 15, fee: 2}, // 1.5 rounds up
		{gross: 14, fee: 1},
		{gross: 0, fee: 0},
		{gross: 99999, fee: 10000},
	}
	for _, tc := range cases {
		split, err := calc.Split(tc.gross)
		require.NoError(t, err)
		assert.Equal(t, tc.fee, split.PlatformFee, "gross %d", tc.gross)
	}
}

func TestSplitConservesGross(t *testing.T) {
	for _, bps := range []int64{0, 1, 250, 1000, 1250, 3333, 10000} {
		calc, err := NewCalculator(bps)
		require.NoError(t, err)
		for gross := int64(0); gross < 2000; gross += 7 {
			split, err := calc.Split(gross)
			require.NoError(t, err)
			assert.Equal(t, gross, split.PlatformFee+split.PayeeShare, "bps %d gross %d", bps, gross)
			assert.GreaterOrEqual(t, split.PayeeShare, int64(0))
		}
	}
}

func TestSplitRejectsNegative(t *testing.T) {
	calc, err := NewPercentCalculator(10)
	require.NoError(t, err)

	_, err = calc.Split(-1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewCalculatorRejectsOutOfRange(t *testing.T) {
	_, err := NewCalculator(-1)
	require.Error(t, err)
	_, err = NewCalculator(10001)
	require.Error(t, err)
}
