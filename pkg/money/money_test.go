package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "500.00", Format(50000))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-1.50", Format(-150))
}

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"500":    50000,
		"500.5":  50050,
		"500.55": 50055,
		"0.01":   1,
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, bad := range []string{"", "abc", "1.005", "1e20"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestAmountJSON(t *testing.T) {
	var body struct {
		Budget Amount `json:"budget"`
		Price  Amount `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"budget":"600.00","price":450.5}`), &body))
	assert.Equal(t, int64(60000), body.Budget.Cents())
	assert.Equal(t, int64(45050), body.Price.Cents())

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"budget":"600.00","price":"450.50"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"budget":"1.234"}`), &body))
}
