package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *time.Time
		wantErr bool
	}{
		{name: "dataset format", raw: "2019-01-01 00:00:18", want: ptrTime(time.Date(2019, 1, 1, 0, 0, 18, 0, time.UTC))},
		{name: "rfc3339", raw: "2020-06-21T12:14:25Z", want: ptrTime(time.Date(2020, 6, 21, 12, 14, 25, 0, time.UTC))},
		{name: "date only", raw: "2020-06-21", want: ptrTime(time.Date(2020, 6, 21, 0, 0, 0, 0, time.UTC))},
		{name: "blank", raw: "   "},
		{name: "garbage", raw: "not-a-date", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateTime("trans_date_trans_time", tt.raw)
			if tt.wantErr {
				var perr *ParseError
				require.True(t, errors.As(err, &perr))
				assert.Equal(t, "trans_date_trans_time", perr.Column)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("amt", " 12.50 ")
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, "12.5", d.Decimal.String())

	d, err = ParseDecimal("amt", "")
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = ParseDecimal("amt", "twelve")
	assert.Error(t, err)
	assert.False(t, d.Valid)
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt("unix_time", "1325376018")
	require.NoError(t, err)
	assert.Equal(t, int64(1325376018), *v)

	v, err = ParseInt("unix_time", "1325376018.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1325376018), *v)

	_, err = ParseInt("unix_time", "1325376018.5")
	assert.Error(t, err)

	v, err = ParseInt("unix_time", "")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseFloat(t *testing.T) {
	v, err := ParseFloat("lat", "36.0788")
	require.NoError(t, err)
	assert.InDelta(t, 36.0788, *v, 1e-9)

	_, err = ParseFloat("lat", "north")
	assert.Error(t, err)
}

func TestNormalizeCardID(t *testing.T) {
	assert.Equal(t, "2703186189652095", *NormalizeCardID("2703186189652095"))
	assert.Equal(t, "2703186189652095", *NormalizeCardID("2.703186189652095e+15"))
	assert.Equal(t, "CARD-7", *NormalizeCardID(" CARD-7 "))
	assert.Nil(t, NormalizeCardID(""))
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestNullTokensAreAbsent(t *testing.T) {
	for _, raw := range []string{"", " ", "NaN", "nan", "NULL", "N/A", "None"} {
		assert.Nil(t, NullString(raw), "NullString(%q)", raw)

		f, err := ParseFloat("is_fraud", raw)
		assert.NoError(t, err)
		assert.Nil(t, f, "ParseFloat(%q)", raw)

		d, err := ParseDecimal("amt", raw)
		assert.NoError(t, err)
		assert.False(t, d.Valid, "ParseDecimal(%q)", raw)
	}

	_, err := ParseFloat("lat", "Inf")
	assert.Error(t, err)
}
