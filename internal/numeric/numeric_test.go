package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizesToScale(t *testing.T) {
	d, err := Parse(" 1.123456789 ")
	require.NoError(t, err)
	require.Equal(t, "1.12345679", Format(d))

	_, err = Parse("")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)

	opt, err := ParseOptional("  ")
	require.NoError(t, err)
	require.Nil(t, opt)
}

func TestWeightedAverage(t *testing.T) {
	avg := WeightedAverage(decimal.Zero, decimal.Zero, MustParse("100"), MustParse("6"))
	require.True(t, avg.Equal(MustParse("100")))

	avg = WeightedAverage(avg, MustParse("6"), MustParse("120"), MustParse("4"))
	require.True(t, avg.Equal(MustParse("108")), "got %s", avg)

	third := WeightedAverage(MustParse("1"), MustParse("1"), MustParse("2"), MustParse("2"))
	require.Equal(t, "1.66666667", Format(third))

	require.True(t, WeightedAverage(decimal.Zero, decimal.Zero, MustParse("5"), decimal.Zero).IsZero())
}

func TestWeightedAverageRoundsOnce(t *testing.T) {
	// Exact quotient is 41.823639154999723..., which must not round up at the 8th digit.
	avg := WeightedAverage(MustParse("66.55817758"), MustParse("3.21848706"), MustParse("32.18142954"), MustParse("8.25617727"))
	require.Equal(t, "41.82363915", Format(avg))
}

func TestMulRoundsHalfAwayFromZero(t *testing.T) {
	require.Equal(t, "0.00000001", Format(Mul(MustParse("0.00000001"), MustParse("0.5"))))
	require.Equal(t, "-0.00000001", Format(Mul(MustParse("-0.00000001"), MustParse("0.5"))))
}
