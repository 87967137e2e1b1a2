package geo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/servicebook/internal/geo"
)

func TestDistanceKmSymmetricAndZero(t *testing.T) {
	pairs := [][4]float64{
		{12.97, 77.59, 12.98, 77.60},
		{-33.86, 151.21, 51.50, -0.12},
		{0, 0, 0, 1},
		{89.9, 10, -89.9, -170},
	}
	for _, p := range pairs {
		require.Equal(t, geo.DistanceKm(p[0], p[1], p[2], p[3]), geo.DistanceKm(p[2], p[3], p[0], p[1]))
		require.Zero(t, geo.DistanceKm(p[0], p[1], p[0], p[1]))
	}
}

func TestDistanceKmOneDegreeAtEquator(t *testing.T) {
	require.InDelta(t, 111.19, geo.DistanceKm(0, 0, 0, 1), 0.5)
}

func TestDistanceKmRoundsToTwoDecimals(t *testing.T) {
	d := geo.DistanceKm(12.97, 77.59, 12.98, 77.60)
	require.InDelta(t, 1.55, d, 0.01)
	require.Equal(t, d, float64(int64(d*100+0.5))/100)
}
