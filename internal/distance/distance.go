// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package distance provides great-circle distance and the decay kernels
// used for distance-weighted hotspot ranking.
package distance

import "math"

// EarthRadiusKm is the IUGG mean Earth radius.
const EarthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance in kilometers between two
// WGS84 points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// WeightExp is the exponential decay kernel exp(-d/d0).
// A non-positive scale yields weight 0.
func WeightExp(dKm, d0Km float64) float64 {
	if d0Km <= 0 {
		return 0
	}
	return math.Exp(-dKm / d0Km)
}

// WeightRational is the rational decay kernel 1/(1+d/d0)^gamma.
// A non-positive scale yields weight 0; a non-positive gamma falls back
// to 1.
func WeightRational(dKm, d0Km, gamma float64) float64 {
	if d0Km <= 0 {
		return 0
	}
	if gamma <= 0 {
		gamma = 1
	}
	return 1 / math.Pow(1+dKm/d0Km, gamma)
}
