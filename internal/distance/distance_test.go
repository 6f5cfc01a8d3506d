// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package distance

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tol                    float64
	}{
		{"identical points", 55.667, 13.35, 55.667, 13.35, 0, 1e-9},
		{"Lund to Malmoe", 55.7047, 13.1910, 55.6050, 13.0038, 16.0, 1.0},
		{"Stockholm to Gothenburg", 59.3293, 18.0686, 57.7089, 11.9746, 398, 5},
		{"equator quarter turn", 0, 0, 0, 90, math.Pi / 2 * EarthRadiusKm, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("HaversineKm = %v, want %v (tol %v)", got, tt.want, tt.tol)
			}
		})
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	t.Parallel()

	d1 := HaversineKm(55.667, 13.35, 59.3293, 18.0686)
	d2 := HaversineKm(59.3293, 18.0686, 55.667, 13.35)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestWeightExp(t *testing.T) {
	t.Parallel()

	if got := WeightExp(0, 30); got != 1 {
		t.Errorf("WeightExp(0, 30) = %v, want 1", got)
	}
	if got := WeightExp(30, 30); math.Abs(got-math.Exp(-1)) > 1e-12 {
		t.Errorf("WeightExp(30, 30) = %v, want e^-1", got)
	}
	if got := WeightExp(10, 0); got != 0 {
		t.Errorf("WeightExp with zero scale = %v, want 0", got)
	}
	if got := WeightExp(10, -5); got != 0 {
		t.Errorf("WeightExp with negative scale = %v, want 0", got)
	}
}

func TestWeightRational(t *testing.T) {
	t.Parallel()

	// d = d0 and gamma 2 halves twice: 1/(1+1)^2.
	if got := WeightRational(30, 30, 2); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("WeightRational(30, 30, 2) = %v, want 0.25", got)
	}
	if got := WeightRational(0, 30, 2); got != 1 {
		t.Errorf("WeightRational(0, 30, 2) = %v, want 1", got)
	}
	if got := WeightRational(10, 0, 2); got != 0 {
		t.Errorf("WeightRational with zero scale = %v, want 0", got)
	}
	// Non-positive gamma falls back to 1.
	if got := WeightRational(30, 30, 0); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("WeightRational(30, 30, 0) = %v, want 0.5", got)
	}
	if got := WeightRational(30, 30, -3); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("WeightRational(30, 30, -3) = %v, want 0.5", got)
	}
}

func TestWeightsDecreaseWithDistance(t *testing.T) {
	t.Parallel()

	prevExp, prevRat := 2.0, 2.0
	for d := 0.0; d <= 300; d += 25 {
		we := WeightExp(d, 30)
		wr := WeightRational(d, 30, 2)
		if we >= prevExp || wr >= prevRat {
			t.Fatalf("weights not strictly decreasing at d=%v", d)
		}
		prevExp, prevRat = we, wr
	}
}
