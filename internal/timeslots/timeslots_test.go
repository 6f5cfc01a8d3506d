// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package timeslots

import "testing"

func TestSlotOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		month, day int
		want       int
	}{
		{1, 1, 1},
		{1, 7, 1},
		{1, 8, 2},
		{1, 14, 2},
		{1, 15, 3},
		{1, 21, 3},
		{1, 22, 4},
		{1, 31, 4},
		{2, 4, 5},
		{2, 28, 8},
		{6, 10, 22},
		{12, 25, 48},
	}

	for _, tt := range tests {
		if got := SlotOf(tt.month, tt.day); got != tt.want {
			t.Errorf("SlotOf(%d, %d) = %d, want %d", tt.month, tt.day, got, tt.want)
		}
	}
}

func TestSlotToMonthQuartile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id             int
		month, quartile int
	}{
		{1, 1, 1},
		{4, 1, 4},
		{5, 2, 1},
		{22, 6, 2},
		{48, 12, 4},
	}

	for _, tt := range tests {
		month, quartile, err := SlotToMonthQuartile(tt.id)
		if err != nil {
			t.Fatalf("SlotToMonthQuartile(%d) error: %v", tt.id, err)
		}
		if month != tt.month || quartile != tt.quartile {
			t.Errorf("SlotToMonthQuartile(%d) = (%d, %d), want (%d, %d)",
				tt.id, month, quartile, tt.month, tt.quartile)
		}
	}

	for _, id := range []int{0, -1, 49, 100} {
		if _, _, err := SlotToMonthQuartile(id); err == nil {
			t.Errorf("SlotToMonthQuartile(%d) expected error", id)
		}
	}
}

func TestSlotRoundTrip(t *testing.T) {
	t.Parallel()

	for id := 1; id <= SlotMax; id++ {
		month, quartile, err := SlotToMonthQuartile(id)
		if err != nil {
			t.Fatalf("slot %d: %v", id, err)
		}
		start, _, err := SlotBounds(month, quartile, 2024)
		if err != nil {
			t.Fatalf("slot %d bounds: %v", id, err)
		}
		if got := SlotOf(month, start); got != id {
			t.Errorf("SlotOf(%d, %d) = %d, want %d", month, start, got, id)
		}
	}
}

func TestSlotBounds_FebruaryLeap(t *testing.T) {
	t.Parallel()

	_, end, err := SlotBounds(2, 4, 2023)
	if err != nil {
		t.Fatal(err)
	}
	if end != 28 {
		t.Errorf("non-leap February quartile 4 ends on %d, want 28", end)
	}

	_, end, err = SlotBounds(2, 4, 2024)
	if err != nil {
		t.Fatal(err)
	}
	if end != 29 {
		t.Errorf("leap February quartile 4 ends on %d, want 29", end)
	}
}

func TestSlotBounds_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := SlotBounds(0, 1, 2024); err == nil {
		t.Error("month 0 expected error")
	}
	if _, _, err := SlotBounds(13, 1, 2024); err == nil {
		t.Error("month 13 expected error")
	}
	if _, _, err := SlotBounds(6, 0, 2024); err == nil {
		t.Error("quartile 0 expected error")
	}
	if _, _, err := SlotBounds(6, 5, 2024); err == nil {
		t.Error("quartile 5 expected error")
	}
}

func TestFormatSlot(t *testing.T) {
	t.Parallel()

	if got := FormatSlot(SlotAll); got != "all" {
		t.Errorf("FormatSlot(0) = %q, want %q", got, "all")
	}
	if got := FormatSlot(22); got != "6.2" {
		t.Errorf("FormatSlot(22) = %q, want %q", got, "6.2")
	}
	if got := FormatSlot(99); got != "invalid(99)" {
		t.Errorf("FormatSlot(99) = %q, want %q", got, "invalid(99)")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	s, err := Resolve(8, 2024)
	if err != nil {
		t.Fatal(err)
	}
	want := Slot{ID: 8, Month: 2, Quartile: 4, StartDay: 22, EndDay: 29}
	if s != want {
		t.Errorf("Resolve(8, 2024) = %+v, want %+v", s, want)
	}
}
