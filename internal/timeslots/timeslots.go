// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package timeslots maps calendar dates onto the 49 seasonal buckets used
// throughout the grid store.
//
// A slot is either the all-time sentinel 0 or one of 48 (month, quartile)
// buckets: each month is split into day ranges 1-7, 8-14, 15-21 and
// 22-end, so slot = (month-1)*4 + quartile with quartile in 1..4.
package timeslots

import (
	"fmt"
	"time"
)

const (
	// SlotAll is the all-time sentinel bucket.
	SlotAll = 0

	// SlotMin and SlotMax bound the valid slot id range, sentinel included.
	SlotMin = 0
	SlotMax = 48
)

var quartileStartDays = [4]int{1, 8, 15, 22}

// Slot describes a (month, quartile) bucket together with its day bounds
// in a concrete year.
type Slot struct {
	ID       int `json:"slot_id"`
	Month    int `json:"month"`
	Quartile int `json:"quartile"`
	StartDay int `json:"start_day"`
	EndDay   int `json:"end_day"`
}

// Valid reports whether id is a well-formed slot id, sentinel included.
func Valid(id int) bool {
	return id >= SlotMin && id <= SlotMax
}

// SlotOf returns the slot id of a (month, day) date.
// Days 22 and beyond always fall in the fourth quartile.
func SlotOf(month, day int) int {
	q := 4
	for i := 1; i < 4; i++ {
		if day < quartileStartDays[i] {
			q = i
			break
		}
	}
	return (month-1)*4 + q
}

// SlotToMonthQuartile decomposes a non-sentinel slot id.
func SlotToMonthQuartile(id int) (month, quartile int, err error) {
	if id < 1 || id > SlotMax {
		return 0, 0, fmt.Errorf("slot id %d out of range 1..%d", id, SlotMax)
	}
	return (id-1)/4 + 1, (id-1)%4 + 1, nil
}

// SlotBounds returns the first and last day of a (month, quartile) bucket
// in the given year. The fourth quartile ends on the last day of the
// month, so February yields 28 or 29 depending on the year.
func SlotBounds(month, quartile, year int) (startDay, endDay int, err error) {
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("month %d out of range 1..12", month)
	}
	if quartile < 1 || quartile > 4 {
		return 0, 0, fmt.Errorf("quartile %d out of range 1..4", quartile)
	}

	startDay = quartileStartDays[quartile-1]
	if quartile < 4 {
		endDay = startDay + 6
	} else {
		endDay = daysInMonth(year, month)
	}
	return startDay, endDay, nil
}

// Resolve expands a non-sentinel slot id into a Slot with day bounds for
// the given year.
func Resolve(id, year int) (Slot, error) {
	month, quartile, err := SlotToMonthQuartile(id)
	if err != nil {
		return Slot{}, err
	}
	start, end, err := SlotBounds(month, quartile, year)
	if err != nil {
		return Slot{}, err
	}
	return Slot{ID: id, Month: month, Quartile: quartile, StartDay: start, EndDay: end}, nil
}

// FormatSlot renders a slot id as "month.quartile", or "all" for the
// sentinel.
func FormatSlot(id int) string {
	if id == SlotAll {
		return "all"
	}
	month, quartile, err := SlotToMonthQuartile(id)
	if err != nil {
		return fmt.Sprintf("invalid(%d)", id)
	}
	return fmt.Sprintf("%d.%d", month, quartile)
}

func daysInMonth(year, month int) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
