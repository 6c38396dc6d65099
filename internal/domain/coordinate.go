// Package domain holds the academic calendar types shared by the notification engine.
package domain

import (
	"errors"
	"fmt"
)

// DaysPerWeek is the upper bound of Coordinate.DayOfWeek.
const DaysPerWeek = 7

// ErrInvalidCoordinate indicates a coordinate that violates the calendar invariants.
var ErrInvalidCoordinate = errors.New("invalid academic coordinate")

// Coordinate identifies an academic time slot.
type Coordinate struct {
	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`
	Semester  int `json:"semester"`
	Week      int `json:"week"`
	DayOfWeek int `json:"day_of_week"`
}

// Validate reports whether the coordinate satisfies dayOfWeek ∈ [1,7] and a positive week.
func (c Coordinate) Validate() error {
	if c.DayOfWeek < 1 || c.DayOfWeek > DaysPerWeek {
		return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidCoordinate, c.DayOfWeek)
	}
	if c.Week < 1 {
		return fmt.Errorf("%w: week %d", ErrInvalidCoordinate, c.Week)
	}
	if c.EndYear < c.StartYear {
		return fmt.Errorf("%w: year range %d-%d", ErrInvalidCoordinate, c.StartYear, c.EndYear)
	}
	return nil
}

// IsLastDayOfWeek reports whether the coordinate sits on the wrap boundary.
func (c Coordinate) IsLastDayOfWeek() bool {
	return c.DayOfWeek == DaysPerWeek
}

// Next returns the coordinate of the following day. Day 7 wraps to day 1 of the next week.
func (c Coordinate) Next() Coordinate {
	next := c
	if c.IsLastDayOfWeek() {
		next.DayOfWeek = 1
		next.Week = c.Week + 1
		return next
	}
	next.DayOfWeek = c.DayOfWeek + 1
	return next
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d-%d/s%d/w%d/d%d", c.StartYear, c.EndYear, c.Semester, c.Week, c.DayOfWeek)
}

// Cursor is the single global coordinate record together with its optimistic version.
type Cursor struct {
	Coordinate
	Version int64 `json:"version"`
}
