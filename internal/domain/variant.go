package domain

import (
	"fmt"
	"strings"
)

// Variant selects which day's schedule a notification cycle looks at.
type Variant string

const (
	// VariantMorning notifies about today's lessons.
	VariantMorning Variant = "morning"
	// VariantEvening notifies about tomorrow's lessons.
	VariantEvening Variant = "evening"
)

// Variants lists every task variant in trigger order.
var Variants = []Variant{VariantMorning, VariantEvening}

// ParseVariant converts user input into a Variant.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case VariantMorning:
		return VariantMorning, nil
	case VariantEvening:
		return VariantEvening, nil
	default:
		return "", fmt.Errorf("unknown task variant %q", raw)
	}
}

// Resolve maps the current cursor coordinate onto the coordinate this variant notifies about.
func (v Variant) Resolve(current Coordinate) Coordinate {
	if v == VariantEvening {
		return current.Next()
	}
	return current
}

func (v Variant) String() string {
	return string(v)
}
