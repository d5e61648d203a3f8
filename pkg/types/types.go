// Package types provides the shared records exchanged between the plant-care scheduling
// components and their external collaborators.
package types

import (
	"fmt"
	"strings"
)

// Priority represents an ordered urgency level
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AllPriorities lists priorities from lowest to highest
var AllPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank returns the position of the priority in the total order, -1 when unknown
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return -1
	}
}

// IsValid checks if the priority is one of the known levels
func (p Priority) IsValid() bool {
	return p.Rank() >= 0
}

// AtLeast reports whether p is at or above other
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// MaxPriority returns the highest of the given priorities (low when empty)
func MaxPriority(priorities ...Priority) Priority {
	best := PriorityLow
	for _, p := range priorities {
		if p.Rank() > best.Rank() {
			best = p
		}
	}
	return best
}

// ParsePriority parses a priority name, case-insensitively
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Confidence marks how much of a result came from real data versus defaults
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)
