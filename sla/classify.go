/*
Package sla classifies open work by elapsed time and builds a technician's
worklist.

PURPOSE:
  Every open ticket and service order has a time budget (the ticket's SLA
  hours, 24h when unset). Items past 70% of the budget are a warning, items
  at or past the budget are critical. The worklist unifies tickets and
  service orders into one filterable, sortable list with workload stats.

KEY CONCEPTS:
  - Classify: pure, takes "now" explicitly
  - Builder: reads from a store and produces a Worklist
  - Worklist.View: filters and sorts; Stats ignore filters

SEE ALSO:
  - worklist.go: Building the item list
  - view.go: Filtering, sorting, stats
*/
package sla

import (
	"time"

	"github.com/warp/servicedesk/core"
)

// DefaultSLAHours applies to tickets without their own budget.
const DefaultSLAHours = 24

type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// rank orders levels most urgent first.
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 0
	case LevelWarning:
		return 1
	default:
		return 2
	}
}

// Classification is the urgency of one item at a point in time.
type Classification struct {
	Level                Level
	DaysOpen             int
	DaysSinceInteraction int
}

// Classify computes the level and day counts of an item opened at openedAt.
// A nil slaHours (or a non-positive one) uses DefaultSLAHours. Without a last
// interaction, DaysSinceInteraction equals DaysOpen.
func Classify(now, openedAt time.Time, slaHours *int, lastInteraction *time.Time) Classification {
	hours := DefaultSLAHours
	if slaHours != nil && *slaHours > 0 {
		hours = *slaHours
	}
	budget := time.Duration(hours) * time.Hour
	elapsed := now.Sub(openedAt)

	// elapsed >= 0.7 budget, in integer arithmetic
	level := LevelNormal
	switch {
	case elapsed >= budget:
		level = LevelCritical
	case elapsed*10 >= budget*7:
		level = LevelWarning
	}

	c := Classification{Level: level, DaysOpen: core.WholeDays(elapsed)}
	c.DaysSinceInteraction = c.DaysOpen
	if lastInteraction != nil {
		c.DaysSinceInteraction = core.WholeDays(now.Sub(*lastInteraction))
	}
	return c
}
