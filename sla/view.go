package sla

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/servicedesk/core"
)

type SortMode string

const (
	SortOldest          SortMode = "oldest"
	SortCritical        SortMode = "critical"
	SortLastInteraction SortMode = "last_interaction"
)

// ParseSortMode accepts the empty string as SortOldest.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case "", SortOldest:
		return SortOldest, nil
	case SortCritical, SortLastInteraction:
		return SortMode(s), nil
	}
	return "", &core.ValidationError{Field: "sort", Message: fmt.Sprintf("unknown sort mode %q", s)}
}

// Query narrows and orders a worklist. Empty fields match everything.
type Query struct {
	Status   string
	ClientID core.ClientID
	Level    Level
	Kind     ItemKind
	Search   string
	Sort     SortMode
}

// View returns the items matching q, sorted. Ties keep the build order.
func (w *Worklist) View(q Query) []Item {
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]Item, 0, len(w.Items))
	for _, it := range w.Items {
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		if q.ClientID != "" && it.ClientID != q.ClientID {
			continue
		}
		if q.Level != "" && it.Level != q.Level {
			continue
		}
		if q.Kind != "" && it.Kind != q.Kind {
			continue
		}
		if needle != "" && !it.matches(needle) {
			continue
		}
		out = append(out, it)
	}

	sortItems(out, q.Sort)
	return out
}

func (i Item) matches(needle string) bool {
	return strings.Contains(strings.ToLower(i.Title), needle) ||
		strings.Contains(strings.ToLower(i.ClientName), needle) ||
		strings.Contains(i.numberText(), needle)
}

func sortItems(items []Item, mode SortMode) {
	switch mode {
	case SortCritical:
		sort.SliceStable(items, func(a, b int) bool {
			ra, rb := items[a].Level.rank(), items[b].Level.rank()
			if ra != rb {
				return ra < rb
			}
			return items[a].OpenedAt.Before(items[b].OpenedAt)
		})
	case SortLastInteraction:
		sort.SliceStable(items, func(a, b int) bool {
			return interactionTime(items[a]).Before(interactionTime(items[b]))
		})
	default:
		sort.SliceStable(items, func(a, b int) bool {
			return items[a].OpenedAt.Before(items[b].OpenedAt)
		})
	}
}

// interactionTime treats "never" as the zero time so those items sort first.
func interactionTime(i Item) time.Time {
	if i.LastInteractionAt == nil {
		return time.Time{}
	}
	return *i.LastInteractionAt
}

// =============================================================================
// STATS
// =============================================================================

// Status buckets used by the dashboard cards.
const (
	BucketOpen       = "open"
	BucketInProgress = "in_progress"
	BucketWaiting    = "waiting"
)

type Stats struct {
	Total    int
	ByLevel  map[Level]int
	ByBucket map[string]int
}

// ComputeStats counts items per level and status bucket.
func ComputeStats(items []Item) Stats {
	s := Stats{
		Total:    len(items),
		ByLevel:  map[Level]int{LevelNormal: 0, LevelWarning: 0, LevelCritical: 0},
		ByBucket: map[string]int{BucketOpen: 0, BucketInProgress: 0, BucketWaiting: 0},
	}
	for _, it := range items {
		s.ByLevel[it.Level]++
		if b := statusBucket(it.Status); b != "" {
			s.ByBucket[b]++
		}
	}
	return s
}

func statusBucket(status string) string {
	switch status {
	case string(core.TicketOpen), string(core.OrderOpen):
		return BucketOpen
	case string(core.TicketInProgress): // same value for service orders
		return BucketInProgress
	case string(core.TicketAwaitingClient), string(core.TicketAwaitingThirdParty):
		return BucketWaiting
	}
	return ""
}
