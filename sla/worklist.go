package sla

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/warp/servicedesk/core"
)

// DefaultItemLimit bounds the tickets and the service orders read for one
// worklist. A workload past the bound fails the build instead of being cut.
const DefaultItemLimit = 2000

type ItemKind string

const (
	KindTicket       ItemKind = "ticket"
	KindServiceOrder ItemKind = "service-order"
)

// Item is one entry of a technician's worklist. It only lives in memory.
type Item struct {
	ID                   string
	Kind                 ItemKind
	Number               int
	Title                string
	ClientID             core.ClientID
	ClientName           string
	Status               string
	Priority             core.TicketPriority
	OpenedAt             time.Time
	LastInteractionAt    *time.Time
	Level                Level
	DaysOpen             int
	DaysSinceInteraction int
}

// Worklist is the full, unfiltered set of items for one technician.
type Worklist struct {
	TechnicianID core.UserID
	GeneratedAt  time.Time
	Items        []Item
	Stats        Stats
}

// Builder reads open work from the store and classifies it.
type Builder struct {
	Tickets   core.TicketStore
	Orders    core.OrderStore
	Clock     core.Clock
	ItemLimit int
}

func NewBuilder(s core.Store, clock core.Clock) *Builder {
	return &Builder{Tickets: s, Orders: s, Clock: clock, ItemLimit: DefaultItemLimit}
}

var (
	closedTicketStatuses = []core.TicketStatus{core.TicketClosed, core.TicketCancelled}
	openOrderStatuses    = []core.ServiceOrderStatus{core.OrderOpen, core.OrderInProgress}
)

// Build returns the open tickets assigned to technicianID or unassigned, and
// the open service orders assigned to technicianID, classified at Clock.Now.
func (b *Builder) Build(ctx context.Context, technicianID core.UserID) (*Worklist, error) {
	if technicianID == "" {
		return nil, &core.ValidationError{Field: "technician_id", Message: "required"}
	}
	now := b.Clock.Now()
	limit := core.LimitOr(b.ItemLimit, DefaultItemLimit)

	tickets, err := b.Tickets.ListTickets(ctx, core.TicketFilter{
		AssignedTo:        technicianID,
		IncludeUnassigned: true,
		ExcludeStatuses:   closedTicketStatuses,
		Limit:             limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("loading tickets: %w", err)
	}
	if len(tickets) > limit {
		return nil, fmt.Errorf("%w: more than %d open tickets for technician %s",
			core.ErrRowLimitExceeded, limit, technicianID)
	}

	orders, err := b.Orders.ListServiceOrders(ctx, core.OrderFilter{
		TechnicianID: technicianID,
		Statuses:     openOrderStatuses,
		Limit:        limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("loading service orders: %w", err)
	}
	if len(orders) > limit {
		return nil, fmt.Errorf("%w: more than %d open service orders for technician %s",
			core.ErrRowLimitExceeded, limit, technicianID)
	}

	lastSeen, err := b.lastInteractions(ctx, tickets)
	if err != nil {
		return nil, err
	}

	linked, err := b.linkedTickets(ctx, tickets, orders)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(tickets)+len(orders))
	for _, t := range tickets {
		var last *time.Time
		if at, ok := lastSeen[t.ID]; ok {
			last = &at
		}
		c := Classify(now, t.OpenedAt, t.SLAHours, last)
		items = append(items, Item{
			ID:                   string(t.ID),
			Kind:                 KindTicket,
			Number:               t.Number,
			Title:                t.Title,
			ClientID:             t.ClientID,
			ClientName:           t.ClientName,
			Status:               string(t.Status),
			Priority:             t.Priority,
			OpenedAt:             t.OpenedAt,
			LastInteractionAt:    last,
			Level:                c.Level,
			DaysOpen:             c.DaysOpen,
			DaysSinceInteraction: c.DaysSinceInteraction,
		})
	}

	for _, o := range orders {
		openedAt := o.OpenedAt()
		var slaHours *int
		var priority core.TicketPriority
		if o.TicketID != nil {
			if t, ok := linked[*o.TicketID]; ok {
				openedAt = t.OpenedAt
				slaHours = t.SLAHours
				priority = t.Priority
			}
		}
		c := Classify(now, openedAt, slaHours, nil)
		items = append(items, Item{
			ID:                   string(o.ID),
			Kind:                 KindServiceOrder,
			Number:               o.Number,
			Title:                o.Title,
			ClientID:             o.ClientID,
			ClientName:           o.ClientName,
			Status:               string(o.Status),
			Priority:             priority,
			OpenedAt:             openedAt,
			Level:                c.Level,
			DaysOpen:             c.DaysOpen,
			DaysSinceInteraction: c.DaysSinceInteraction,
		})
	}

	return &Worklist{
		TechnicianID: technicianID,
		GeneratedAt:  now,
		Items:        items,
		Stats:        ComputeStats(items),
	}, nil
}

// lastInteractions maps each ticket to its newest interaction. Only one row
// per ticket is read, so a busy ticket cannot crowd out the others.
func (b *Builder) lastInteractions(ctx context.Context, tickets []core.Ticket) (map[core.TicketID]time.Time, error) {
	out := make(map[core.TicketID]time.Time, len(tickets))
	if len(tickets) == 0 {
		return out, nil
	}
	ids := make([]core.TicketID, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}

	rows, err := b.Tickets.ListInteractions(ctx, core.InteractionFilter{
		TicketIDs: ids,
		PerTicket: 1,
		Limit:     len(ids),
	})
	if err != nil {
		return nil, fmt.Errorf("loading interactions: %w", err)
	}
	for _, r := range rows {
		if _, seen := out[r.TicketID]; !seen {
			out[r.TicketID] = r.CreatedAt
		}
	}
	return out, nil
}

// linkedTickets returns the tickets referenced by orders. Tickets already
// loaded are reused; the rest (closed or assigned elsewhere) are fetched.
func (b *Builder) linkedTickets(ctx context.Context, loaded []core.Ticket, orders []core.ServiceOrder) (map[core.TicketID]core.Ticket, error) {
	out := make(map[core.TicketID]core.Ticket)
	for _, t := range loaded {
		out[t.ID] = t
	}

	var missing []core.TicketID
	for _, o := range orders {
		if o.TicketID == nil {
			continue
		}
		if _, ok := out[*o.TicketID]; !ok {
			missing = append(missing, *o.TicketID)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	extra, err := b.Tickets.ListTickets(ctx, core.TicketFilter{IDs: missing})
	if err != nil {
		return nil, fmt.Errorf("loading linked tickets: %w", err)
	}
	for _, t := range extra {
		out[t.ID] = t
	}
	return out, nil
}

// numberText renders the numeric identifier for search.
func (i Item) numberText() string {
	return strconv.Itoa(i.Number)
}
