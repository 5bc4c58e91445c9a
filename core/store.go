/*
store.go - Persistence interfaces for the service desk

PURPOSE:
  Defines the interface between the engines and the database. The engines
  only issue typed reads and writes; sums and counts are computed in Go
  after the rows come back.

KEY INTERFACES:
  ContractStore: Contracts, hour tiers, periods, per-tier breakdown
  OrderStore:    Service orders
  TicketStore:   Tickets and their interaction history
  InvoiceStore:  Invoices
  RunStore:      Rollover audit records
  TxStore:       All of the above plus WithTx for atomic multi-writes

FILTERS:
  Filters express equality, ranges (>=, <=), set membership and negated
  set membership. Every list filter carries a Limit; zero means the store
  default. Reads that feed billing ask for Limit+1 rows so truncation can
  be detected instead of silently under-billing.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (mattn/go-sqlite3)
  - store/postgres: PostgreSQL (pgx)
  - core/store: In-memory for testing

SEE ALSO:
  - types.go: The records these interfaces move
*/
package core

import (
	"context"
	"time"
)

// DefaultListLimit bounds list reads that don't set a Limit.
const DefaultListLimit = 1000

type ContractFilter struct {
	Status   ContractStatus
	ClientID ClientID
	Limit    int
}

type OrderFilter struct {
	IDs          []ServiceOrderID
	ClientID     ClientID
	TechnicianID UserID
	Statuses     []ServiceOrderStatus // in
	StartedFrom  *time.Time           // >=
	StartedTo    *time.Time           // <=
	Limit        int
}

type TicketFilter struct {
	IDs []TicketID

	// AssignedTo selects tickets of this technician. With IncludeUnassigned
	// tickets without a technician are selected too.
	AssignedTo        UserID
	IncludeUnassigned bool

	ExcludeStatuses []TicketStatus // not in
	ClientID        ClientID
	Limit           int
}

// InteractionFilter selects interactions newest first.
type InteractionFilter struct {
	TicketIDs []TicketID

	// PerTicket keeps only the newest PerTicket rows of each ticket.
	PerTicket int
	Limit     int
}

type InvoiceFilter struct {
	ClientID ClientID
	PeriodID PeriodID
	Limit    int
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ContractStore interface {
	SaveClient(ctx context.Context, c Client) error
	SaveContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id ContractID) (*Contract, error)
	ListContracts(ctx context.Context, f ContractFilter) ([]Contract, error)

	SaveHourTier(ctx context.Context, t HourTier) error
	ListHourTiers(ctx context.Context, contractID ContractID) ([]HourTier, error)

	// CreatePeriod inserts a period. Returns ErrDuplicate if the contract
	// already has a period for that month.
	CreatePeriod(ctx context.Context, p ContractPeriod) error
	UpdatePeriod(ctx context.Context, p ContractPeriod) error
	GetPeriod(ctx context.Context, id PeriodID) (*ContractPeriod, error)
	// FindPeriod returns ErrNotFound when the contract has no period for month.
	FindPeriod(ctx context.Context, contractID ContractID, month time.Time) (*ContractPeriod, error)
	ListPeriods(ctx context.Context, contractID ContractID) ([]ContractPeriod, error)

	InsertPeriodTierHours(ctx context.Context, rows []PeriodTierHours) error
	ListPeriodTierHours(ctx context.Context, periodID PeriodID) ([]PeriodTierHours, error)
}

type OrderStore interface {
	SaveServiceOrder(ctx context.Context, o ServiceOrder) error
	ListServiceOrders(ctx context.Context, f OrderFilter) ([]ServiceOrder, error)
	SetServiceOrderStatus(ctx context.Context, ids []ServiceOrderID, status ServiceOrderStatus) error
}

type TicketStore interface {
	SaveTicket(ctx context.Context, t Ticket) error
	GetTicket(ctx context.Context, id TicketID) (*Ticket, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]Ticket, error)
	AppendInteraction(ctx context.Context, i Interaction) error
	ListInteractions(ctx context.Context, f InteractionFilter) ([]Interaction, error)
}

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
}

type RunStore interface {
	SaveRolloverRun(ctx context.Context, r RolloverRun) error
	ListRolloverRuns(ctx context.Context, limit int) ([]RolloverRun, error)
}

// Store is the full persistence collaborator.
type Store interface {
	ContractStore
	OrderStore
	TicketStore
	InvoiceStore
	RunStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when several writes must land together (closing, approving).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LimitOr returns limit, or def when limit is not positive.
func LimitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
