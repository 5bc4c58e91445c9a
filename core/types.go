/*
Package core provides the shared model of the service desk.

PURPOSE:
  This package holds the typed records that both computational engines
  consume: contracts and their hour-rate tiers, monthly contract periods,
  service orders, tickets and their interaction history, invoices. Rows
  coming out of any Store are parsed into these types before the
  reconciliation or SLA code ever sees them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe string IDs (ContractID, PeriodID, ...)
  - Statuses: Closed sets of lifecycle states per entity
  - TierRef: Nullable reference to an hour-rate tier
  - Entities: Contract, HourTier, ContractPeriod, PeriodTierHours,
    ServiceOrder, Ticket, Interaction, Invoice, RolloverRun

DESIGN PRINCIPLES:
  1. Precision: Money and hours are decimal.Decimal, never float64
  2. Type Safety: Distinct ID types prevent mixing contract/period IDs
  3. Explicit Nulls: Optional links are pointers or TierRef, not "" sentinels

SEE ALSO:
  - money.go: Rounding and arithmetic helpers
  - time.go: Month periods and the Clock abstraction
  - store.go: Persistence interfaces
*/
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type ContractID string
type PeriodID string
type TierID string
type ServiceOrderID string
type TicketID string
type InvoiceID string
type UserID string

// TierRef references an hour-rate tier, or nothing.
// The zero value is the untagged bucket used for orders without a tier, so it
// can never collide with a real tier ID.
type TierRef struct {
	ID    TierID
	Valid bool
}

// Tier returns a valid reference to id.
func Tier(id TierID) TierRef { return TierRef{ID: id, Valid: true} }

// NoTier is the untagged bucket.
var NoTier = TierRef{}

func (r TierRef) String() string {
	if !r.Valid {
		return "<untiered>"
	}
	return string(r.ID)
}

// =============================================================================
// ACTOR - Who is performing an operation
// =============================================================================

// Actor is the acting user passed explicitly into operations.
type Actor struct {
	UserID UserID
	Role   string
}

// IsZero reports whether no actor was supplied.
func (a Actor) IsZero() bool { return a.UserID == "" }

// =============================================================================
// CLIENT & CONTRACT
// =============================================================================

type Client struct {
	ID   ClientID
	Name string
}

type ContractStatus string

const (
	ContractActive     ContractStatus = "ativo"
	ContractSuspended  ContractStatus = "suspenso"
	ContractCancelled  ContractStatus = "cancelado"
	ContractTerminated ContractStatus = "encerrado"
)

type Contract struct {
	ID            ContractID
	Number        string
	ClientID      ClientID
	MonthlyFee    decimal.Decimal // valor_mensal
	IncludedHours decimal.Decimal // horas_inclusas
	ValidFrom     time.Time
	ValidTo       *time.Time
	Status        ContractStatus
}

// HourTier is a named category of billable hours with its own excess rate.
// Periods snapshot the rate at close time, so later edits never rewrite history.
type HourTier struct {
	ID         TierID
	ContractID ContractID
	Name       string
	ExcessRate decimal.Decimal // valor_hora_extra
}

// =============================================================================
// CONTRACT PERIOD
// =============================================================================

type PeriodStatus string

const (
	PeriodActive   PeriodStatus = "ativo"
	PeriodClosed   PeriodStatus = "fechado"
	PeriodInvoiced PeriodStatus = "faturado"
)

// ContractPeriod is one calendar month of a contract.
// Exactly one period per contract is active at a time; closed and invoiced
// are reached once each and never left.
type ContractPeriod struct {
	ID            PeriodID
	ContractID    ContractID
	Month         time.Time // first day of the month, UTC
	IncludedHours decimal.Decimal

	HoursUsed       decimal.Decimal // total_horas_usadas
	ExcessHours     decimal.Decimal // horas_excedentes
	OrderCount      int             // total_os
	ExcessAmount    decimal.Decimal // valor_horas_extras
	MaterialsAmount decimal.Decimal // valor_materiais
	TotalAmount     decimal.Decimal // valor_total

	Status     PeriodStatus
	ClosedAt   *time.Time
	ApprovedAt *time.Time
	ApprovedBy UserID
	InvoiceID  *InvoiceID
	CreatedAt  time.Time
}

// PeriodTierHours is the per-tier breakdown written when a period closes.
type PeriodTierHours struct {
	ID           string
	PeriodID     PeriodID
	TierID       TierID
	TierName     string
	Hours        decimal.Decimal
	Rate         decimal.Decimal // rate snapshot at close time
	ExcessAmount decimal.Decimal
}

// =============================================================================
// SERVICE ORDER
// =============================================================================

type ServiceOrderStatus string

const (
	OrderOpen       ServiceOrderStatus = "aberta"
	OrderInProgress ServiceOrderStatus = "em_andamento"
	OrderCompleted  ServiceOrderStatus = "concluida"
	OrderInvoiced   ServiceOrderStatus = "faturada"
	OrderPaid       ServiceOrderStatus = "paga"
)

type ServiceOrder struct {
	ID           ServiceOrderID
	Number       int
	ClientID     ClientID
	ClientName   string
	TicketID     *TicketID
	ContractID   *ContractID
	Tier         TierRef
	TechnicianID *UserID
	Title        string
	WorkedHours  decimal.Decimal
	MaterialCost decimal.Decimal
	LaborCost    decimal.Decimal
	TotalCost    decimal.Decimal
	StartedAt    time.Time // date of record for period attribution
	CreatedAt    time.Time
	Status       ServiceOrderStatus
}

// OpenedAt is the timestamp used when the order has no linked ticket.
func (o ServiceOrder) OpenedAt() time.Time {
	if !o.StartedAt.IsZero() {
		return o.StartedAt
	}
	return o.CreatedAt
}

// =============================================================================
// TICKET & INTERACTION
// =============================================================================

type TicketPriority string

const (
	PriorityLow    TicketPriority = "baixa"
	PriorityMedium TicketPriority = "media"
	PriorityHigh   TicketPriority = "alta"
	PriorityUrgent TicketPriority = "urgente"
)

type TicketStatus string

const (
	TicketOpen               TicketStatus = "aberto"
	TicketInProgress         TicketStatus = "em_andamento"
	TicketAwaitingClient     TicketStatus = "aguardando_cliente"
	TicketAwaitingThirdParty TicketStatus = "aguardando_terceiro"
	TicketClosed             TicketStatus = "fechado"
	TicketCancelled          TicketStatus = "cancelado"
)

type Ticket struct {
	ID           TicketID
	Number       int
	ClientID     ClientID
	ClientName   string
	Title        string
	Priority     TicketPriority
	Status       TicketStatus
	TechnicianID *UserID
	OpenedAt     time.Time
	SLAHours     *int // nil: default budget applies
}

type InteractionKind string

const (
	InteractionComment      InteractionKind = "comentario"
	InteractionInternalNote InteractionKind = "nota_interna"
	InteractionStatusChange InteractionKind = "mudanca_status"
)

type Interaction struct {
	ID        string
	TicketID  TicketID
	AuthorID  UserID
	Kind      InteractionKind
	Message   string
	CreatedAt time.Time
}

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pendente"
	InvoicePaid      InvoiceStatus = "paga"
	InvoiceCancelled InvoiceStatus = "cancelada"
)

type Invoice struct {
	ID          InvoiceID
	ClientID    ClientID
	ContractID  ContractID
	PeriodID    PeriodID
	Description string
	Amount      decimal.Decimal
	DueDate     time.Time
	Status      InvoiceStatus
	CreatedAt   time.Time
}

// =============================================================================
// ROLLOVER RUN - Audit record of the scheduled monthly sweep
// =============================================================================

type RolloverAction string

const (
	RolloverOpened  RolloverAction = "opened"
	RolloverClosed  RolloverAction = "closed"
	RolloverSkipped RolloverAction = "skipped"
)

type RolloverRun struct {
	ID          string
	ContractID  ContractID
	Month       time.Time
	Action      RolloverAction
	Status      string // completed, failed
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
