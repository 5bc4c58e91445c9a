package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/servicedesk/core"
)

// DefaultOrderLimit bounds the service orders read for one period.
const DefaultOrderLimit = 5000

// InvoiceDueDays is the invoice due date offset from approval.
const InvoiceDueDays = 30

// Engine drives the period lifecycle: active → closed → invoiced.
type Engine struct {
	Store      core.TxStore
	Clock      core.Clock
	Log        zerolog.Logger
	OrderLimit int
}

// NewEngine creates an engine with the default order bound.
func NewEngine(store core.TxStore, clock core.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		Store:      store,
		Clock:      clock,
		Log:        log.With().Str("component", "contracts").Logger(),
		OrderLimit: DefaultOrderLimit,
	}
}

// CloseResult is a freshly closed period and how it was computed.
type CloseResult struct {
	Period         core.ContractPeriod
	TierHours      []core.PeriodTierHours
	Reconciliation Reconciliation
}

// ApprovalResult is an invoiced period and its invoice.
type ApprovalResult struct {
	Period         core.ContractPeriod
	Invoice        core.Invoice
	InvoicedOrders int
}

// =============================================================================
// CLOSE
// =============================================================================

// ClosePeriod reconciles an active period of contractID and freezes it.
// The period update and the tier rows are written in one transaction.
func (e *Engine) ClosePeriod(ctx context.Context, contractID core.ContractID, periodID core.PeriodID) (*CloseResult, error) {
	period, err := e.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading period: %w", err)
	}
	if period.ContractID != contractID {
		return nil, core.NewNotFound("period", fmt.Sprintf("%s of contract %s", periodID, contractID))
	}
	return e.closePeriod(ctx, *period)
}

func (e *Engine) closePeriod(ctx context.Context, period core.ContractPeriod) (*CloseResult, error) {
	if period.Status != core.PeriodActive {
		return nil, &core.InvalidStateTransitionError{
			PeriodID: period.ID,
			From:     period.Status,
			To:       core.PeriodClosed,
			Reason:   "only active periods can be closed",
		}
	}

	contract, err := e.Store.GetContract(ctx, period.ContractID)
	if err != nil {
		return nil, fmt.Errorf("loading contract: %w", err)
	}
	tiers, err := e.Store.ListHourTiers(ctx, contract.ID)
	if err != nil {
		return nil, fmt.Errorf("loading hour tiers: %w", err)
	}
	orders, err := e.monthOrders(ctx, e.Store, contract.ClientID, period.Month, nil)
	if err != nil {
		return nil, err
	}

	rec := Reconcile(ReconcileInput{Contract: *contract, Tiers: tiers, Orders: orders})
	now := e.Clock.Now()

	var result *CloseResult
	err = e.Store.WithTx(ctx, func(tx core.Store) error {
		current, err := tx.GetPeriod(ctx, period.ID)
		if err != nil {
			return err
		}
		if current.Status != core.PeriodActive {
			return &core.InvalidStateTransitionError{
				PeriodID: current.ID,
				From:     current.Status,
				To:       core.PeriodClosed,
				Reason:   "period changed while closing",
			}
		}

		closed := *current
		closed.HoursUsed = rec.TotalHours
		closed.ExcessHours = rec.ExcessHours
		closed.OrderCount = rec.OrderCount
		closed.ExcessAmount = rec.ExcessAmount
		closed.MaterialsAmount = rec.MaterialsAmount
		closed.TotalAmount = rec.TotalAmount
		closed.Status = core.PeriodClosed
		closed.ClosedAt = &now
		if err := tx.UpdatePeriod(ctx, closed); err != nil {
			return fmt.Errorf("updating period: %w", err)
		}

		rows := tierRows(closed.ID, rec)
		if len(rows) > 0 {
			if err := tx.InsertPeriodTierHours(ctx, rows); err != nil {
				return fmt.Errorf("writing tier hours: %w", err)
			}
		}

		result = &CloseResult{Period: closed, TierHours: rows, Reconciliation: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info().
		Str("contract_id", string(contract.ID)).
		Str("period_id", string(period.ID)).
		Str("month", period.Month.Format("2006-01")).
		Int("orders", rec.OrderCount).
		Str("hours_used", rec.TotalHours.String()).
		Str("excess_hours", rec.ExcessHours.String()).
		Str("total", rec.TotalAmount.StringFixed(core.MoneyPlaces)).
		Msg("period closed")

	return result, nil
}

// tierRows builds one row per defined tier with nonzero hours, snapshotting
// the tier's name and rate.
func tierRows(periodID core.PeriodID, rec Reconciliation) []core.PeriodTierHours {
	var rows []core.PeriodTierHours
	for _, tb := range rec.Tiers {
		if tb.Hours.IsZero() {
			continue
		}
		rows = append(rows, core.PeriodTierHours{
			ID:           uuid.NewString(),
			PeriodID:     periodID,
			TierID:       tb.Tier.ID,
			TierName:     tb.Tier.Name,
			Hours:        tb.Hours,
			Rate:         tb.Tier.ExcessRate,
			ExcessAmount: tb.ExcessAmount,
		})
	}
	return rows
}

// monthOrders reads the client's orders started within month. A read that
// would exceed the bound fails rather than under-billing.
func (e *Engine) monthOrders(ctx context.Context, s core.OrderStore, clientID core.ClientID, month time.Time, statuses []core.ServiceOrderStatus) ([]core.ServiceOrder, error) {
	limit := core.LimitOr(e.OrderLimit, DefaultOrderLimit)
	window := core.MonthPeriod(month)

	orders, err := s.ListServiceOrders(ctx, core.OrderFilter{
		ClientID:    clientID,
		Statuses:    statuses,
		StartedFrom: &window.Start,
		StartedTo:   &window.End,
		Limit:       limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("loading service orders: %w", err)
	}
	if len(orders) > limit {
		return nil, fmt.Errorf("%w: more than %d service orders for client %s in %s",
			core.ErrRowLimitExceeded, limit, clientID, month.Format("2006-01"))
	}
	return orders, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// ApprovePeriod invoices a closed period. The invoice, the order status flip
// and the period update commit together, so a period is invoiced at most once.
func (e *Engine) ApprovePeriod(ctx context.Context, periodID core.PeriodID, actor core.Actor) (*ApprovalResult, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("approving period %s: %w", periodID, core.ErrUnauthenticated)
	}
	now := e.Clock.Now()

	var result *ApprovalResult
	err := e.Store.WithTx(ctx, func(tx core.Store) error {
		period, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status != core.PeriodClosed || period.ApprovedAt != nil {
			reason := "only closed periods can be approved"
			if period.ApprovedAt != nil {
				reason = "period already approved"
			}
			return &core.InvalidStateTransitionError{
				PeriodID: period.ID,
				From:     period.Status,
				To:       core.PeriodInvoiced,
				Reason:   reason,
			}
		}

		contract, err := tx.GetContract(ctx, period.ContractID)
		if err != nil {
			return fmt.Errorf("loading contract: %w", err)
		}

		invoice := core.Invoice{
			ID:          core.InvoiceID(uuid.NewString()),
			ClientID:    contract.ClientID,
			ContractID:  contract.ID,
			PeriodID:    period.ID,
			Description: fmt.Sprintf("Contrato %s - %s", contract.Number, core.MonthLabel(period.Month)),
			Amount:      period.TotalAmount,
			DueDate:     now.AddDate(0, 0, InvoiceDueDays),
			Status:      core.InvoicePending,
			CreatedAt:   now,
		}
		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			return fmt.Errorf("creating invoice: %w", err)
		}

		completed, err := e.monthOrders(ctx, tx, contract.ClientID, period.Month, []core.ServiceOrderStatus{core.OrderCompleted})
		if err != nil {
			return err
		}
		ids := make([]core.ServiceOrderID, 0, len(completed))
		for _, o := range completed {
			ids = append(ids, o.ID)
		}
		if len(ids) > 0 {
			if err := tx.SetServiceOrderStatus(ctx, ids, core.OrderInvoiced); err != nil {
				return fmt.Errorf("invoicing service orders: %w", err)
			}
		}

		approved := *period
		approved.ApprovedAt = &now
		approved.ApprovedBy = actor.UserID
		approved.InvoiceID = &invoice.ID
		approved.Status = core.PeriodInvoiced
		if err := tx.UpdatePeriod(ctx, approved); err != nil {
			return fmt.Errorf("updating period: %w", err)
		}

		result = &ApprovalResult{Period: approved, Invoice: invoice, InvoicedOrders: len(ids)}
		return nil
	})
	if err != nil {
		if !errors.Is(err, core.ErrInvalidStateTransition) && !core.IsNotFound(err) {
			e.Log.Error().Err(err).Str("period_id", string(periodID)).Msg("approval failed")
		}
		return nil, err
	}

	e.Log.Info().
		Str("period_id", string(periodID)).
		Str("invoice_id", string(result.Invoice.ID)).
		Str("approved_by", string(actor.UserID)).
		Str("amount", result.Invoice.Amount.StringFixed(core.MoneyPlaces)).
		Int("orders", result.InvoicedOrders).
		Msg("period approved")

	return result, nil
}
