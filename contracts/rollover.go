package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/servicedesk/core"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Roller is the monthly sweep: for every active contract it makes sure the
// current month has a period and closes last month's period if still active.
// Re-running it in the same month is a no-op.
type Roller struct {
	Engine *Engine
}

func NewRoller(engine *Engine) *Roller {
	return &Roller{Engine: engine}
}

// RolloverSummary counts what one sweep did.
type RolloverSummary struct {
	Month     time.Time
	Contracts int
	Opened    int
	Closed    int
	Skipped   int
	Failed    int
	Runs      []core.RolloverRun
}

// Run sweeps all active contracts. A contract that fails is recorded and
// logged; the others are still processed and all failures are returned
// joined.
func (r *Roller) Run(ctx context.Context) (*RolloverSummary, error) {
	e := r.Engine
	now := e.Clock.Now()
	summary := &RolloverSummary{Month: core.StartOfMonth(now)}

	active, err := e.Store.ListContracts(ctx, core.ContractFilter{Status: core.ContractActive})
	if err != nil {
		return nil, fmt.Errorf("listing active contracts: %w", err)
	}
	summary.Contracts = len(active)

	var errs []error
	for _, contract := range active {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		run := core.RolloverRun{
			ID:         uuid.NewString(),
			ContractID: contract.ID,
			Month:      summary.Month,
			Status:     RunRunning,
			StartedAt:  e.Clock.Now(),
		}
		if err := e.Store.SaveRolloverRun(ctx, run); err != nil {
			e.Log.Warn().Err(err).Str("contract_id", string(contract.ID)).Msg("could not record rollover run")
		}

		action, err := r.rollContract(ctx, contract, now)
		completed := e.Clock.Now()
		run.Action = action
		run.CompletedAt = &completed
		if err != nil {
			run.Status = RunFailed
			run.Error = err.Error()
			summary.Failed++
			errs = append(errs, fmt.Errorf("contract %s: %w", contract.Number, err))
			e.Log.Error().Err(err).Str("contract_id", string(contract.ID)).Msg("rollover failed")
		} else {
			run.Status = RunCompleted
			switch action {
			case core.RolloverClosed:
				summary.Closed++
			case core.RolloverOpened:
				summary.Opened++
			default:
				summary.Skipped++
			}
		}

		if err := e.Store.SaveRolloverRun(ctx, run); err != nil {
			e.Log.Warn().Err(err).Str("contract_id", string(contract.ID)).Msg("could not record rollover run")
		}
		summary.Runs = append(summary.Runs, run)
	}

	e.Log.Info().
		Str("month", summary.Month.Format("2006-01")).
		Int("contracts", summary.Contracts).
		Int("opened", summary.Opened).
		Int("closed", summary.Closed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("rollover finished")

	return summary, errors.Join(errs...)
}

// rollContract reports the most significant thing done for one contract:
// closing last month beats opening this month beats nothing. Last month is
// closed before this month is opened; a failed close opens nothing.
func (r *Roller) rollContract(ctx context.Context, contract core.Contract, now time.Time) (core.RolloverAction, error) {
	closed, err := r.closePrevious(ctx, contract, now)
	if err != nil {
		return core.RolloverSkipped, err
	}

	opened := false
	if coversMonth(contract, now) {
		opened, err = r.ensurePeriod(ctx, contract, now)
		if err != nil {
			action := core.RolloverSkipped
			if closed {
				action = core.RolloverClosed
			}
			return action, fmt.Errorf("opening current period: %w", err)
		}
	}

	switch {
	case closed:
		return core.RolloverClosed, nil
	case opened:
		return core.RolloverOpened, nil
	}
	return core.RolloverSkipped, nil
}

// closePrevious closes last month's period if it is still active.
func (r *Roller) closePrevious(ctx context.Context, contract core.Contract, now time.Time) (bool, error) {
	e := r.Engine
	prev, err := e.Store.FindPeriod(ctx, contract.ID, core.PreviousMonth(now))
	if core.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading previous period: %w", err)
	}
	if prev.Status != core.PeriodActive {
		return false, nil
	}

	if _, err := e.closePeriod(ctx, *prev); err != nil {
		// closed concurrently by someone else
		if errors.Is(err, core.ErrInvalidStateTransition) {
			return false, nil
		}
		return false, fmt.Errorf("closing previous period: %w", err)
	}
	return true, nil
}

// ensurePeriod creates the active period for now's month if it is missing.
// A duplicate insert from a concurrent sweep counts as already present.
func (r *Roller) ensurePeriod(ctx context.Context, contract core.Contract, now time.Time) (bool, error) {
	e := r.Engine
	month := core.StartOfMonth(now)

	_, err := e.Store.FindPeriod(ctx, contract.ID, month)
	if err == nil {
		return false, nil
	}
	if !core.IsNotFound(err) {
		return false, err
	}

	err = e.Store.CreatePeriod(ctx, core.ContractPeriod{
		ID:              core.PeriodID(uuid.NewString()),
		ContractID:      contract.ID,
		Month:           month,
		IncludedHours:   contract.IncludedHours,
		HoursUsed:       decimal.Zero,
		ExcessHours:     decimal.Zero,
		ExcessAmount:    decimal.Zero,
		MaterialsAmount: decimal.Zero,
		TotalAmount:     decimal.Zero,
		Status:          core.PeriodActive,
		CreatedAt:       now,
	})
	if errors.Is(err, core.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.Log.Info().
		Str("contract_id", string(contract.ID)).
		Str("month", month.Format("2006-01")).
		Msg("period opened")
	return true, nil
}

// coversMonth reports whether the contract is valid at any point of now's month.
func coversMonth(c core.Contract, now time.Time) bool {
	window := core.MonthPeriod(now)
	if !c.ValidFrom.IsZero() && c.ValidFrom.After(window.End) {
		return false
	}
	if c.ValidTo != nil && c.ValidTo.Before(window.Start) {
		return false
	}
	return true
}
