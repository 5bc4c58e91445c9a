package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/warp/servicedesk/core"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries implements core.Store over a querier.
type queries struct {
	q querier
}

// where accumulates AND-ed conditions and numbers their placeholders.
type where struct {
	conds []string
	args  []any
}

// arg registers v and returns its placeholder.
func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) in(column string, values []string, negate bool) {
	if len(values) == 0 {
		return
	}
	if negate {
		w.add(column + " <> ALL(" + w.arg(values) + ")")
		return
	}
	w.add(column + " = ANY(" + w.arg(values) + ")")
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// =============================================================================
// CLIENTS & CONTRACTS
// =============================================================================

func (s queries) SaveClient(ctx context.Context, c core.Client) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO clientes (id, nome) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET nome = EXCLUDED.nome`,
		string(c.ID), c.Name)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (s queries) SaveContract(ctx context.Context, c core.Contract) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO contratos (id, numero, cliente_id, valor_mensal, horas_inclusas, data_inicio, data_fim, status)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			numero = EXCLUDED.numero,
			cliente_id = EXCLUDED.cliente_id,
			valor_mensal = EXCLUDED.valor_mensal,
			horas_inclusas = EXCLUDED.horas_inclusas,
			data_inicio = EXCLUDED.data_inicio,
			data_fim = EXCLUDED.data_fim,
			status = EXCLUDED.status`,
		string(c.ID), c.Number, string(c.ClientID), c.MonthlyFee.String(), c.IncludedHours.String(),
		c.ValidFrom, c.ValidTo, string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

const contractColumns = `id, numero, cliente_id, valor_mensal::text, horas_inclusas::text, data_inicio, data_fim, status`

func scanContract(row scanner) (core.Contract, error) {
	var (
		c                  core.Contract
		id, client, status string
		validFrom          time.Time
		validTo            *time.Time
	)
	fee, hours := num(&c.MonthlyFee), num(&c.IncludedHours)
	if err := row.Scan(&id, &c.Number, &client, &fee.raw, &hours.raw, &validFrom, &validTo, &status); err != nil {
		return c, err
	}
	c.ID, c.ClientID, c.Status = core.ContractID(id), core.ClientID(client), core.ContractStatus(status)
	c.ValidFrom, c.ValidTo = utc(validFrom), utcPtr(validTo)
	if err := parseNumerics(fee, hours); err != nil {
		return c, err
	}
	return c, nil
}

func (s queries) GetContract(ctx context.Context, id core.ContractID) (*core.Contract, error) {
	c, err := scanContract(s.q.QueryRow(ctx, `SELECT `+contractColumns+` FROM contratos WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFound("contract", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	return &c, nil
}

func (s queries) ListContracts(ctx context.Context, f core.ContractFilter) ([]core.Contract, error) {
	var w where
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	if f.ClientID != "" {
		w.add("cliente_id = " + w.arg(string(f.ClientID)))
	}
	query := `SELECT ` + contractColumns + ` FROM contratos` + w.String()
	limit := w.arg(core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.Query(ctx, query+` ORDER BY numero LIMIT `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var out []core.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s queries) SaveHourTier(ctx context.Context, t core.HourTier) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO contrato_tipos_hora (id, contrato_id, nome, valor_hora_extra) VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (id) DO UPDATE SET
			contrato_id = EXCLUDED.contrato_id,
			nome = EXCLUDED.nome,
			valor_hora_extra = EXCLUDED.valor_hora_extra`,
		string(t.ID), string(t.ContractID), t.Name, t.ExcessRate.String())
	if err != nil {
		return fmt.Errorf("failed to save hour tier: %w", err)
	}
	return nil
}

func (s queries) ListHourTiers(ctx context.Context, contractID core.ContractID) ([]core.HourTier, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, contrato_id, nome, valor_hora_extra::text
		FROM contrato_tipos_hora WHERE contrato_id = $1 ORDER BY nome`, string(contractID))
	if err != nil {
		return nil, fmt.Errorf("failed to query hour tiers: %w", err)
	}
	defer rows.Close()

	var out []core.HourTier
	for rows.Next() {
		var (
			t            core.HourTier
			id, contract string
		)
		rate := num(&t.ExcessRate)
		if err := rows.Scan(&id, &contract, &t.Name, &rate.raw); err != nil {
			return nil, fmt.Errorf("failed to scan hour tier: %w", err)
		}
		if err := parseNumerics(rate); err != nil {
			return nil, err
		}
		t.ID, t.ContractID = core.TierID(id), core.ContractID(contract)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// PERIODS
// =============================================================================

const periodColumns = `id, contrato_id, mes, horas_inclusas::text, total_horas_usadas::text,
	horas_excedentes::text, total_os, valor_horas_extras::text, valor_materiais::text,
	valor_total::text, status, fechado_em, aprovado_em, aprovado_por, fatura_id, criado_em`

func scanPeriod(row scanner) (core.ContractPeriod, error) {
	var (
		p                    core.ContractPeriod
		id, contract, status string
		approvedBy, invoice  *string
		month, created       time.Time
		closedAt, approvedAt *time.Time
	)
	included, used, excess := num(&p.IncludedHours), num(&p.HoursUsed), num(&p.ExcessHours)
	excessAmt, mats, total := num(&p.ExcessAmount), num(&p.MaterialsAmount), num(&p.TotalAmount)
	err := row.Scan(&id, &contract, &month, &included.raw, &used.raw, &excess.raw, &p.OrderCount,
		&excessAmt.raw, &mats.raw, &total.raw, &status, &closedAt, &approvedAt, &approvedBy,
		&invoice, &created)
	if err != nil {
		return p, err
	}
	p.ID, p.ContractID, p.Status = core.PeriodID(id), core.ContractID(contract), core.PeriodStatus(status)
	p.Month, p.CreatedAt = utc(month), utc(created)
	p.ClosedAt, p.ApprovedAt = utcPtr(closedAt), utcPtr(approvedAt)
	if approvedBy != nil {
		p.ApprovedBy = core.UserID(*approvedBy)
	}
	if invoice != nil {
		inv := core.InvoiceID(*invoice)
		p.InvoiceID = &inv
	}
	if err := parseNumerics(included, used, excess, excessAmt, mats, total); err != nil {
		return p, err
	}
	return p, nil
}

func invoiceArg(id *core.InvoiceID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func (s queries) CreatePeriod(ctx context.Context, p core.ContractPeriod) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO contrato_periodos (id, contrato_id, mes, horas_inclusas, total_horas_usadas,
			horas_excedentes, total_os, valor_horas_extras, valor_materiais, valor_total, status,
			fechado_em, aprovado_em, aprovado_por, fatura_id, criado_em)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric,
			$10::numeric, $11, $12, $13, $14, $15, $16)`,
		string(p.ID), string(p.ContractID), core.StartOfMonth(p.Month), p.IncludedHours.String(),
		p.HoursUsed.String(), p.ExcessHours.String(), p.OrderCount, p.ExcessAmount.String(),
		p.MaterialsAmount.String(), p.TotalAmount.String(), string(p.Status), p.ClosedAt,
		p.ApprovedAt, nullString(string(p.ApprovedBy)), invoiceArg(p.InvoiceID), p.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return core.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

func (s queries) UpdatePeriod(ctx context.Context, p core.ContractPeriod) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE contrato_periodos SET
			horas_inclusas = $1::numeric, total_horas_usadas = $2::numeric, horas_excedentes = $3::numeric,
			total_os = $4, valor_horas_extras = $5::numeric, valor_materiais = $6::numeric,
			valor_total = $7::numeric, status = $8, fechado_em = $9, aprovado_em = $10,
			aprovado_por = $11, fatura_id = $12
		WHERE id = $13`,
		p.IncludedHours.String(), p.HoursUsed.String(), p.ExcessHours.String(), p.OrderCount,
		p.ExcessAmount.String(), p.MaterialsAmount.String(), p.TotalAmount.String(), string(p.Status),
		p.ClosedAt, p.ApprovedAt, nullString(string(p.ApprovedBy)), invoiceArg(p.InvoiceID),
		string(p.ID))
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NewNotFound("period", p.ID)
	}
	return nil
}

func (s queries) GetPeriod(ctx context.Context, id core.PeriodID) (*core.ContractPeriod, error) {
	p, err := scanPeriod(s.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM contrato_periodos WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFound("period", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	return &p, nil
}

func (s queries) FindPeriod(ctx context.Context, contractID core.ContractID, month time.Time) (*core.ContractPeriod, error) {
	month = core.StartOfMonth(month)
	p, err := scanPeriod(s.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM contrato_periodos
		WHERE contrato_id = $1 AND mes = $2`, string(contractID), month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFound("period", string(contractID)+"@"+month.Format("2006-01"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	return &p, nil
}

func (s queries) ListPeriods(ctx context.Context, contractID core.ContractID) ([]core.ContractPeriod, error) {
	rows, err := s.q.Query(ctx, `SELECT `+periodColumns+` FROM contrato_periodos
		WHERE contrato_id = $1 ORDER BY mes DESC`, string(contractID))
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []core.ContractPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s queries) InsertPeriodTierHours(ctx context.Context, rows []core.PeriodTierHours) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO contrato_periodo_horas_tipo
				(id, periodo_id, tipo_hora_id, tipo_nome, horas, valor_hora, valor_excedente)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric)`,
			r.ID, string(r.PeriodID), string(r.TierID), r.TierName,
			r.Hours.String(), r.Rate.String(), r.ExcessAmount.String())
	}
	results := s.sendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert tier hours: %w", err)
		}
	}
	return nil
}

// batcher is implemented by both *pgxpool.Pool and pgx.Tx.
type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (s queries) sendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return s.q.(batcher).SendBatch(ctx, b)
}

func (s queries) ListPeriodTierHours(ctx context.Context, periodID core.PeriodID) ([]core.PeriodTierHours, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, periodo_id, tipo_hora_id, tipo_nome, horas::text, valor_hora::text, valor_excedente::text
		FROM contrato_periodo_horas_tipo WHERE periodo_id = $1 ORDER BY tipo_nome`, string(periodID))
	if err != nil {
		return nil, fmt.Errorf("failed to query tier hours: %w", err)
	}
	defer rows.Close()

	var out []core.PeriodTierHours
	for rows.Next() {
		var (
			r            core.PeriodTierHours
			period, tier string
		)
		hours, rate, excess := num(&r.Hours), num(&r.Rate), num(&r.ExcessAmount)
		if err := rows.Scan(&r.ID, &period, &tier, &r.TierName, &hours.raw, &rate.raw, &excess.raw); err != nil {
			return nil, fmt.Errorf("failed to scan tier hours: %w", err)
		}
		if err := parseNumerics(hours, rate, excess); err != nil {
			return nil, err
		}
		r.PeriodID, r.TierID = core.PeriodID(period), core.TierID(tier)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SERVICE ORDERS
// =============================================================================

func optString[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func optTyped[T ~string](p *string) *T {
	if p == nil {
		return nil
	}
	v := T(*p)
	return &v
}

func (s queries) SaveServiceOrder(ctx context.Context, o core.ServiceOrder) error {
	var tier *string
	if o.Tier.Valid {
		tier = optString(&o.Tier.ID)
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO ordens_servico (id, numero, cliente_id, chamado_id, contrato_id, tipo_hora_id, tecnico_id,
			titulo, horas_trabalhadas, custo_materiais, custo_mao_obra, custo_total, data_inicio, criado_em, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			numero = EXCLUDED.numero,
			cliente_id = EXCLUDED.cliente_id,
			chamado_id = EXCLUDED.chamado_id,
			contrato_id = EXCLUDED.contrato_id,
			tipo_hora_id = EXCLUDED.tipo_hora_id,
			tecnico_id = EXCLUDED.tecnico_id,
			titulo = EXCLUDED.titulo,
			horas_trabalhadas = EXCLUDED.horas_trabalhadas,
			custo_materiais = EXCLUDED.custo_materiais,
			custo_mao_obra = EXCLUDED.custo_mao_obra,
			custo_total = EXCLUDED.custo_total,
			data_inicio = EXCLUDED.data_inicio,
			status = EXCLUDED.status`,
		string(o.ID), o.Number, string(o.ClientID), optString(o.TicketID), optString(o.ContractID),
		tier, optString(o.TechnicianID), o.Title, o.WorkedHours.String(), o.MaterialCost.String(),
		o.LaborCost.String(), o.TotalCost.String(), o.StartedAt, o.CreatedAt, string(o.Status))
	if err != nil {
		return fmt.Errorf("failed to save service order: %w", err)
	}
	return nil
}

func (s queries) ListServiceOrders(ctx context.Context, f core.OrderFilter) ([]core.ServiceOrder, error) {
	var w where
	w.in("o.id", stringsOf(f.IDs), false)
	if f.ClientID != "" {
		w.add("o.cliente_id = " + w.arg(string(f.ClientID)))
	}
	if f.TechnicianID != "" {
		w.add("o.tecnico_id = " + w.arg(string(f.TechnicianID)))
	}
	w.in("o.status", stringsOf(f.Statuses), false)
	if f.StartedFrom != nil {
		w.add("o.data_inicio >= " + w.arg(*f.StartedFrom))
	}
	if f.StartedTo != nil {
		w.add("o.data_inicio <= " + w.arg(*f.StartedTo))
	}
	query := `
		SELECT o.id, o.numero, o.cliente_id, COALESCE(c.nome, ''), o.chamado_id, o.contrato_id,
			o.tipo_hora_id, o.tecnico_id, o.titulo, o.horas_trabalhadas::text, o.custo_materiais::text,
			o.custo_mao_obra::text, o.custo_total::text, o.data_inicio, o.criado_em, o.status
		FROM ordens_servico o
		LEFT JOIN clientes c ON c.id = o.cliente_id` + w.String()
	limit := w.arg(core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.Query(ctx, query+` ORDER BY o.data_inicio, o.numero LIMIT `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query service orders: %w", err)
	}
	defer rows.Close()

	var out []core.ServiceOrder
	for rows.Next() {
		var (
			o                            core.ServiceOrder
			id, client, status           string
			ticket, contract, tier, tech *string
			started, created             time.Time
		)
		worked, mats := num(&o.WorkedHours), num(&o.MaterialCost)
		labor, total := num(&o.LaborCost), num(&o.TotalCost)
		err := rows.Scan(&id, &o.Number, &client, &o.ClientName, &ticket, &contract, &tier, &tech,
			&o.Title, &worked.raw, &mats.raw, &labor.raw, &total.raw, &started, &created, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service order: %w", err)
		}
		if err := parseNumerics(worked, mats, labor, total); err != nil {
			return nil, err
		}
		o.ID, o.ClientID, o.Status = core.ServiceOrderID(id), core.ClientID(client), core.ServiceOrderStatus(status)
		o.TicketID = optTyped[core.TicketID](ticket)
		o.ContractID = optTyped[core.ContractID](contract)
		o.TechnicianID = optTyped[core.UserID](tech)
		if tier != nil {
			o.Tier = core.Tier(core.TierID(*tier))
		}
		o.StartedAt, o.CreatedAt = utc(started), utc(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s queries) SetServiceOrderStatus(ctx context.Context, ids []core.ServiceOrderID, status core.ServiceOrderStatus) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.q.Exec(ctx, `UPDATE ordens_servico SET status = $1 WHERE id = ANY($2)`,
		string(status), stringsOf(ids))
	if err != nil {
		return fmt.Errorf("failed to update service orders: %w", err)
	}
	if n := int(tag.RowsAffected()); n != len(ids) {
		return core.NewNotFound("service order", fmt.Sprintf("%d of %d", len(ids)-n, len(ids)))
	}
	return nil
}

// =============================================================================
// TICKETS & INTERACTIONS
// =============================================================================

func (s queries) SaveTicket(ctx context.Context, t core.Ticket) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO chamados (id, numero, cliente_id, titulo, prioridade, status, tecnico_id, aberto_em, sla_horas)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			numero = EXCLUDED.numero,
			cliente_id = EXCLUDED.cliente_id,
			titulo = EXCLUDED.titulo,
			prioridade = EXCLUDED.prioridade,
			status = EXCLUDED.status,
			tecnico_id = EXCLUDED.tecnico_id,
			aberto_em = EXCLUDED.aberto_em,
			sla_horas = EXCLUDED.sla_horas`,
		string(t.ID), t.Number, string(t.ClientID), t.Title, string(t.Priority), string(t.Status),
		optString(t.TechnicianID), t.OpenedAt, t.SLAHours)
	if err != nil {
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	return nil
}

const ticketSelect = `
	SELECT t.id, t.numero, t.cliente_id, COALESCE(c.nome, ''), t.titulo, t.prioridade, t.status,
		t.tecnico_id, t.aberto_em, t.sla_horas
	FROM chamados t
	LEFT JOIN clientes c ON c.id = t.cliente_id`

func scanTicket(row scanner) (core.Ticket, error) {
	var (
		t                            core.Ticket
		id, client, priority, status string
		tech                         *string
		opened                       time.Time
	)
	err := row.Scan(&id, &t.Number, &client, &t.ClientName, &t.Title, &priority, &status,
		&tech, &opened, &t.SLAHours)
	if err != nil {
		return t, err
	}
	t.ID, t.ClientID = core.TicketID(id), core.ClientID(client)
	t.Priority, t.Status = core.TicketPriority(priority), core.TicketStatus(status)
	t.TechnicianID = optTyped[core.UserID](tech)
	t.OpenedAt = utc(opened)
	return t, nil
}

func (s queries) GetTicket(ctx context.Context, id core.TicketID) (*core.Ticket, error) {
	t, err := scanTicket(s.q.QueryRow(ctx, ticketSelect+` WHERE t.id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFound("ticket", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return &t, nil
}

func (s queries) ListTickets(ctx context.Context, f core.TicketFilter) ([]core.Ticket, error) {
	var w where
	w.in("t.id", stringsOf(f.IDs), false)
	switch {
	case f.AssignedTo != "" && f.IncludeUnassigned:
		w.add("(t.tecnico_id = " + w.arg(string(f.AssignedTo)) + " OR t.tecnico_id IS NULL)")
	case f.AssignedTo != "":
		w.add("t.tecnico_id = " + w.arg(string(f.AssignedTo)))
	case f.IncludeUnassigned:
		w.add("t.tecnico_id IS NULL")
	}
	w.in("t.status", stringsOf(f.ExcludeStatuses), true)
	if f.ClientID != "" {
		w.add("t.cliente_id = " + w.arg(string(f.ClientID)))
	}
	query := ticketSelect + w.String()
	limit := w.arg(core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.Query(ctx, query+` ORDER BY t.aberto_em, t.numero LIMIT `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var out []core.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s queries) AppendInteraction(ctx context.Context, i core.Interaction) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO chamado_historico (id, chamado_id, autor_id, tipo, mensagem, criado_em)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, string(i.TicketID), string(i.AuthorID), string(i.Kind), i.Message, i.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return core.NewNotFound("ticket", i.TicketID)
	}
	if err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

func (s queries) ListInteractions(ctx context.Context, f core.InteractionFilter) ([]core.Interaction, error) {
	var w where
	w.in("chamado_id", stringsOf(f.TicketIDs), false)
	query := `SELECT id, chamado_id, autor_id, tipo, mensagem, criado_em FROM chamado_historico` + w.String()
	if f.PerTicket > 0 {
		query = `SELECT id, chamado_id, autor_id, tipo, mensagem, criado_em FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY chamado_id ORDER BY criado_em DESC, id) AS pos
			FROM chamado_historico` + w.String() + `
		) h WHERE pos <= ` + w.arg(f.PerTicket)
	}
	limit := w.arg(core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.Query(ctx, query+` ORDER BY criado_em DESC LIMIT `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []core.Interaction
	for rows.Next() {
		var (
			i                    core.Interaction
			ticket, author, kind string
			created              time.Time
		)
		if err := rows.Scan(&i.ID, &ticket, &author, &kind, &i.Message, &created); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		i.TicketID, i.AuthorID, i.Kind = core.TicketID(ticket), core.UserID(author), core.InteractionKind(kind)
		i.CreatedAt = utc(created)
		out = append(out, i)
	}
	return out, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s queries) CreateInvoice(ctx context.Context, inv core.Invoice) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO faturas (id, cliente_id, contrato_id, periodo_id, descricao, valor, vencimento, status, criado_em)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)`,
		string(inv.ID), string(inv.ClientID), string(inv.ContractID), string(inv.PeriodID),
		inv.Description, inv.Amount.String(), inv.DueDate, string(inv.Status), inv.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return core.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (s queries) ListInvoices(ctx context.Context, f core.InvoiceFilter) ([]core.Invoice, error) {
	var w where
	if f.ClientID != "" {
		w.add("cliente_id = " + w.arg(string(f.ClientID)))
	}
	if f.PeriodID != "" {
		w.add("periodo_id = " + w.arg(string(f.PeriodID)))
	}
	query := `SELECT id, cliente_id, contrato_id, periodo_id, descricao, valor::text, vencimento, status, criado_em
		FROM faturas` + w.String()
	limit := w.arg(core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.Query(ctx, query+` ORDER BY criado_em DESC, id LIMIT `+limit, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		var (
			inv                                  core.Invoice
			id, client, contract, period, status string
			due, created                         time.Time
		)
		amount := num(&inv.Amount)
		err := rows.Scan(&id, &client, &contract, &period, &inv.Description, &amount.raw, &due, &status, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if err := parseNumerics(amount); err != nil {
			return nil, err
		}
		inv.ID, inv.ClientID, inv.ContractID = core.InvoiceID(id), core.ClientID(client), core.ContractID(contract)
		inv.PeriodID, inv.Status = core.PeriodID(period), core.InvoiceStatus(status)
		inv.DueDate, inv.CreatedAt = utc(due), utc(created)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS
// =============================================================================

func (s queries) SaveRolloverRun(ctx context.Context, r core.RolloverRun) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO fechamento_execucoes (id, contrato_id, mes, acao, status, erro, iniciado_em, concluido_em)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			acao = EXCLUDED.acao,
			status = EXCLUDED.status,
			erro = EXCLUDED.erro,
			concluido_em = EXCLUDED.concluido_em`,
		r.ID, string(r.ContractID), r.Month, string(r.Action), r.Status, r.Error, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save rollover run: %w", err)
	}
	return nil
}

func (s queries) ListRolloverRuns(ctx context.Context, limit int) ([]core.RolloverRun, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, contrato_id, mes, acao, status, erro, iniciado_em, concluido_em
		FROM fechamento_execucoes
		ORDER BY iniciado_em DESC
		LIMIT $1`, core.LimitOr(limit, core.DefaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query rollover runs: %w", err)
	}
	defer rows.Close()

	var out []core.RolloverRun
	for rows.Next() {
		var (
			r                core.RolloverRun
			contract, action string
			month, started   time.Time
			completed        *time.Time
		)
		err := rows.Scan(&r.ID, &contract, &month, &action, &r.Status, &r.Error, &started, &completed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollover run: %w", err)
		}
		r.ContractID, r.Action = core.ContractID(contract), core.RolloverAction(action)
		r.Month, r.StartedAt, r.CompletedAt = utc(month), utc(started), utcPtr(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}
