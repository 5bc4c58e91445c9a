package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/servicedesk/core"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries implements core.Store over a querier.
type queries struct {
	q querier
}

// where accumulates AND-ed conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) in(column string, values []string, negate bool) {
	if len(values) == 0 {
		return
	}
	op := "IN"
	if negate {
		op = "NOT IN"
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	w.add(fmt.Sprintf("%s %s (%s)", column, op, placeholders(len(values))), args...)
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
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO clientes (id, nome) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET nome = excluded.nome`,
		c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (s queries) SaveContract(ctx context.Context, c core.Contract) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contratos (id, numero, cliente_id, valor_mensal, horas_inclusas, data_inicio, data_fim, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			numero = excluded.numero,
			cliente_id = excluded.cliente_id,
			valor_mensal = excluded.valor_mensal,
			horas_inclusas = excluded.horas_inclusas,
			data_inicio = excluded.data_inicio,
			data_fim = excluded.data_fim,
			status = excluded.status`,
		c.ID, c.Number, c.ClientID, c.MonthlyFee, c.IncludedHours,
		fmtTime(c.ValidFrom), fmtNullTime(c.ValidTo), c.Status)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

const contractColumns = `id, numero, cliente_id, valor_mensal, horas_inclusas, data_inicio, data_fim, status`

func scanContract(row scanner) (core.Contract, error) {
	var c core.Contract
	err := row.Scan(&c.ID, &c.Number, &c.ClientID, &c.MonthlyFee, &c.IncludedHours,
		timeText{&c.ValidFrom}, nullTimeText{&c.ValidTo}, &c.Status)
	return c, err
}

func (s queries) GetContract(ctx context.Context, id core.ContractID) (*core.Contract, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contratos WHERE id = ?`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		w.add("status = ?", f.Status)
	}
	if f.ClientID != "" {
		w.add("cliente_id = ?", f.ClientID)
	}
	w.args = append(w.args, core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.QueryContext(ctx, `SELECT `+contractColumns+` FROM contratos`+w.String()+` ORDER BY numero LIMIT ?`, w.args...)
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
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contrato_tipos_hora (id, contrato_id, nome, valor_hora_extra) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contrato_id = excluded.contrato_id,
			nome = excluded.nome,
			valor_hora_extra = excluded.valor_hora_extra`,
		t.ID, t.ContractID, t.Name, t.ExcessRate)
	if err != nil {
		return fmt.Errorf("failed to save hour tier: %w", err)
	}
	return nil
}

func (s queries) ListHourTiers(ctx context.Context, contractID core.ContractID) ([]core.HourTier, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contrato_id, nome, valor_hora_extra
		FROM contrato_tipos_hora WHERE contrato_id = ? ORDER BY nome`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hour tiers: %w", err)
	}
	defer rows.Close()

	var out []core.HourTier
	for rows.Next() {
		var t core.HourTier
		if err := rows.Scan(&t.ID, &t.ContractID, &t.Name, &t.ExcessRate); err != nil {
			return nil, fmt.Errorf("failed to scan hour tier: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// PERIODS
// =============================================================================

const periodColumns = `id, contrato_id, mes, horas_inclusas, total_horas_usadas, horas_excedentes, total_os,
	valor_horas_extras, valor_materiais, valor_total, status, fechado_em, aprovado_em, aprovado_por,
	fatura_id, criado_em`

func scanPeriod(row scanner) (core.ContractPeriod, error) {
	var (
		p          core.ContractPeriod
		approvedBy sql.NullString
	)
	err := row.Scan(&p.ID, &p.ContractID, timeText{&p.Month}, &p.IncludedHours, &p.HoursUsed,
		&p.ExcessHours, &p.OrderCount, &p.ExcessAmount, &p.MaterialsAmount, &p.TotalAmount,
		&p.Status, nullTimeText{&p.ClosedAt}, nullTimeText{&p.ApprovedAt}, &approvedBy,
		&p.InvoiceID, timeText{&p.CreatedAt})
	p.ApprovedBy = core.UserID(approvedBy.String)
	return p, err
}

func (s queries) CreatePeriod(ctx context.Context, p core.ContractPeriod) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO contrato_periodos (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, fmtTime(core.StartOfMonth(p.Month)), p.IncludedHours, p.HoursUsed,
		p.ExcessHours, p.OrderCount, p.ExcessAmount, p.MaterialsAmount, p.TotalAmount,
		p.Status, fmtNullTime(p.ClosedAt), fmtNullTime(p.ApprovedAt), nullString(string(p.ApprovedBy)),
		p.InvoiceID, fmtTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return core.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

func (s queries) UpdatePeriod(ctx context.Context, p core.ContractPeriod) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contrato_periodos SET
			horas_inclusas = ?, total_horas_usadas = ?, horas_excedentes = ?, total_os = ?,
			valor_horas_extras = ?, valor_materiais = ?, valor_total = ?, status = ?,
			fechado_em = ?, aprovado_em = ?, aprovado_por = ?, fatura_id = ?
		WHERE id = ?`,
		p.IncludedHours, p.HoursUsed, p.ExcessHours, p.OrderCount,
		p.ExcessAmount, p.MaterialsAmount, p.TotalAmount, p.Status,
		fmtNullTime(p.ClosedAt), fmtNullTime(p.ApprovedAt), nullString(string(p.ApprovedBy)), p.InvoiceID,
		p.ID)
	if err != nil {
		return fmt.Errorf("failed to update period: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewNotFound("period", p.ID)
	}
	return nil
}

func (s queries) GetPeriod(ctx context.Context, id core.PeriodID) (*core.ContractPeriod, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM contrato_periodos WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFound("period", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	return &p, nil
}

func (s queries) FindPeriod(ctx context.Context, contractID core.ContractID, month time.Time) (*core.ContractPeriod, error) {
	month = core.StartOfMonth(month)
	row := s.q.QueryRowContext(ctx, `SELECT `+periodColumns+` FROM contrato_periodos
		WHERE contrato_id = ? AND mes = ?`, contractID, fmtTime(month))
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFound("period", string(contractID)+"@"+month.Format("2006-01"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load period: %w", err)
	}
	return &p, nil
}

func (s queries) ListPeriods(ctx context.Context, contractID core.ContractID) ([]core.ContractPeriod, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+periodColumns+` FROM contrato_periodos
		WHERE contrato_id = ? ORDER BY mes DESC`, contractID)
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
	for _, r := range rows {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO contrato_periodo_horas_tipo
				(id, periodo_id, tipo_hora_id, tipo_nome, horas, valor_hora, valor_excedente)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.PeriodID, r.TierID, r.TierName, r.Hours, r.Rate, r.ExcessAmount)
		if err != nil {
			return fmt.Errorf("failed to insert tier hours: %w", err)
		}
	}
	return nil
}

func (s queries) ListPeriodTierHours(ctx context.Context, periodID core.PeriodID) ([]core.PeriodTierHours, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, periodo_id, tipo_hora_id, tipo_nome, horas, valor_hora, valor_excedente
		FROM contrato_periodo_horas_tipo WHERE periodo_id = ? ORDER BY tipo_nome`, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier hours: %w", err)
	}
	defer rows.Close()

	var out []core.PeriodTierHours
	for rows.Next() {
		var r core.PeriodTierHours
		if err := rows.Scan(&r.ID, &r.PeriodID, &r.TierID, &r.TierName, &r.Hours, &r.Rate, &r.ExcessAmount); err != nil {
			return nil, fmt.Errorf("failed to scan tier hours: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SERVICE ORDERS
// =============================================================================

func (s queries) SaveServiceOrder(ctx context.Context, o core.ServiceOrder) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ordens_servico (id, numero, cliente_id, chamado_id, contrato_id, tipo_hora_id, tecnico_id,
			titulo, horas_trabalhadas, custo_materiais, custo_mao_obra, custo_total, data_inicio, criado_em, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			numero = excluded.numero,
			cliente_id = excluded.cliente_id,
			chamado_id = excluded.chamado_id,
			contrato_id = excluded.contrato_id,
			tipo_hora_id = excluded.tipo_hora_id,
			tecnico_id = excluded.tecnico_id,
			titulo = excluded.titulo,
			horas_trabalhadas = excluded.horas_trabalhadas,
			custo_materiais = excluded.custo_materiais,
			custo_mao_obra = excluded.custo_mao_obra,
			custo_total = excluded.custo_total,
			data_inicio = excluded.data_inicio,
			status = excluded.status`,
		o.ID, o.Number, o.ClientID, o.TicketID, o.ContractID, tierArg(o.Tier), o.TechnicianID,
		o.Title, o.WorkedHours, o.MaterialCost, o.LaborCost, o.TotalCost,
		fmtTime(o.StartedAt), fmtTime(o.CreatedAt), o.Status)
	if err != nil {
		return fmt.Errorf("failed to save service order: %w", err)
	}
	return nil
}

func tierArg(r core.TierRef) sql.NullString {
	return sql.NullString{String: string(r.ID), Valid: r.Valid}
}

func (s queries) ListServiceOrders(ctx context.Context, f core.OrderFilter) ([]core.ServiceOrder, error) {
	var w where
	w.in("o.id", stringsOf(f.IDs), false)
	if f.ClientID != "" {
		w.add("o.cliente_id = ?", f.ClientID)
	}
	if f.TechnicianID != "" {
		w.add("o.tecnico_id = ?", f.TechnicianID)
	}
	w.in("o.status", stringsOf(f.Statuses), false)
	if f.StartedFrom != nil {
		w.add("o.data_inicio >= ?", fmtTime(*f.StartedFrom))
	}
	if f.StartedTo != nil {
		w.add("o.data_inicio <= ?", fmtTime(*f.StartedTo))
	}
	w.args = append(w.args, core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.QueryContext(ctx, `
		SELECT o.id, o.numero, o.cliente_id, COALESCE(c.nome, ''), o.chamado_id, o.contrato_id,
			o.tipo_hora_id, o.tecnico_id, o.titulo, o.horas_trabalhadas, o.custo_materiais,
			o.custo_mao_obra, o.custo_total, o.data_inicio, o.criado_em, o.status
		FROM ordens_servico o
		LEFT JOIN clientes c ON c.id = o.cliente_id`+w.String()+`
		ORDER BY o.data_inicio, o.numero
		LIMIT ?`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query service orders: %w", err)
	}
	defer rows.Close()

	var out []core.ServiceOrder
	for rows.Next() {
		var (
			o    core.ServiceOrder
			tier sql.NullString
		)
		err := rows.Scan(&o.ID, &o.Number, &o.ClientID, &o.ClientName, &o.TicketID, &o.ContractID,
			&tier, &o.TechnicianID, &o.Title, &o.WorkedHours, &o.MaterialCost,
			&o.LaborCost, &o.TotalCost, timeText{&o.StartedAt}, timeText{&o.CreatedAt}, &o.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service order: %w", err)
		}
		if tier.Valid {
			o.Tier = core.Tier(core.TierID(tier.String))
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s queries) SetServiceOrderStatus(ctx context.Context, ids []core.ServiceOrderID, status core.ServiceOrderStatus) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{status}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE ordens_servico SET status = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to update service orders: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) != len(ids) {
		return core.NewNotFound("service order", fmt.Sprintf("%d of %d", len(ids)-int(n), len(ids)))
	}
	return nil
}

// =============================================================================
// TICKETS & INTERACTIONS
// =============================================================================

func (s queries) SaveTicket(ctx context.Context, t core.Ticket) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chamados (id, numero, cliente_id, titulo, prioridade, status, tecnico_id, aberto_em, sla_horas)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			numero = excluded.numero,
			cliente_id = excluded.cliente_id,
			titulo = excluded.titulo,
			prioridade = excluded.prioridade,
			status = excluded.status,
			tecnico_id = excluded.tecnico_id,
			aberto_em = excluded.aberto_em,
			sla_horas = excluded.sla_horas`,
		t.ID, t.Number, t.ClientID, t.Title, t.Priority, t.Status, t.TechnicianID,
		fmtTime(t.OpenedAt), t.SLAHours)
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
	var t core.Ticket
	err := row.Scan(&t.ID, &t.Number, &t.ClientID, &t.ClientName, &t.Title, &t.Priority, &t.Status,
		&t.TechnicianID, timeText{&t.OpenedAt}, &t.SLAHours)
	return t, err
}

func (s queries) GetTicket(ctx context.Context, id core.TicketID) (*core.Ticket, error) {
	t, err := scanTicket(s.q.QueryRowContext(ctx, ticketSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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
		w.add("(t.tecnico_id = ? OR t.tecnico_id IS NULL)", f.AssignedTo)
	case f.AssignedTo != "":
		w.add("t.tecnico_id = ?", f.AssignedTo)
	case f.IncludeUnassigned:
		w.add("t.tecnico_id IS NULL")
	}
	w.in("t.status", stringsOf(f.ExcludeStatuses), true)
	if f.ClientID != "" {
		w.add("t.cliente_id = ?", f.ClientID)
	}
	w.args = append(w.args, core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.QueryContext(ctx, ticketSelect+w.String()+` ORDER BY t.aberto_em, t.numero LIMIT ?`, w.args...)
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
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chamado_historico (id, chamado_id, autor_id, tipo, mensagem, criado_em)
		VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.TicketID, i.AuthorID, i.Kind, i.Message, fmtTime(i.CreatedAt))
	if isForeignKeyViolation(err) {
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

	source := `chamado_historico` + w.String()
	if f.PerTicket > 0 {
		source = `(
			SELECT *, ROW_NUMBER() OVER (PARTITION BY chamado_id ORDER BY criado_em DESC, id) AS pos
			FROM chamado_historico` + w.String() + `
		) WHERE pos <= ?`
		w.args = append(w.args, f.PerTicket)
	}
	w.args = append(w.args, core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, chamado_id, autor_id, tipo, mensagem, criado_em
		FROM `+source+`
		ORDER BY criado_em DESC
		LIMIT ?`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []core.Interaction
	for rows.Next() {
		var i core.Interaction
		if err := rows.Scan(&i.ID, &i.TicketID, &i.AuthorID, &i.Kind, &i.Message, timeText{&i.CreatedAt}); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

func (s queries) CreateInvoice(ctx context.Context, inv core.Invoice) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO faturas (id, cliente_id, contrato_id, periodo_id, descricao, valor, vencimento, status, criado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ClientID, inv.ContractID, inv.PeriodID, inv.Description, inv.Amount,
		fmtTime(inv.DueDate), inv.Status, fmtTime(inv.CreatedAt))
	if isUniqueViolation(err) {
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
		w.add("cliente_id = ?", f.ClientID)
	}
	if f.PeriodID != "" {
		w.add("periodo_id = ?", f.PeriodID)
	}
	w.args = append(w.args, core.LimitOr(f.Limit, core.DefaultListLimit))

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, cliente_id, contrato_id, periodo_id, descricao, valor, vencimento, status, criado_em
		FROM faturas`+w.String()+`
		ORDER BY criado_em DESC, id
		LIMIT ?`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []core.Invoice
	for rows.Next() {
		var inv core.Invoice
		err := rows.Scan(&inv.ID, &inv.ClientID, &inv.ContractID, &inv.PeriodID, &inv.Description,
			&inv.Amount, timeText{&inv.DueDate}, &inv.Status, timeText{&inv.CreatedAt})
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS
// =============================================================================

func (s queries) SaveRolloverRun(ctx context.Context, r core.RolloverRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO fechamento_execucoes (id, contrato_id, mes, acao, status, erro, iniciado_em, concluido_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			acao = excluded.acao,
			status = excluded.status,
			erro = excluded.erro,
			concluido_em = excluded.concluido_em`,
		r.ID, r.ContractID, fmtTime(r.Month), r.Action, r.Status, r.Error,
		fmtTime(r.StartedAt), fmtNullTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to save rollover run: %w", err)
	}
	return nil
}

func (s queries) ListRolloverRuns(ctx context.Context, limit int) ([]core.RolloverRun, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contrato_id, mes, acao, status, erro, iniciado_em, concluido_em
		FROM fechamento_execucoes
		ORDER BY iniciado_em DESC
		LIMIT ?`, core.LimitOr(limit, core.DefaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query rollover runs: %w", err)
	}
	defer rows.Close()

	var out []core.RolloverRun
	for rows.Next() {
		var r core.RolloverRun
		err := rows.Scan(&r.ID, &r.ContractID, timeText{&r.Month}, &r.Action, &r.Status, &r.Error,
			timeText{&r.StartedAt}, nullTimeText{&r.CompletedAt})
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollover run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
