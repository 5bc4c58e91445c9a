/*
Package postgres provides a PostgreSQL-backed implementation of core.TxStore.

PURPOSE:
  Production persistence over a pgx connection pool. The schema mirrors
  store/sqlite table for table; money and hours are NUMERIC and timestamps
  are TIMESTAMPTZ.

ENCODING:
  Decimals travel as text both ways ($n::numeric on write, col::text on
  read) so no precision is lost through float conversions.

SEE ALSO:
  - core/store.go: Interface definitions
  - store/sqlite: Embedded equivalent
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/servicedesk/core"
)

// Store implements core.TxStore using PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ core.TxStore = (*Store)(nil)

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &Store{queries: queries{q: pool}, pool: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(queries{q: tx})
	})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE fechamento_execucoes, faturas, chamado_historico, chamados,
		ordens_servico, contrato_periodo_horas_tipo, contrato_periodos, contrato_tipos_hora,
		contratos, clientes`)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS clientes (
	id TEXT PRIMARY KEY,
	nome TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contratos (
	id TEXT PRIMARY KEY,
	numero TEXT NOT NULL,
	cliente_id TEXT NOT NULL,
	valor_mensal NUMERIC(14,2) NOT NULL,
	horas_inclusas NUMERIC(10,2) NOT NULL,
	data_inicio TIMESTAMPTZ NOT NULL,
	data_fim TIMESTAMPTZ,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contratos_status ON contratos(status);

CREATE TABLE IF NOT EXISTS contrato_tipos_hora (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL REFERENCES contratos(id),
	nome TEXT NOT NULL,
	valor_hora_extra NUMERIC(14,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS contrato_periodos (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL REFERENCES contratos(id),
	mes TIMESTAMPTZ NOT NULL,
	horas_inclusas NUMERIC NOT NULL,
	total_horas_usadas NUMERIC NOT NULL,
	horas_excedentes NUMERIC NOT NULL,
	total_os INTEGER NOT NULL DEFAULT 0,
	valor_horas_extras NUMERIC NOT NULL,
	valor_materiais NUMERIC NOT NULL,
	valor_total NUMERIC NOT NULL,
	status TEXT NOT NULL,
	fechado_em TIMESTAMPTZ,
	aprovado_em TIMESTAMPTZ,
	aprovado_por TEXT,
	fatura_id TEXT,
	criado_em TIMESTAMPTZ NOT NULL,
	UNIQUE (contrato_id, mes)
);

CREATE TABLE IF NOT EXISTS contrato_periodo_horas_tipo (
	id TEXT PRIMARY KEY,
	periodo_id TEXT NOT NULL REFERENCES contrato_periodos(id),
	tipo_hora_id TEXT NOT NULL,
	tipo_nome TEXT NOT NULL,
	horas NUMERIC NOT NULL,
	valor_hora NUMERIC NOT NULL,
	valor_excedente NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_horas_tipo_periodo ON contrato_periodo_horas_tipo(periodo_id);

CREATE TABLE IF NOT EXISTS ordens_servico (
	id TEXT PRIMARY KEY,
	numero INTEGER NOT NULL,
	cliente_id TEXT NOT NULL,
	chamado_id TEXT,
	contrato_id TEXT,
	tipo_hora_id TEXT,
	tecnico_id TEXT,
	titulo TEXT NOT NULL DEFAULT '',
	horas_trabalhadas NUMERIC NOT NULL,
	custo_materiais NUMERIC NOT NULL,
	custo_mao_obra NUMERIC NOT NULL,
	custo_total NUMERIC NOT NULL,
	data_inicio TIMESTAMPTZ NOT NULL,
	criado_em TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_os_cliente_inicio ON ordens_servico(cliente_id, data_inicio);
CREATE INDEX IF NOT EXISTS idx_os_tecnico_status ON ordens_servico(tecnico_id, status);

CREATE TABLE IF NOT EXISTS chamados (
	id TEXT PRIMARY KEY,
	numero INTEGER NOT NULL,
	cliente_id TEXT NOT NULL,
	titulo TEXT NOT NULL DEFAULT '',
	prioridade TEXT NOT NULL,
	status TEXT NOT NULL,
	tecnico_id TEXT,
	aberto_em TIMESTAMPTZ NOT NULL,
	sla_horas INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chamados_tecnico_status ON chamados(tecnico_id, status);

CREATE TABLE IF NOT EXISTS chamado_historico (
	id TEXT PRIMARY KEY,
	chamado_id TEXT NOT NULL REFERENCES chamados(id),
	autor_id TEXT NOT NULL,
	tipo TEXT NOT NULL,
	mensagem TEXT NOT NULL,
	criado_em TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_historico_chamado_data ON chamado_historico(chamado_id, criado_em DESC);

CREATE TABLE IF NOT EXISTS faturas (
	id TEXT PRIMARY KEY,
	cliente_id TEXT NOT NULL,
	contrato_id TEXT NOT NULL,
	periodo_id TEXT NOT NULL,
	descricao TEXT NOT NULL,
	valor NUMERIC(14,2) NOT NULL,
	vencimento TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	criado_em TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_faturas_periodo ON faturas(periodo_id);

CREATE TABLE IF NOT EXISTS fechamento_execucoes (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL,
	mes TIMESTAMPTZ NOT NULL,
	acao TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	erro TEXT NOT NULL DEFAULT '',
	iniciado_em TIMESTAMPTZ NOT NULL,
	concluido_em TIMESTAMPTZ
);
`

// =============================================================================
// HELPERS
// =============================================================================

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// numeric is a decimal read back as text.
type numeric struct {
	dst *decimal.Decimal
	raw string
}

func num(dst *decimal.Decimal) *numeric { return &numeric{dst: dst} }

// parseNumerics fills every numeric's destination from its raw text.
func parseNumerics(ns ...*numeric) error {
	for _, n := range ns {
		d, err := decimal.NewFromString(n.raw)
		if err != nil {
			return fmt.Errorf("bad numeric %q: %w", n.raw, err)
		}
		*n.dst = d
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
