package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/sessionguard/internal/ledger"
	"github.com/org/sessionguard/internal/sponsorship"
	"github.com/org/sessionguard/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL. It also serves as
// the spend ledger and the sponsored-total tracker when no Redis is configured.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// Ping checks connectivity for health endpoints.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Amount columns are BIGINT.
func toBigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, ledger.ErrAmountOutOfRange
	}
	return int64(v), nil
}

func optionalBigint(v *uint64) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	n, err := toBigint(*v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func fromOptionalBigint(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func addressesToStrings(in []models.Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = string(a)
	}
	return out
}

func selectorsToStrings(in []models.Selector) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func stringsToAddresses(in []string) []models.Address {
	out := make([]models.Address, len(in))
	for i, s := range in {
		out[i] = models.Address(s)
	}
	return out
}

func stringsToSelectors(in []string) []models.Selector {
	out := make([]models.Selector, len(in))
	for i, s := range in {
		out[i] = models.Selector(s)
	}
	return out
}

// --- Sessions ---

const sessionColumns = `id, owner, session_key_ref, allowed_contracts, allowed_methods,
	allow_all_contracts, allow_all_methods, per_tx_cap, daily_cap, ttl_seconds,
	created_at, expires_at, state, revoked_at, superseded_by`

func (p *PostgresBackend) CreateSession(ctx context.Context, g *models.SessionGrant) error {
	perTx, err := toBigint(g.Caps.PerTx)
	if err != nil {
		return err
	}
	daily, err := toBigint(g.Caps.Daily)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the owner's current pointer so concurrent opens serialize.
	var prevID *string
	err = tx.QueryRow(ctx,
		`SELECT session_id FROM owner_current_sessions WHERE owner = $1 FOR UPDATE`,
		string(g.Owner),
	).Scan(&prevID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("locking current session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		g.ID, string(g.Owner), g.SessionKeyRef,
		addressesToStrings(g.Scope.Contracts), selectorsToStrings(g.Scope.Methods),
		g.Scope.AllowAllContracts, g.Scope.AllowAllMethods,
		perTx, daily, int64(g.TTL.Seconds()),
		g.CreatedAt, g.ExpiresAt, string(g.State), g.RevokedAt, g.SupersededBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	if prevID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET superseded_by = $1 WHERE id = $2`,
			g.ID, *prevID,
		); err != nil {
			return fmt.Errorf("superseding session: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO owner_current_sessions (owner, session_id) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET session_id = EXCLUDED.session_id`,
		string(g.Owner), g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating current session: %w", err)
	}
	return tx.Commit(ctx)
}

func scanSession(row pgx.Row) (*models.SessionGrant, error) {
	var (
		g                    models.SessionGrant
		owner, state         string
		contracts, methods   []string
		perTx, daily, ttlSec int64
	)
	err := row.Scan(&g.ID, &owner, &g.SessionKeyRef, &contracts, &methods,
		&g.Scope.AllowAllContracts, &g.Scope.AllowAllMethods, &perTx, &daily, &ttlSec,
		&g.CreatedAt, &g.ExpiresAt, &state, &g.RevokedAt, &g.SupersededBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	g.Owner = models.Address(owner)
	g.State = models.SessionState(state)
	g.Scope.Contracts = stringsToAddresses(contracts)
	g.Scope.Methods = stringsToSelectors(methods)
	g.Caps = models.Caps{PerTx: uint64(perTx), Daily: uint64(daily)}
	g.TTL = time.Duration(ttlSec) * time.Second
	return &g, nil
}

func (p *PostgresBackend) GetSession(ctx context.Context, id string) (*models.SessionGrant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (p *PostgresBackend) CurrentSession(ctx context.Context, owner models.Address) (*models.SessionGrant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+prefixColumns("s.", sessionColumns)+`
		 FROM owner_current_sessions c
		 JOIN sessions s ON s.id = c.session_id
		 WHERE c.owner = $1`,
		string(owner),
	)
	return scanSession(row)
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func (p *PostgresBackend) ListSessions(ctx context.Context, owner models.Address) ([]*models.SessionGrant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE owner = $1 ORDER BY created_at DESC, id DESC`,
		string(owner),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []*models.SessionGrant
	for rows.Next() {
		g, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (p *PostgresBackend) RevokeSession(ctx context.Context, id string, now time.Time) (models.SessionState, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET state = 'revoked', revoked_at = $2
		 WHERE id = $1 AND state = 'active' AND expires_at > $2 AND superseded_by IS NULL`,
		id, now,
	)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 1 {
		return models.SessionActive, nil
	}

	g, err := p.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	state := g.StateAt(now)
	if state == models.SessionExpired && g.State == models.SessionActive {
		if err := p.MarkExpired(ctx, id); err != nil {
			return "", err
		}
	}
	return state, nil
}

func (p *PostgresBackend) MarkExpired(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sessions SET state = 'expired' WHERE id = $1 AND state = 'active'`, id)
	return err
}

func (p *PostgresBackend) CountActiveSessions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM owner_current_sessions c
		 JOIN sessions s ON s.id = c.session_id
		 WHERE s.state = 'active' AND s.expires_at > $1`,
		now,
	).Scan(&count)
	return count, err
}

// --- Spend ledger ---

// RecordSpend implements ledger.Ledger with one conditional upsert; the row
// lock taken by ON CONFLICT serializes concurrent spends on the same window.
func (p *PostgresBackend) RecordSpend(ctx context.Context, sessionID string, window time.Time, amount, dailyCap uint64) (uint64, error) {
	if amount == 0 {
		return p.CurrentTotal(ctx, sessionID, window)
	}
	amt, err := toBigint(amount)
	if err != nil {
		return 0, err
	}
	limit, err := toBigint(dailyCap)
	if err != nil {
		return 0, err
	}
	if amt > limit {
		total, err := p.CurrentTotal(ctx, sessionID, window)
		if err != nil {
			return 0, err
		}
		return total, ledger.ErrCapExceeded
	}

	var total int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO spend_records (session_id, window_start, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, window_start) DO UPDATE
		 SET amount = spend_records.amount + EXCLUDED.amount, updated_at = NOW()
		 WHERE spend_records.amount <= $4 - EXCLUDED.amount
		 RETURNING amount`,
		sessionID, window.UTC(), amt, limit,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := p.CurrentTotal(ctx, sessionID, window)
		if err != nil {
			return 0, err
		}
		return current, ledger.ErrCapExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("recording spend: %w", err)
	}
	return uint64(total), nil
}

// CurrentTotal implements ledger.Ledger.
func (p *PostgresBackend) CurrentTotal(ctx context.Context, sessionID string, window time.Time) (uint64, error) {
	var total int64
	err := p.pool.QueryRow(ctx,
		`SELECT amount FROM spend_records WHERE session_id = $1 AND window_start = $2`,
		sessionID, window.UTC(),
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

// --- Sponsored totals ---

// SponsoredTotal returns the project's sponsored gas cost in the window.
func (p *PostgresBackend) SponsoredTotal(ctx context.Context, projectID string, window time.Time) (uint64, error) {
	var total int64
	err := p.pool.QueryRow(ctx,
		`SELECT amount FROM sponsored_totals WHERE project_id = $1 AND window_start = $2`,
		projectID, window.UTC(),
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(total), nil
}

// AddSponsored adds amount to the project's sponsored total for the window.
func (p *PostgresBackend) AddSponsored(ctx context.Context, projectID string, window time.Time, amount uint64) (uint64, error) {
	amt, err := toBigint(amount)
	if err != nil {
		return 0, err
	}
	var total int64
	err = p.pool.QueryRow(ctx,
		`INSERT INTO sponsored_totals (project_id, window_start, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, window_start) DO UPDATE
		 SET amount = LEAST(sponsored_totals.amount::numeric + EXCLUDED.amount, 9223372036854775807)::bigint
		 RETURNING amount`,
		projectID, window.UTC(), amt,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("adding sponsored total: %w", err)
	}
	return uint64(total), nil
}

// ReserveSponsored adds amount to the project's sponsored total only while the
// total stays within budget. Budgets above MaxInt64 are treated as MaxInt64.
func (p *PostgresBackend) ReserveSponsored(ctx context.Context, projectID string, window time.Time, amount, budget uint64) (uint64, error) {
	limit := int64(min(budget, math.MaxInt64))
	if amount > uint64(limit) {
		total, err := p.SponsoredTotal(ctx, projectID, window)
		if err != nil {
			return 0, err
		}
		return total, sponsorship.ErrBudgetExceeded
	}
	amt := int64(amount)

	var total int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO sponsored_totals (project_id, window_start, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, window_start) DO UPDATE
		 SET amount = sponsored_totals.amount + EXCLUDED.amount
		 WHERE sponsored_totals.amount <= $4 - EXCLUDED.amount
		 RETURNING amount`,
		projectID, window.UTC(), amt, limit,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := p.SponsoredTotal(ctx, projectID, window)
		if err != nil {
			return 0, err
		}
		return current, sponsorship.ErrBudgetExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("reserving sponsored total: %w", err)
	}
	return uint64(total), nil
}

// --- Gas policies ---

func (p *PostgresBackend) PutGasPolicy(ctx context.Context, pol *models.GasPolicy) error {
	budget, err := optionalBigint(pol.DailyBudget)
	if err != nil {
		return err
	}
	perTx, err := optionalBigint(pol.PerTxLimit)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Previous versions stay for history; only one row per project is active.
	if _, err := tx.Exec(ctx,
		`UPDATE gas_policies SET active = FALSE WHERE project_id = $1 AND active`,
		pol.ProjectID,
	); err != nil {
		return fmt.Errorf("deactivating gas policy: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO gas_policies (project_id, mode, daily_budget, per_tx_limit, allowed_contracts, allowed_methods, active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())`,
		pol.ProjectID, string(pol.Mode), budget, perTx,
		addressesToStrings(pol.AllowedContracts), selectorsToStrings(pol.AllowedMethods),
	)
	if err != nil {
		return fmt.Errorf("inserting gas policy: %w", err)
	}
	return tx.Commit(ctx)
}

const policyColumns = `project_id, mode, daily_budget, per_tx_limit, allowed_contracts, allowed_methods, updated_at`

func scanGasPolicy(row pgx.Row) (*models.GasPolicy, error) {
	var (
		pol                models.GasPolicy
		mode               string
		budget, perTx      *int64
		contracts, methods []string
	)
	err := row.Scan(&pol.ProjectID, &mode, &budget, &perTx, &contracts, &methods, &pol.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// Mode is passed through verbatim; the evaluator rejects unknown values.
	pol.Mode = models.PolicyMode(mode)
	pol.DailyBudget = fromOptionalBigint(budget)
	pol.PerTxLimit = fromOptionalBigint(perTx)
	pol.AllowedContracts = stringsToAddresses(contracts)
	pol.AllowedMethods = stringsToSelectors(methods)
	return &pol, nil
}

func (p *PostgresBackend) GetGasPolicy(ctx context.Context, projectID string) (*models.GasPolicy, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM gas_policies WHERE project_id = $1 AND active`,
		projectID,
	)
	return scanGasPolicy(row)
}

func (p *PostgresBackend) ListGasPolicies(ctx context.Context) ([]*models.GasPolicy, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM gas_policies WHERE active ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.GasPolicy
	for rows.Next() {
		pol, err := scanGasPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, api_key_hash, operation, path, status, response_code, response_time_ms, client_ip, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID, entry.Timestamp, entry.APIKeyHash, entry.Operation, entry.Path,
		entry.Status, entry.ResponseCode, entry.ResponseTimeMs, entry.ClientIP, metaJSON,
	)
	return err
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, api_key_hash, operation, path, status, response_code, response_time_ms, client_ip, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Path != "" {
		fmt.Fprintf(&query, ` AND path LIKE $%d`, n)
		args = append(args, filter.Path+"%")
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC, id DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.APIKeyHash, &e.Operation,
			&e.Path, &e.Status, &e.ResponseCode, &e.ResponseTimeMs, &e.ClientIP, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
