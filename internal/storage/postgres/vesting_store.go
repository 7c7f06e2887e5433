package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

const scheduleColumns = `
	schedule_id, beneficiary, agent_id, purpose, kind, total_amount,
	start_at, end_at, steps, claimed, halted, halt_reason, created_at`

const claimColumns = `
	claim_id, schedule_id, beneficiary, idempotency_key,
	amount, claimed_after, vested_at, claimed_at`

// VestingStore implements storage.VestingStore and storage.VestingLedger
// using PostgreSQL. Claims lock the schedule row.
type VestingStore struct {
	pool        *Pool
	lockTimeout time.Duration
}

// NewVestingStore creates a VestingStore. A non-positive lockTimeout uses DefaultLockTimeout.
func NewVestingStore(pool *Pool, lockTimeout time.Duration) *VestingStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &VestingStore{pool: pool, lockTimeout: lockTimeout}
}

var (
	_ storage.VestingStore  = (*VestingStore)(nil)
	_ storage.VestingLedger = (*VestingStore)(nil)
)

// Insert adds a schedule. Returns ErrDuplicateKey if schedule_id exists.
func (s *VestingStore) Insert(ctx context.Context, v *domain.VestingSchedule) error {
	if v == nil || v.ScheduleID == "" {
		return storage.ErrInvalidInput
	}
	var (
		start, end *time.Time
		steps      []byte
	)
	switch v.Kind {
	case domain.VestingLinear:
		start, end = &v.Start, &v.End
	case domain.VestingCliff:
		var err error
		if steps, err = json.Marshal(v.Steps); err != nil {
			return fmt.Errorf("encode vesting steps: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vesting_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ScheduleID, v.Beneficiary, v.AgentID, v.Purpose, string(v.Kind), v.TotalAmount,
		start, end, steps, v.Claimed, v.Halted, v.HaltReason, v.CreatedAt,
	)
	return mapError("insert vesting schedule", err)
}

// GetByID retrieves a schedule. Returns ErrNotFound if not exists.
func (s *VestingStore) GetByID(ctx context.Context, scheduleID string) (*domain.VestingSchedule, error) {
	return getSchedule(ctx, s.pool, scheduleID, false)
}

// GetByBeneficiary retrieves all schedules of a beneficiary, ordered by schedule_id ASC.
func (s *VestingStore) GetByBeneficiary(ctx context.Context, beneficiary string) ([]*domain.VestingSchedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+` FROM vesting_schedules
		WHERE beneficiary = $1 ORDER BY schedule_id ASC`, beneficiary)
}

// GetByAgent retrieves all schedules funded by an agent, ordered by schedule_id ASC.
func (s *VestingStore) GetByAgent(ctx context.Context, agentID string) ([]*domain.VestingSchedule, error) {
	return s.querySchedules(ctx, `
		SELECT `+scheduleColumns+` FROM vesting_schedules
		WHERE agent_id = $1 ORDER BY schedule_id ASC`, agentID)
}

// GetClaims retrieves the claims of a schedule, ordered by claimed_at ASC.
func (s *VestingStore) GetClaims(ctx context.Context, scheduleID string) ([]*domain.ClaimRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+claimColumns+` FROM vesting_claims
		WHERE schedule_id = $1 ORDER BY claimed_at ASC, claim_id ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("get claims: %w", err)
	}
	defer rows.Close()

	var result []*domain.ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpdateSchedule runs fn inside a transaction holding the schedule's row lock.
func (s *VestingStore) UpdateSchedule(ctx context.Context, scheduleID string, fn func(tx storage.VestingTx) error) (err error) {
	start := time.Now()
	defer func() { observe("vesting_update", start, err) }()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError("begin vesting tx", err)
	}
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
		return mapError("set lock timeout", err)
	}
	schedule, err := getSchedule(ctx, pgTx, scheduleID, true)
	if err != nil {
		return err
	}

	if err := fn(&vestingTx{tx: pgTx, schedule: schedule}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapError("commit vesting tx", err)
	}
	return nil
}

type vestingTx struct {
	tx       pgx.Tx
	schedule *domain.VestingSchedule
}

func (t *vestingTx) Schedule() *domain.VestingSchedule {
	s := *t.schedule
	s.Steps = append([]domain.VestingStep(nil), t.schedule.Steps...)
	return &s
}

func (t *vestingTx) ClaimByIdempotencyKey(ctx context.Context, key string) (*domain.ClaimRecord, error) {
	c, err := scanClaim(t.tx.QueryRow(ctx, `
		SELECT `+claimColumns+` FROM vesting_claims
		WHERE schedule_id = $1 AND idempotency_key = $2`, t.schedule.ScheduleID, key))
	if err != nil {
		return nil, mapError("get claim by idempotency key", err)
	}
	return c, nil
}

// PutSchedule persists the claimed amount and the halt flag. Every other
// column is immutable.
func (t *vestingTx) PutSchedule(ctx context.Context, s *domain.VestingSchedule) error {
	if s == nil || s.ScheduleID != t.schedule.ScheduleID {
		return storage.ErrInvalidInput
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE vesting_schedules SET claimed = $2, halted = $3, halt_reason = $4
		WHERE schedule_id = $1`,
		s.ScheduleID, s.Claimed, s.Halted, s.HaltReason)
	if err != nil {
		return mapError("update vesting schedule", err)
	}
	t.schedule.Claimed = s.Claimed
	t.schedule.Halted = s.Halted
	t.schedule.HaltReason = s.HaltReason
	return nil
}

func (t *vestingTx) AppendClaim(ctx context.Context, c *domain.ClaimRecord) error {
	if c == nil || c.ClaimID == "" || c.ScheduleID != t.schedule.ScheduleID {
		return storage.ErrInvalidInput
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO vesting_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ClaimID, c.ScheduleID, c.Beneficiary, c.IdempotencyKey,
		c.Amount, c.ClaimedAfter, c.VestedAt, c.ClaimedAt,
	)
	return mapError("insert claim", err)
}

func getSchedule(ctx context.Context, q querier, scheduleID string, forUpdate bool) (*domain.VestingSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM vesting_schedules WHERE schedule_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	v, err := scanSchedule(q.QueryRow(ctx, query, scheduleID))
	if err != nil {
		return nil, mapError("get vesting schedule", err)
	}
	return v, nil
}

func (s *VestingStore) querySchedules(ctx context.Context, sql string, args ...any) ([]*domain.VestingSchedule, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vesting schedules: %w", err)
	}
	defer rows.Close()

	var result []*domain.VestingSchedule
	for rows.Next() {
		v, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vesting schedule: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func scanSchedule(row pgx.Row) (*domain.VestingSchedule, error) {
	var (
		v          domain.VestingSchedule
		kind       string
		start, end *time.Time
		steps      []byte
	)
	err := row.Scan(
		&v.ScheduleID, &v.Beneficiary, &v.AgentID, &v.Purpose, &kind, &v.TotalAmount,
		&start, &end, &steps, &v.Claimed, &v.Halted, &v.HaltReason, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Kind = domain.VestingKind(kind)
	if start != nil {
		v.Start = start.UTC()
	}
	if end != nil {
		v.End = end.UTC()
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &v.Steps); err != nil {
			return nil, fmt.Errorf("decode vesting steps: %w", err)
		}
		for i := range v.Steps {
			v.Steps[i].At = v.Steps[i].At.UTC()
		}
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func scanClaim(row pgx.Row) (*domain.ClaimRecord, error) {
	var c domain.ClaimRecord
	err := row.Scan(
		&c.ClaimID, &c.ScheduleID, &c.Beneficiary, &c.IdempotencyKey,
		&c.Amount, &c.ClaimedAfter, &c.VestedAt, &c.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ClaimedAt = c.ClaimedAt.UTC()
	return &c, nil
}
