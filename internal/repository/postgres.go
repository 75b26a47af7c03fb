package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/token"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable сообщает, можно ли повторить транзакцию целиком.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в транзакции. Конфликты сериализации и взаимоблокировки повторяются с начала.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// querier объединяет методы пула и транзакции pgx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const poolColumns = `address, merchant, pool_id, currency_mint, commission_rate,
	total_volume::text, total_commissions_paid::text, is_active, created_at`

const affiliateColumns = `address, pool, wallet, ref_id,
	total_earned::text, sales_count::text, is_active, created_at`

func selectPool(ctx context.Context, q querier, addr address.Address, lock bool) (*model.MerchantPool, error) {
	query := `SELECT ` + poolColumns + ` FROM merchant_pools WHERE address = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		p                       model.MerchantPool
		addrS, merchantS, mintS string
		rate                    int32
		volumeS, paidS          string
	)
	err := q.QueryRow(ctx, query, addr.String()).Scan(
		&addrS, &merchantS, &p.PoolID, &mintS, &rate, &volumeS, &paidS, &p.IsActive, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPoolNotFound
		}
		return nil, fmt.Errorf("select pool: %w", err)
	}

	if err := scanAddresses(&addrS, &p.Address, &merchantS, &p.Merchant, &mintS, &p.CurrencyMint); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	if p.TotalVolume, err = parseUint64(volumeS); err != nil {
		return nil, fmt.Errorf("decode total_volume: %w", err)
	}
	if p.TotalCommissionsPaid, err = parseUint64(paidS); err != nil {
		return nil, fmt.Errorf("decode total_commissions_paid: %w", err)
	}
	p.CommissionRate = uint16(rate)

	return &p, nil
}

func scanAffiliate(row pgx.Row) (*model.AffiliateAccount, error) {
	var (
		a                     model.AffiliateAccount
		addrS, poolS, walletS string
		earnedS, countS       string
	)
	if err := row.Scan(&addrS, &poolS, &walletS, &a.RefID, &earnedS, &countS, &a.IsActive, &a.CreatedAt); err != nil {
		return nil, err
	}

	if err := scanAddresses(&addrS, &a.Address, &poolS, &a.Pool, &walletS, &a.Wallet); err != nil {
		return nil, fmt.Errorf("decode affiliate: %w", err)
	}

	var err error
	if a.TotalEarned, err = parseUint64(earnedS); err != nil {
		return nil, fmt.Errorf("decode total_earned: %w", err)
	}
	if a.SalesCount, err = parseUint64(countS); err != nil {
		return nil, fmt.Errorf("decode sales_count: %w", err)
	}
	return &a, nil
}

func selectAffiliate(ctx context.Context, q querier, addr address.Address, lock bool) (*model.AffiliateAccount, error) {
	query := `SELECT ` + affiliateColumns + ` FROM affiliate_accounts WHERE address = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	a, err := scanAffiliate(q.QueryRow(ctx, query, addr.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAffiliateNotFound
		}
		return nil, fmt.Errorf("select affiliate: %w", err)
	}
	return a, nil
}

func selectTokenAccount(ctx context.Context, q querier, addr address.Address, lock bool) (*token.Account, error) {
	query := `SELECT address, owner, mint, amount::text FROM token_accounts WHERE address = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		acc                  token.Account
		addrS, ownerS, mintS string
		amountS              string
	)
	err := q.QueryRow(ctx, query, addr.String()).Scan(&addrS, &ownerS, &mintS, &amountS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select token account: %w", err)
	}

	if err := scanAddresses(&addrS, &acc.Address, &ownerS, &acc.Owner, &mintS, &acc.Mint); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	if acc.Amount, err = parseUint64(amountS); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	return &acc, nil
}

// GetPool возвращает пул по адресу.
func (r *PostgresRepository) GetPool(ctx context.Context, addr address.Address) (*model.MerchantPool, error) {
	return selectPool(ctx, r.pool, addr, false)
}

// GetAffiliate возвращает аффилиата по адресу.
func (r *PostgresRepository) GetAffiliate(ctx context.Context, addr address.Address) (*model.AffiliateAccount, error) {
	return selectAffiliate(ctx, r.pool, addr, false)
}

// ListAffiliates возвращает аффилиатов пула в порядке регистрации.
func (r *PostgresRepository) ListAffiliates(ctx context.Context, pool address.Address) ([]model.AffiliateAccount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+affiliateColumns+`
		 FROM affiliate_accounts
		 WHERE pool = $1
		 ORDER BY created_at, address`,
		pool.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select affiliates: %w", err)
	}
	defer rows.Close()

	var res []model.AffiliateAccount
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan affiliate: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTokenAccount возвращает токен-счёт по адресу.
func (r *PostgresRepository) GetTokenAccount(ctx context.Context, addr address.Address) (*token.Account, error) {
	return selectTokenAccount(ctx, r.pool, addr, false)
}

// ListEvents возвращает уведомления пула с номером больше afterSeq.
func (r *PostgresRepository) ListEvents(ctx context.Context, pool address.Address, afterSeq int64, limit int) ([]model.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, id::text, kind, pool, payload::text, created_at
		 FROM events
		 WHERE pool = $1 AND seq > $2
		 ORDER BY seq
		 LIMIT $3`,
		pool.String(), afterSeq, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	return collectEvents(rows)
}

// PendingEvents возвращает недоставленные уведомления в порядке записи.
func (r *PostgresRepository) PendingEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, id::text, kind, pool, payload::text, created_at
		 FROM events
		 WHERE delivered_at IS NULL
		 ORDER BY seq
		 LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	return collectEvents(rows)
}

// MarkEventsDelivered отмечает уведомления доставленными.
func (r *PostgresRepository) MarkEventsDelivered(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE events SET delivered_at = now() WHERE seq = ANY($1) AND delivered_at IS NULL`,
		seqs,
	)
	if err != nil {
		return fmt.Errorf("mark events delivered: %w", err)
	}
	return nil
}

func collectEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()

	var res []model.Event
	for rows.Next() {
		var (
			e          model.Event
			idS, poolS string
			kind       string
			payload    string
		)
		if err := rows.Scan(&e.Seq, &idS, &kind, &poolS, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		id, err := parseUUID(idS)
		if err != nil {
			return nil, fmt.Errorf("decode event id: %w", err)
		}
		pool, err := address.Parse(poolS)
		if err != nil {
			return nil, fmt.Errorf("decode event pool: %w", err)
		}

		e.ID = id
		e.Kind = model.EventKind(kind)
		e.Pool = pool
		e.Payload = json.RawMessage(payload)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// pgTx реализует Tx поверх транзакции pgx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetPool(ctx context.Context, addr address.Address) (*model.MerchantPool, error) {
	return selectPool(ctx, t.tx, addr, true)
}

func (t *pgTx) InsertPool(ctx context.Context, p *model.MerchantPool) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO merchant_pools
		 (address, merchant, pool_id, currency_mint, commission_rate, total_volume, total_commissions_paid, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)`,
		p.Address.String(), p.Merchant.String(), p.PoolID, p.CurrencyMint.String(), int32(p.CommissionRate),
		formatUint64(p.TotalVolume), formatUint64(p.TotalCommissionsPaid), p.IsActive, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrPoolExists, p.Address)
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePool(ctx context.Context, p *model.MerchantPool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE merchant_pools
		 SET commission_rate = $2, total_volume = $3::numeric, total_commissions_paid = $4::numeric, is_active = $5
		 WHERE address = $1`,
		p.Address.String(), int32(p.CommissionRate),
		formatUint64(p.TotalVolume), formatUint64(p.TotalCommissionsPaid), p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPoolNotFound
	}
	return nil
}

func (t *pgTx) GetAffiliate(ctx context.Context, addr address.Address) (*model.AffiliateAccount, error) {
	return selectAffiliate(ctx, t.tx, addr, true)
}

func (t *pgTx) InsertAffiliate(ctx context.Context, a *model.AffiliateAccount) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO affiliate_accounts
		 (address, pool, wallet, ref_id, total_earned, sales_count, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`,
		a.Address.String(), a.Pool.String(), a.Wallet.String(), a.RefID,
		formatUint64(a.TotalEarned), formatUint64(a.SalesCount), a.IsActive, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrAffiliateExists, a.Address)
		}
		return fmt.Errorf("insert affiliate: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAffiliate(ctx context.Context, a *model.AffiliateAccount) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE affiliate_accounts
		 SET total_earned = $2::numeric, sales_count = $3::numeric, is_active = $4
		 WHERE address = $1`,
		a.Address.String(), formatUint64(a.TotalEarned), formatUint64(a.SalesCount), a.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update affiliate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAffiliateNotFound
	}
	return nil
}

func (t *pgTx) GetAccount(ctx context.Context, addr address.Address) (*token.Account, error) {
	return selectTokenAccount(ctx, t.tx, addr, true)
}

func (t *pgTx) InsertAccount(ctx context.Context, acc *token.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO token_accounts (address, owner, mint, amount)
		 VALUES ($1, $2, $3, $4::numeric)
		 ON CONFLICT (address) DO NOTHING`,
		acc.Address.String(), acc.Owner.String(), acc.Mint.String(), formatUint64(acc.Amount),
	)
	if err != nil {
		return fmt.Errorf("insert token account: %w", err)
	}
	return nil
}

func (t *pgTx) SetAccountAmount(ctx context.Context, addr address.Address, amount uint64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE token_accounts SET amount = $2::numeric WHERE address = $1`,
		addr.String(), formatUint64(amount),
	)
	if err != nil {
		return fmt.Errorf("update token account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev *model.Event) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO events (id, kind, pool, payload, created_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)
		 RETURNING seq`,
		ev.ID.String(), string(ev.Kind), ev.Pool.String(), string(ev.Payload), ev.Timestamp,
	).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
