// Package repository содержит реализацию доступа к данным в PostgreSQL.
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
	"github.com/sethvargo/go-retry"

	"github.com/wetwo/commission-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrVendorNotFound возвращается, если поставщик не найден.
var (
	ErrVendorNotFound = errors.New("vendor not found")
	// ErrCoupleNotFound возвращается, если пара с указанным партнёрским
	// идентификатором не найдена.
	ErrCoupleNotFound = errors.New("couple not found")
)

const vendorColumns = `id, ref, business_name, COALESCE(email, ''), tier, COALESCE(pool, ''),
	 COALESCE(affiliate_id, ''), subscription_active, affiliate_synced, created_at`

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

// withRetry повторяет операцию при сбоях сериализации, дедлоках и сетевых
// ошибках. pgxpool сам переустанавливает соединения, поэтому ретраи
// ограничены тремя попытками с фибоначчиевой задержкой.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if isRetryable(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanVendor(row pgx.Row) (*model.Vendor, error) {
	var v model.Vendor
	err := row.Scan(&v.ID, &v.Ref, &v.BusinessName, &v.Email, &v.Tier, &v.Pool,
		&v.AffiliateID, &v.SubscriptionActive, &v.AffiliateSynced, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("scan vendor: %w", err)
	}
	return &v, nil
}

// GetVendorByID возвращает поставщика по идентификатору.
func (r *PostgresRepository) GetVendorByID(ctx context.Context, id int64) (*model.Vendor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE id = $1`,
		id,
	)
	return scanVendor(row)
}

// GetVendorByRef возвращает поставщика по ссылочному идентификатору.
func (r *PostgresRepository) GetVendorByRef(ctx context.Context, ref string) (*model.Vendor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE ref = $1`,
		ref,
	)
	return scanVendor(row)
}

// GetVendorByEmail возвращает поставщика по адресу электронной почты
// без учёта регистра.
func (r *PostgresRepository) GetVendorByEmail(ctx context.Context, email string) (*model.Vendor, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	return scanVendor(row)
}

// UpdateVendorTier атомарно обновляет тариф, пул, признак подписки и признак
// синхронизации с партнёрским сервисом.
func (r *PostgresRepository) UpdateVendorTier(ctx context.Context, id int64, tierName, pool string, subscriptionActive, affiliateSynced bool) error {
	return r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE vendors
			 SET tier = $2, pool = $3, subscription_active = $4, affiliate_synced = $5
			 WHERE id = $1`,
			id, tierName, pool, subscriptionActive, affiliateSynced,
		)
		if err != nil {
			return fmt.Errorf("update vendor tier: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrVendorNotFound
		}
		return nil
	})
}

// MarkVendorSynced отмечает, что ставка комиссии поставщика доведена
// до партнёрского сервиса.
func (r *PostgresRepository) MarkVendorSynced(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE vendors SET affiliate_synced = TRUE WHERE id = $1`,
			id,
		)
		if err != nil {
			return fmt.Errorf("mark vendor synced: %w", err)
		}
		return nil
	})
}

func scanCouple(row pgx.Row) (*model.Couple, error) {
	var c model.Couple
	err := row.Scan(&c.ID, &c.Slug, &c.PartnerA, &c.PartnerB, &c.Email,
		&c.AffiliateID, &c.ReferredByVendorID, &c.CashbackRate, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCoupleNotFound
		}
		return nil, fmt.Errorf("scan couple: %w", err)
	}
	return &c, nil
}

const coupleColumns = `id, slug, COALESCE(partner_a, ''), COALESCE(partner_b, ''), COALESCE(email, ''),
	 COALESCE(affiliate_id, ''), COALESCE(referred_by_vendor_id, 0), cashback_rate, created_at`

// GetCoupleByAffiliateID возвращает пару по партнёрскому идентификатору.
func (r *PostgresRepository) GetCoupleByAffiliateID(ctx context.Context, affiliateID string) (*model.Couple, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+coupleColumns+` FROM couples WHERE affiliate_id = $1`,
		affiliateID,
	)
	return scanCouple(row)
}

// GetCoupleBySlug возвращает пару по слагу.
func (r *PostgresRepository) GetCoupleBySlug(ctx context.Context, slug string) (*model.Couple, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+coupleColumns+` FROM couples WHERE slug = $1`,
		slug,
	)
	return scanCouple(row)
}

// ListVendors возвращает всех поставщиков, отсортированных по названию.
func (r *PostgresRepository) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+vendorColumns+`
		 FROM vendors
		 ORDER BY business_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select vendors: %w", err)
	}
	defer rows.Close()

	return collectVendors(rows)
}

// ListUnsyncedVendors возвращает поставщиков с партнёрским идентификатором,
// чья ставка комиссии не доведена до партнёрского сервиса.
func (r *PostgresRepository) ListUnsyncedVendors(ctx context.Context, limit int) ([]model.Vendor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+vendorColumns+`
		 FROM vendors
		 WHERE affiliate_synced = FALSE AND affiliate_id IS NOT NULL AND affiliate_id <> ''
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unsynced vendors: %w", err)
	}
	defer rows.Close()

	return collectVendors(rows)
}

func collectVendors(rows pgx.Rows) ([]model.Vendor, error) {
	var vendors []model.Vendor
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Ref, &v.BusinessName, &v.Email, &v.Tier, &v.Pool,
			&v.AffiliateID, &v.SubscriptionActive, &v.AffiliateSynced, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return vendors, nil
}

// RecordEvent добавляет запись в журнал административных событий.
// Журнал только пополняется: записи не изменяются и не удаляются.
func (r *PostgresRepository) RecordEvent(ctx context.Context, e model.AuditEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}

	var vendorID *int64
	if e.VendorID != 0 {
		vendorID = &e.VendorID
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO admin_events (event_type, vendor_id, details) VALUES ($1, $2, $3)`,
		e.Type, vendorID, details,
	)
	if err != nil {
		return fmt.Errorf("insert admin event: %w", err)
	}

	return nil
}

// RecordActivity добавляет запись в ленту активности поставщика.
func (r *PostgresRepository) RecordActivity(ctx context.Context, a model.VendorActivity) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO vendor_activity (vendor_id, activity_type, description, metadata)
		 VALUES ($1, $2, $3, $4)`,
		a.VendorID, a.ActivityType, a.Description, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert vendor activity: %w", err)
	}

	return nil
}
