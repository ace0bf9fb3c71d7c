// Package repository persists usage records and the consumption ledger.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	"github.com/velra-app/velra/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the storage boundary of the usage service.
type Repository interface {
	// Get returns the record for subject, or nil when absent.
	Get(ctx context.Context, subject usagedomain.Subject) (*usagedomain.UsageRecord, error)

	// CreateIfAbsent inserts rec unless a record for its subject already
	// exists, and returns the stored row either way.
	CreateIfAbsent(ctx context.Context, rec *usagedomain.UsageRecord) (*usagedomain.UsageRecord, error)

	// Apply writes rec's counters conditioned on the version it was read
	// at. Returns ErrVersionConflict when a concurrent writer won.
	Apply(ctx context.Context, rec *usagedomain.UsageRecord) error

	// ApplyRecorded writes rec and appends the decision to the ledger in
	// one transaction. When the key is already recorded the counter
	// write is rolled back and the stored row is returned with false, so
	// a lost idempotency race never spends a unit.
	ApplyRecorded(ctx context.Context, rec *usagedomain.UsageRecord, c *usagedomain.UsageConsumption) (*usagedomain.UsageConsumption, bool, error)

	// FindConsumption looks up a prior decision for an idempotency key,
	// or nil when none exists.
	FindConsumption(ctx context.Context, subject usagedomain.Subject, key string) (*usagedomain.UsageConsumption, error)

	// RecordConsumption appends a decision to the ledger. Returns the
	// stored row and false when the key was already recorded.
	RecordConsumption(ctx context.Context, c *usagedomain.UsageConsumption) (*usagedomain.UsageConsumption, bool, error)

	// DeleteSubject removes the record and ledger rows for subject.
	DeleteSubject(ctx context.Context, subject usagedomain.Subject) error
}

type repo struct {
	db    *gorm.DB
	genID *snowflake.Node
}

// New builds the gorm-backed usage repository.
func New(conn *gorm.DB, genID *snowflake.Node) Repository {
	return &repo{db: conn, genID: genID}
}

func (r *repo) Get(ctx context.Context, subject usagedomain.Subject) (*usagedomain.UsageRecord, error) {
	var rec usagedomain.UsageRecord
	err := r.db.WithContext(ctx).
		Where("subject_kind = ? AND subject_id = ?", subject.Kind, subject.ID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repo) CreateIfAbsent(ctx context.Context, rec *usagedomain.UsageRecord) (*usagedomain.UsageRecord, error) {
	if rec.ID == 0 {
		rec.ID = r.genID.Generate()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	// Read back so a lost insert race still yields the winner's row.
	stored, err := r.Get(ctx, rec.Subject())
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return stored, nil
}

func (r *repo) Apply(ctx context.Context, rec *usagedomain.UsageRecord) error {
	if err := applyCAS(r.db.WithContext(ctx), rec); err != nil {
		return err
	}
	rec.Version++
	return nil
}

// errLedgerTaken aborts the ApplyRecorded transaction when the key
// insert loses, rolling the counter write back with it.
var errLedgerTaken = errors.New("idempotency key already recorded")

func (r *repo) ApplyRecorded(ctx context.Context, rec *usagedomain.UsageRecord, c *usagedomain.UsageConsumption) (*usagedomain.UsageConsumption, bool, error) {
	if c.ID == 0 {
		c.ID = r.genID.Generate()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := applyCAS(tx, rec); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(c)
		if res.Error != nil && !db.IsDuplicateKeyErr(res.Error) {
			return res.Error
		}
		if res.Error != nil || res.RowsAffected == 0 {
			return errLedgerTaken
		}
		return nil
	})
	switch {
	case err == nil:
		rec.Version++
		return c, true, nil
	case errors.Is(err, errLedgerTaken):
		stored, ferr := r.FindConsumption(ctx, usagedomain.Subject{Kind: c.SubjectKind, ID: c.SubjectID}, c.IdempotencyKey)
		if ferr != nil {
			return nil, false, ferr
		}
		if stored == nil {
			return nil, false, gorm.ErrRecordNotFound
		}
		return stored, false, nil
	default:
		return nil, false, err
	}
}

func applyCAS(tx *gorm.DB, rec *usagedomain.UsageRecord) error {
	res := tx.
		Model(&usagedomain.UsageRecord{}).
		Where("subject_kind = ? AND subject_id = ? AND version = ?", rec.SubjectKind, rec.SubjectID, rec.Version).
		Updates(map[string]any{
			"daily_count":        rec.DailyCount,
			"monthly_count":      rec.MonthlyCount,
			"total_count":        rec.TotalCount,
			"last_reset_daily":   rec.LastResetDaily,
			"last_reset_monthly": rec.LastResetMonthly,
			"last_used_at":       rec.LastUsedAt,
			"version":            rec.Version + 1,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return usagedomain.ErrVersionConflict
	}
	return nil
}

func (r *repo) FindConsumption(ctx context.Context, subject usagedomain.Subject, key string) (*usagedomain.UsageConsumption, error) {
	var c usagedomain.UsageConsumption
	err := r.db.WithContext(ctx).
		Where("subject_kind = ? AND subject_id = ? AND idempotency_key = ?", subject.Kind, subject.ID, key).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) RecordConsumption(ctx context.Context, c *usagedomain.UsageConsumption) (*usagedomain.UsageConsumption, bool, error) {
	if c.ID == 0 {
		c.ID = r.genID.Generate()
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c)
	if res.Error != nil && !db.IsDuplicateKeyErr(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return c, true, nil
	}

	stored, err := r.FindConsumption(ctx, usagedomain.Subject{Kind: c.SubjectKind, ID: c.SubjectID}, c.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return stored, false, nil
}

func (r *repo) DeleteSubject(ctx context.Context, subject usagedomain.Subject) error {
	tx := r.db.WithContext(ctx)
	if err := tx.
		Where("subject_kind = ? AND subject_id = ?", subject.Kind, subject.ID).
		Delete(&usagedomain.UsageConsumption{}).Error; err != nil {
		return err
	}
	return tx.
		Where("subject_kind = ? AND subject_id = ?", subject.Kind, subject.ID).
		Delete(&usagedomain.UsageRecord{}).Error
}
