package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sanumxxx/melsu-portal-sub000/internal/apperror"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
	"github.com/sanumxxx/melsu-portal-sub000/internal/validation"
)

// TreeCache stores the flat department list behind tree snapshots, keyed by
// a generation that Invalidate advances. Load returns cache.ErrMiss when
// nothing is stored for the generation.
type TreeCache interface {
	Generation(ctx context.Context) (int64, error)
	Load(ctx context.Context, generation int64) ([]models.Department, error)
	Store(ctx context.Context, generation int64, departments []models.Department) error
	Invalidate(ctx context.Context) error
}

type Options struct {
	Logger    *slog.Logger
	Audit     AuditSink
	Cache     TreeCache
	Now       func() time.Time
	Validator *validation.Validator
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Audit == nil {
		o.Audit = NopAuditSink{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Validator == nil {
		o.Validator = validation.New()
	}
	return o
}

type base struct {
	db       *gorm.DB
	logger   *slog.Logger
	audit    AuditSink
	now      func() time.Time
	validate *validation.Validator
}

func newBase(db *gorm.DB, opts Options) base {
	return base{
		db:       db,
		logger:   opts.Logger,
		audit:    opts.Audit,
		now:      opts.Now,
		validate: opts.Validator,
	}
}

func (b base) clock() time.Time {
	return b.now().UTC()
}

// record reports a committed change. Audit failures never undo the change.
func (b base) record(ctx context.Context, event AuditEvent) {
	if err := b.audit.Record(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "audit record failed",
			"action", event.Action,
			"resource", event.Resource,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
}

func (b base) ensureUserExists(ctx context.Context, tx *gorm.DB, userID uint) (models.User, error) {
	var user models.User
	if err := tx.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, apperror.Newf(apperror.CodeNotFound, "user %d not found", userID)
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// lockUser loads the user row with FOR UPDATE. It serialises writers that
// maintain per-user invariants.
func (b base) lockUser(ctx context.Context, tx *gorm.DB, userID uint) (models.User, error) {
	var user models.User
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, apperror.Newf(apperror.CodeNotFound, "user %d not found", userID)
		}
		return models.User{}, fmt.Errorf("lock user: %w", err)
	}
	return user, nil
}

func (b base) loadDepartment(ctx context.Context, tx *gorm.DB, departmentID uint) (models.Department, error) {
	var department models.Department
	if err := tx.WithContext(ctx).First(&department, departmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Department{}, apperror.Newf(apperror.CodeNotFound, "department %d not found", departmentID)
		}
		return models.Department{}, fmt.Errorf("load department: %w", err)
	}
	return department, nil
}

func normalizeRequiredString(raw string, field string) (string, error) {
	value := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(value)
	if length < 1 || length > 200 {
		return "", apperror.New(apperror.CodeValidation, fmt.Sprintf("%s length must be in range 1..200", field))
	}
	return value, nil
}

func equalUintPtr(a *uint, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func describeDepartment(departmentID *uint) string {
	if departmentID == nil {
		return "all departments"
	}
	return fmt.Sprintf("department %d", *departmentID)
}

func mapDatabaseError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return apperror.New(apperror.CodeConflict, "resource with the same unique attributes already exists")
		}
		if pgErr.Code == "23503" {
			return apperror.New(apperror.CodeValidation, "invalid foreign key reference")
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperror.New(apperror.CodeConflict, "resource with the same unique attributes already exists")
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return apperror.New(apperror.CodeValidation, "invalid foreign key reference")
	}
	return err
}

// itemError renders a per-item batch failure. Validation, not-found and
// conflict messages are passed through; anything else is reported as internal.
func itemError(prefix string, err error) string {
	switch apperror.GetCode(err) {
	case apperror.CodeInternal:
		return fmt.Sprintf("%s: internal error: %v", prefix, err)
	default:
		return fmt.Sprintf("%s: %v", prefix, err)
	}
}
