package family

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable dotted code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "family.service.new"
	opCreateFamily = "family.create"
	opGetByCode    = "family.get_by_code"

	createCodeRetries = 5
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists families and resolves join codes.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateFamily inserts a new family with a fresh join code. Code generation
// retries on a uniqueness collision.
func (s *Service) CreateFamily(ctx context.Context, babyName string) (Family, error) {
	name, err := NormalizeBabyName(babyName)
	if err != nil {
		return Family{}, newServiceError(opCreateFamily, "invalid_baby_name", err)
	}

	var lastErr error
	for attempt := 0; attempt < createCodeRetries; attempt++ {
		record := Family{
			ID:        uuid.NewString(),
			Code:      NewJoinCode(),
			BabyName:  name,
			CreatedAt: s.clock().UTC().UnixMilli(),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			lastErr = err
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			s.logError(opCreateFamily, "insert_failed", err)
			return Family{}, newServiceError(opCreateFamily, "insert_failed", err)
		}
		return record, nil
	}

	s.logError(opCreateFamily, "code_exhausted", lastErr)
	return Family{}, newServiceError(opCreateFamily, "code_exhausted", lastErr)
}

// GetByCode resolves a join code case-insensitively.
func (s *Service) GetByCode(ctx context.Context, code string) (Family, error) {
	normalized, err := NormalizeJoinCode(code)
	if err != nil {
		return Family{}, newServiceError(opGetByCode, "invalid_code", err)
	}

	var record Family
	err = s.db.WithContext(ctx).Where("code = ?", normalized).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Family{}, ErrFamilyNotFound
	}
	if err != nil {
		s.logError(opGetByCode, "query_failed", err, zap.String("code", normalized))
		return Family{}, newServiceError(opGetByCode, "query_failed", err)
	}
	return record, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("family service error", attrs...)
}
