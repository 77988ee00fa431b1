package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingPayload  = errors.New("category payload is required")
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
	opServiceNew = "activity.service.new"
	opCreate     = "activity.create"
	opGet        = "activity.get"
	opList       = "activity.list"
	opListToday  = "activity.list_today"
	opUpdate     = "activity.update"
	opDelete     = "activity.delete"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists activities for the CRUD boundary and the snapshot path.
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

// CreateRequest describes a new activity write.
type CreateRequest struct {
	FamilyID  string
	Type      Type
	Data      json.RawMessage
	StartedAt int64
	EndedAt   *int64
	CreatedBy string
}

// Create inserts a new activity and returns its wire form. A zero StartedAt
// defaults to the current time; CreatedAt is always server-assigned.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Record, error) {
	familyID, err := validateIdentifier(request.FamilyID, ErrInvalidFamilyID)
	if err != nil {
		return Record{}, newServiceError(opCreate, "invalid_family_id", err)
	}
	if _, err := ParseType(string(request.Type)); err != nil {
		return Record{}, newServiceError(opCreate, "invalid_type", err)
	}
	if len(request.Data) == 0 {
		return Record{}, newServiceError(opCreate, "missing_data", errMissingPayload)
	}
	if !json.Valid(request.Data) {
		return Record{}, newServiceError(opCreate, "invalid_data", fmt.Errorf("payload is not valid JSON"))
	}

	startedAt := request.StartedAt
	if startedAt == 0 {
		startedAt = s.clock().UTC().UnixMilli()
	}

	row := Activity{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		Type:      request.Type,
		DataJSON:  string(request.Data),
		StartedAt: startedAt,
		EndedAt:   request.EndedAt,
		CreatedBy: request.CreatedBy,
		CreatedAt: s.clock().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("family_id", familyID))
		return Record{}, newServiceError(opCreate, "insert_failed", err)
	}
	return row.Record(), nil
}

// Get returns a single activity by identifier.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	activityID, err := validateIdentifier(id, ErrInvalidID)
	if err != nil {
		return Record{}, newServiceError(opGet, "invalid_id", err)
	}

	var row Activity
	err = s.db.WithContext(ctx).Where("id = ?", activityID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("activity_id", activityID))
		return Record{}, newServiceError(opGet, "query_failed", err)
	}
	return row.Record(), nil
}

// List returns the most recent activities for a family, newest started first.
func (s *Service) List(ctx context.Context, familyID string, limit int) ([]Record, error) {
	id, err := validateIdentifier(familyID, ErrInvalidFamilyID)
	if err != nil {
		return nil, newServiceError(opList, "invalid_family_id", err)
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []Activity
	if err := s.db.WithContext(ctx).
		Where("family_id = ?", id).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("family_id", id))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return toRecords(rows), nil
}

// ListToday returns activities whose start time falls within the calendar day
// of the supplied reference time, newest started first.
func (s *Service) ListToday(ctx context.Context, familyID string, now time.Time) ([]Record, error) {
	id, err := validateIdentifier(familyID, ErrInvalidFamilyID)
	if err != nil {
		return nil, newServiceError(opListToday, "invalid_family_id", err)
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var rows []Activity
	if err := s.db.WithContext(ctx).
		Where("family_id = ? AND started_at >= ?", id, startOfDay.UnixMilli()).
		Order("started_at DESC").
		Find(&rows).Error; err != nil {
		s.logError(opListToday, "query_failed", err, zap.String("family_id", id))
		return nil, newServiceError(opListToday, "query_failed", err)
	}
	return toRecords(rows), nil
}

// UpdateRequest describes a partial update. Nil fields are left untouched.
type UpdateRequest struct {
	Data    json.RawMessage
	EndedAt *int64
}

// Update applies a partial update and returns the updated wire form.
func (s *Service) Update(ctx context.Context, id string, request UpdateRequest) (Record, error) {
	activityID, err := validateIdentifier(id, ErrInvalidID)
	if err != nil {
		return Record{}, newServiceError(opUpdate, "invalid_id", err)
	}
	if len(request.Data) > 0 && !json.Valid(request.Data) {
		return Record{}, newServiceError(opUpdate, "invalid_data", fmt.Errorf("payload is not valid JSON"))
	}

	columns := map[string]any{}
	if len(request.Data) > 0 {
		columns["data"] = string(request.Data)
	}
	if request.EndedAt != nil {
		columns["ended_at"] = *request.EndedAt
	}

	var updated Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Activity
		err := tx.Where("id = ?", activityID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return newServiceError(opUpdate, "select_failed", err)
		}
		if len(columns) > 0 {
			if err := tx.Model(&Activity{}).Where("id = ?", activityID).Updates(columns).Error; err != nil {
				return newServiceError(opUpdate, "update_failed", err)
			}
			if data, ok := columns["data"]; ok {
				row.DataJSON = data.(string)
			}
			if request.EndedAt != nil {
				row.EndedAt = request.EndedAt
			}
		}
		updated = row.Record()
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) {
			s.logError(opUpdate, "transaction_failed", txErr, zap.String("activity_id", activityID))
		}
		return Record{}, txErr
	}
	return updated, nil
}

// Delete removes an activity and returns the deleted wire form so callers can
// notify live devices.
func (s *Service) Delete(ctx context.Context, id string) (Record, error) {
	activityID, err := validateIdentifier(id, ErrInvalidID)
	if err != nil {
		return Record{}, newServiceError(opDelete, "invalid_id", err)
	}

	var deleted Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Activity
		err := tx.Where("id = ?", activityID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return newServiceError(opDelete, "select_failed", err)
		}
		if err := tx.Where("id = ?", activityID).Delete(&Activity{}).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		deleted = row.Record()
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) {
			s.logError(opDelete, "transaction_failed", txErr, zap.String("activity_id", activityID))
		}
		return Record{}, txErr
	}
	return deleted, nil
}

func toRecords(rows []Activity) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record())
	}
	return records
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
	s.logger.Error("activity service error", attrs...)
}
