package family_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nestlinghq/nestling/backend/internal/database"
	"github.com/nestlinghq/nestling/backend/internal/family"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *family.Service {
	t.Helper()
	service, err := family.NewService(family.ServiceConfig{Database: openTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to construct family service: %v", err)
	}
	return service
}

func TestCreateFamilyAssignsIDAndCode(t *testing.T) {
	service := newTestService(t)

	record, err := service.CreateFamily(context.Background(), "Nursery")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.ID == "" {
		t.Fatal("expected generated family id")
	}
	if len(record.Code) != 6 {
		t.Fatalf("expected 6-character join code, got %q", record.Code)
	}
	if record.Code != strings.ToUpper(record.Code) {
		t.Fatalf("expected uppercase join code, got %q", record.Code)
	}
	if record.BabyName != "Nursery" {
		t.Fatalf("unexpected baby name: %q", record.BabyName)
	}
	if record.CreatedAt <= 0 {
		t.Fatalf("expected server-assigned created_at, got %d", record.CreatedAt)
	}
}

func TestCreateFamilyDefaultsBabyName(t *testing.T) {
	service := newTestService(t)

	record, err := service.CreateFamily(context.Background(), "   ")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.BabyName != "Baby" {
		t.Fatalf("expected default baby name, got %q", record.BabyName)
	}
}

func TestGetByCodeIsCaseInsensitive(t *testing.T) {
	service := newTestService(t)

	created, err := service.CreateFamily(context.Background(), "Nursery")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	joined, err := service.GetByCode(context.Background(), strings.ToLower(created.Code))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if joined.ID != created.ID {
		t.Fatalf("expected family %s, got %s", created.ID, joined.ID)
	}
}

func TestGetByCodeNotFound(t *testing.T) {
	service := newTestService(t)

	_, err := service.GetByCode(context.Background(), "ZZZZZZ")
	if !errors.Is(err, family.ErrFamilyNotFound) {
		t.Fatalf("expected ErrFamilyNotFound, got %v", err)
	}
}

func TestGetByCodeRejectsEmptyCode(t *testing.T) {
	service := newTestService(t)

	_, err := service.GetByCode(context.Background(), "  ")
	if !errors.Is(err, family.ErrInvalidJoinCode) {
		t.Fatalf("expected ErrInvalidJoinCode, got %v", err)
	}
}

func TestCreateFamilyUsesClock(t *testing.T) {
	fixed := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	service, err := family.NewService(family.ServiceConfig{
		Database: openTestDatabase(t),
		Clock:    func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("failed to construct family service: %v", err)
	}

	record, err := service.CreateFamily(context.Background(), "Nursery")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.CreatedAt != fixed.UnixMilli() {
		t.Fatalf("expected created_at %d, got %d", fixed.UnixMilli(), record.CreatedAt)
	}
}

func TestNewJoinCodeShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := family.NewJoinCode()
		if len(code) != 6 {
			t.Fatalf("expected 6 characters, got %q", code)
		}
		for _, r := range code {
			if strings.ContainsRune("01OIL", r) {
				t.Fatalf("code %q contains ambiguous character %q", code, r)
			}
		}
	}
}
