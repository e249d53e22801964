package testsupport

import (
	"os"
	"script-desk/internal/db"
	"script-desk/internal/domain"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// OpenPostgres connects to TEST_DATABASE_URL and migrates the schema.
// Tests are skipped in -short mode or when the variable is unset.
func OpenPostgres(t testing.TB) *gorm.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	conn, err := db.Open(dsn, "production", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.MigrateSchema(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// NewStoryScope inserts a fresh story and returns its scope. The story and
// its script rows are deleted when the test ends.
func NewStoryScope(t testing.TB, conn *gorm.DB) domain.Scope {
	t.Helper()

	story := domain.Story{Title: t.Name()}
	if err := conn.Create(&story).Error; err != nil {
		t.Fatalf("create story: %v", err)
	}
	t.Cleanup(func() {
		conn.Delete(&domain.Story{}, story.ID)
	})
	return domain.StoryScope(story.ID)
}

// NewPieceScope is NewStoryScope for pieces.
func NewPieceScope(t testing.TB, conn *gorm.DB) domain.Scope {
	t.Helper()

	piece := domain.Piece{Title: t.Name()}
	if err := conn.Create(&piece).Error; err != nil {
		t.Fatalf("create piece: %v", err)
	}
	t.Cleanup(func() {
		conn.Delete(&domain.Piece{}, piece.ID)
	})
	return domain.PieceScope(piece.ID)
}
