package db

import (
	"fmt"
	"script-desk/internal/domain"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(zl *zap.Logger) error {
	if err := MigrateSchema(AppDb); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	zl.Info("database schema migrated")
	return nil
}

// MigrateSchema creates the owner tables and script_entries with its
// partial (scope, ordinal) unique indexes and the one-owner check.
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Story{},
		&domain.Piece{},
		&domain.ScriptEntry{},
	)
}

// SeedData seeds the database with initial data (for development only)
func SeedData(zl *zap.Logger) {
	story := domain.Story{ID: 1, Title: "Harbour expansion: who pays?"}
	piece := domain.Piece{ID: 1, Title: "Weekend explainer: tide tables"}

	if err := AppDb.Where(domain.Story{ID: story.ID}).FirstOrCreate(&story).Error; err != nil {
		zl.Warn("failed to seed story", zap.Error(err))
	} else {
		zl.Info("seeded story", zap.Uint64("id", story.ID), zap.String("title", story.Title))
	}

	if err := AppDb.Where(domain.Piece{ID: piece.ID}).FirstOrCreate(&piece).Error; err != nil {
		zl.Warn("failed to seed piece", zap.Error(err))
	} else {
		zl.Info("seeded piece", zap.Uint64("id", piece.ID), zap.String("title", piece.Title))
	}
}
