package db

import (
	"fmt"
	"script-desk/internal/config"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var AppDb *gorm.DB

func ConnectDb(zl *zap.Logger) error {
	db, err := Open(DSN(config.AppConfig), config.AppConfig.Environment, zl)
	if err != nil {
		return err
	}
	AppDb = db
	zl.Info("connected to database",
		zap.String("host", config.AppConfig.DBHost),
		zap.String("name", config.AppConfig.DBName))

	return nil
}

func DSN(cfg config.Config) string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)
}

// gormWriter sends gorm's query log through zap.
type gormWriter struct {
	logger *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Infof(format, args...)
}

// Open connects with the slow query logger and translated driver errors,
// so unique violations surface as gorm.ErrDuplicatedKey.
func Open(dsn, environment string, zl *zap.Logger) (*gorm.DB, error) {
	level := logger.Info
	if environment == "production" {
		level = logger.Error
	}
	newLogger := logger.New(
		gormWriter{logger: zl.Named("gorm").Sugar()},
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to db: %w", err)
	}
	return db, nil
}

func CloseDb(zl *zap.Logger) {
	sqlDB, err := AppDb.DB()
	if err != nil {
		zl.Warn("failed to get db handle", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		zl.Warn("failed to close db", zap.Error(err))
		return
	}
	zl.Info("database connection closed")
}
