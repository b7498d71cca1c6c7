package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// snapshotModel is the GORM row backing one user's snapshot.
type snapshotModel struct {
	Email     string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (snapshotModel) TableName() string { return "session_snapshots" }

// GormStore implements Store on a relational database. The DSN picks the
// driver: postgres URLs and keyword DSNs open Postgres, anything else is
// treated as a SQLite path.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migration.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("snapshot store dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.AutoMigrate(&snapshotModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func dialectorFor(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Save upserts the snapshot for its user.
func (s *GormStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.User.Email == "" {
		return fmt.Errorf("snapshot user email required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	model := snapshotModel{
		Email:     snap.User.Email,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&model).Error
}

// Load returns the stored snapshot for an email, if any.
func (s *GormStore) Load(ctx context.Context, email string) (Snapshot, bool, error) {
	var model snapshotModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(model.Payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Clear removes the stored snapshot for an email.
func (s *GormStore) Clear(ctx context.Context, email string) error {
	return s.db.WithContext(ctx).Delete(&snapshotModel{}, "email = ?", email).Error
}
