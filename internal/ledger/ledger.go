// Package ledger records which assignments already have a thread.
//
// The uid primary key is what prevents a second record; Exists only lets
// callers skip work early.
package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"assignbot/internal/apperr"
	"assignbot/internal/model"
)

// ErrAlreadyExists is returned by Record when the uid is already stored.
var ErrAlreadyExists = errors.New("publication record already exists")

// Ledger is a sqlite-backed publication ledger.
type Ledger struct {
	db   *gorm.DB
	path string
}

// Open opens (creating if needed) the ledger database at path and migrates
// the schema.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, goerr.New("ledger path is empty", goerr.T(apperr.TagStorage))
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create ledger directory",
				goerr.V("dir", dir), goerr.T(apperr.TagStorage))
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open ledger",
			goerr.V("path", path), goerr.T(apperr.TagStorage))
	}

	// sqlite allows a single writer.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.PublicationRecord{}); err != nil {
		return nil, goerr.Wrap(err, "failed to migrate ledger schema",
			goerr.V("path", path), goerr.T(apperr.TagStorage))
	}
	return &Ledger{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Exists reports whether a record for uid is stored.
func (l *Ledger) Exists(ctx context.Context, uid string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&model.PublicationRecord{}).
		Where("uid = ?", uid).
		Count(&count).Error
	if err != nil {
		return false, goerr.Wrap(err, "failed to query ledger",
			goerr.V("uid", uid), goerr.T(apperr.TagStorage))
	}
	return count > 0, nil
}

// Record inserts rec. If a record with the same uid exists the stored row
// is left untouched and ErrAlreadyExists is returned.
func (l *Ledger) Record(ctx context.Context, rec *model.PublicationRecord) error {
	if rec == nil || rec.UID == "" {
		return goerr.New("publication record has no uid", goerr.T(apperr.TagStorage))
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return goerr.Wrap(res.Error, "failed to insert publication record",
			goerr.V("uid", rec.UID), goerr.T(apperr.TagStorage))
	}
	if res.RowsAffected == 0 {
		return goerr.Wrap(ErrAlreadyExists, "publication record conflict", goerr.V("uid", rec.UID))
	}
	return nil
}

// Get returns the record for uid, or nil when none is stored.
func (l *Ledger) Get(ctx context.Context, uid string) (*model.PublicationRecord, error) {
	var rec model.PublicationRecord
	err := l.db.WithContext(ctx).Where("uid = ?", uid).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read publication record",
			goerr.V("uid", uid), goerr.T(apperr.TagStorage))
	}
	return &rec, nil
}

// List returns the most recently posted records first. limit <= 0 returns
// every record.
func (l *Ledger) List(ctx context.Context, limit int) ([]model.PublicationRecord, error) {
	q := l.db.WithContext(ctx).Order("posted_at DESC").Order("uid")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []model.PublicationRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list publication records", goerr.T(apperr.TagStorage))
	}
	return recs, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to access ledger handle", goerr.T(apperr.TagStorage))
	}
	if err := sqlDB.Close(); err != nil {
		return goerr.Wrap(err, "failed to close ledger", goerr.T(apperr.TagStorage))
	}
	return nil
}
