package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"trade_engine/internal/domain"
	"trade_engine/internal/portfolio"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists run records, equity curves and the live fill journal.
type Storage struct {
	db *gorm.DB
}

var _ domain.FillJournal = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database at path. An empty path
// uses the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		path = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.RunEntity{}, &domain.FillEntity{}, &domain.EquityEntity{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TradeEngine", "data", "trade_engine.db"), nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// SaveRun creates or replaces a run record.
func (s *Storage) SaveRun(run *domain.RunEntity) error {
	return s.db.Save(run).Error
}

// GetRun retrieves a run by id. A missing run is (nil, nil).
func (s *Storage) GetRun(id string) (*domain.RunEntity, error) {
	var run domain.RunEntity
	err := s.db.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs first, without payloads.
func (s *Storage) ListRuns(limit int) ([]domain.RunEntity, error) {
	var runs []domain.RunEntity
	q := s.db.Omit("payload").Order("created_at desc, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

// DeleteRun removes a run and its equity curve.
func (s *Storage) DeleteRun(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&domain.EquityEntity{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.RunEntity{}).Error
	})
}

// SaveEquity replaces the stored equity curve of a run.
func (s *Storage) SaveEquity(runID string, curve []portfolio.EquityPoint) error {
	rows := make([]domain.EquityEntity, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, domain.EquityEntity{RunID: runID, At: p.Time, Equity: p.Equity, Cash: p.Cash})
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&domain.EquityEntity{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

func (s *Storage) LoadEquity(runID string) ([]domain.EquityEntity, error) {
	var rows []domain.EquityEntity
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&rows).Error
	return rows, err
}

// ======================================================================================
// Fill Journal
// ======================================================================================

// AppendFill journals a live fill. Appending a fill id twice is a no-op.
func (s *Storage) AppendFill(session string, f domain.Fill) error {
	ent := domain.NewFillEntity(session, f)
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&ent).Error
}

// LoadFills returns the journaled fills of a session in append order.
func (s *Storage) LoadFills(session string) ([]domain.Fill, error) {
	var rows []domain.FillEntity
	if err := s.db.Where("session = ?", session).Order("ordinal").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Fill, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Fill())
	}
	return out, nil
}
