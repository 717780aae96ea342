// Package instruments persists tracked instruments in sqlite.
package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultPath = "./data/sipbot.db"

var (
	ErrNotFound = errors.New("instrument not found")
	ErrExists   = errors.New("instrument already tracked")
)

// instrumentModel maps to the 'instruments' table.
type instrumentModel struct {
	Symbol            string          `gorm:"column:symbol;primaryKey"`
	Exchange          string          `gorm:"column:exchange"`
	BrokerToken       string          `gorm:"column:broker_token"`
	Mode              string          `gorm:"column:mode"`
	Quantity          decimal.Decimal `gorm:"column:quantity;type:text"`
	AvgPrice          decimal.Decimal `gorm:"column:avg_price;type:text"`
	SIPAmount         decimal.Decimal `gorm:"column:sip_amount;type:text"`
	SIPFrequencyDays  int             `gorm:"column:sip_frequency_days"`
	LastExecutionDate *time.Time      `gorm:"column:last_execution_date"`
	NextActionDate    *time.Time      `gorm:"column:next_action_date"`
	OrderQuantity     decimal.Decimal `gorm:"column:order_quantity;type:text"`
	Notes             string          `gorm:"column:notes"`
	Reentry           datatypes.JSON  `gorm:"column:reentry"`
	Position          int             `gorm:"column:position;index"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (instrumentModel) TableName() string { return "instruments" }

// Store is the sqlite backed instrument repository.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open instrument database")
	}

	if err := db.AutoMigrate(&instrumentModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate instruments")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db}, nil
}

// List returns all instruments in insertion order.
func (s *Store) List(ctx context.Context) ([]domain.Instrument, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("instrument store is not initialized")
	}

	var rows []instrumentModel
	if err := s.db.WithContext(ctx).Order("position ASC, symbol ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list instruments")
	}

	out := make([]domain.Instrument, 0, len(rows))
	for _, r := range rows {
		inst, err := fromModel(r)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}

	return out, nil
}

func (s *Store) Get(ctx context.Context, symbol string) (domain.Instrument, error) {
	if s == nil || s.db == nil {
		return domain.Instrument{}, errors.New("instrument store is not initialized")
	}

	var row instrumentModel
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Instrument{}, errors.Wrap(ErrNotFound, symbol)
	}
	if err != nil {
		return domain.Instrument{}, errors.Wrapf(err, "get instrument %s", symbol)
	}

	return fromModel(row)
}

// Create starts tracking a new instrument at the end of the iteration order.
func (s *Store) Create(ctx context.Context, inst domain.Instrument) (domain.Instrument, error) {
	if s == nil || s.db == nil {
		return domain.Instrument{}, errors.New("instrument store is not initialized")
	}
	if inst.Mode == "" {
		inst.Mode = domain.ModeHold
	}
	if err := inst.Validate(); err != nil {
		return domain.Instrument{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&instrumentModel{}).Where("symbol = ?", inst.Symbol).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.Wrap(ErrExists, inst.Symbol)
		}

		var maxPos int
		if err := tx.Model(&instrumentModel{}).Select("COALESCE(MAX(position), 0)").Row().Scan(&maxPos); err != nil {
			return err
		}
		inst.Position = maxPos + 1

		row, err := toModel(inst)
		if err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return domain.Instrument{}, errors.Wrapf(err, "create instrument %s", inst.Symbol)
	}

	return inst, nil
}

// Save upserts the full instrument state.
func (s *Store) Save(ctx context.Context, inst domain.Instrument) error {
	if s == nil || s.db == nil {
		return errors.New("instrument store is not initialized")
	}
	if err := inst.CheckInvariant(); err != nil {
		return err
	}

	row, err := toModel(inst)
	if err != nil {
		return err
	}

	return errors.Wrapf(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error, "save instrument %s", inst.Symbol)
}

func (s *Store) Delete(ctx context.Context, symbol string) error {
	if s == nil || s.db == nil {
		return errors.New("instrument store is not initialized")
	}

	res := s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&instrumentModel{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete instrument %s", symbol)
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, symbol)
	}

	return nil
}

// Seed creates the configured instruments that are not tracked yet. Existing
// rows keep their state.
func (s *Store) Seed(ctx context.Context, seed []domain.Instrument) (int, error) {
	created := 0
	for _, inst := range seed {
		_, err := s.Create(ctx, inst)
		if errors.Is(err, ErrExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	return created, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(inst domain.Instrument) (instrumentModel, error) {
	row := instrumentModel{
		Symbol:            inst.Symbol,
		Exchange:          inst.Exchange,
		BrokerToken:       inst.BrokerToken,
		Mode:              string(inst.Mode),
		Quantity:          inst.Quantity,
		AvgPrice:          inst.AvgPrice,
		SIPAmount:         inst.SIPAmount,
		SIPFrequencyDays:  inst.SIPFrequencyDays,
		LastExecutionDate: inst.LastExecutionDate,
		NextActionDate:    inst.NextActionDate,
		OrderQuantity:     inst.OrderQuantity,
		Notes:             inst.Notes,
		Position:          inst.Position,
	}
	if inst.Reentry != nil {
		payload, err := json.Marshal(inst.Reentry)
		if err != nil {
			return instrumentModel{}, errors.Wrap(err, "encode re-entry state")
		}
		row.Reentry = datatypes.JSON(payload)
	}

	return row, nil
}

func fromModel(row instrumentModel) (domain.Instrument, error) {
	inst := domain.Instrument{
		Symbol:            row.Symbol,
		Exchange:          row.Exchange,
		BrokerToken:       row.BrokerToken,
		Mode:              domain.Mode(row.Mode),
		Quantity:          row.Quantity,
		AvgPrice:          row.AvgPrice,
		SIPAmount:         row.SIPAmount,
		SIPFrequencyDays:  row.SIPFrequencyDays,
		LastExecutionDate: row.LastExecutionDate,
		NextActionDate:    row.NextActionDate,
		OrderQuantity:     row.OrderQuantity,
		Notes:             row.Notes,
		Position:          row.Position,
	}
	if len(row.Reentry) > 0 && string(row.Reentry) != "null" {
		var r domain.Reentry
		if err := json.Unmarshal(row.Reentry, &r); err != nil {
			return domain.Instrument{}, errors.Wrapf(err, "decode re-entry state of %s", row.Symbol)
		}
		inst.Reentry = &r
	}

	return inst, nil
}
