package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunEntity is a persisted run record. Payload holds the versioned JSON.
type RunEntity struct {
	ID             string          `gorm:"primaryKey" json:"id"`
	Mode           string          `gorm:"index" json:"mode"`
	Version        int             `json:"version"`
	Events         uint64          `json:"events"`
	InitialCapital decimal.Decimal `gorm:"type:text" json:"initial_capital"`
	FinalEquity    decimal.Decimal `gorm:"type:text" json:"final_equity"`
	Halted         bool            `json:"halted"`
	Payload        []byte          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FillEntity is one line of the live fill journal, keyed by session.
// Ordinal preserves append order for replay.
type FillEntity struct {
	Ordinal    uint64          `gorm:"primaryKey;autoIncrement" json:"ordinal"`
	Session    string          `gorm:"index" json:"session"`
	FillID     string          `gorm:"uniqueIndex" json:"fill_id"`
	OrderID    uint64          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `gorm:"type:text" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:text" json:"price"`
	Commission decimal.Decimal `gorm:"type:text" json:"commission"`
	Origin     string          `json:"origin"`
	FilledAt   time.Time       `json:"filled_at"`
}

// EquityEntity is one equity-curve sample of a run.
type EquityEntity struct {
	ID     uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID  string          `gorm:"index" json:"run_id"`
	At     time.Time       `json:"at"`
	Equity decimal.Decimal `gorm:"type:text" json:"equity"`
	Cash   decimal.Decimal `gorm:"type:text" json:"cash"`
}

func NewFillEntity(session string, f Fill) FillEntity {
	return FillEntity{
		Session:    session,
		FillID:     f.ID,
		OrderID:    f.OrderID,
		Instrument: f.Instrument,
		Side:       string(f.Side),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
		Origin:     string(f.Origin),
		FilledAt:   f.Time,
	}
}

func (e FillEntity) Fill() Fill {
	return Fill{
		ID:         e.FillID,
		OrderID:    e.OrderID,
		Instrument: e.Instrument,
		Side:       Side(e.Side),
		Quantity:   e.Quantity,
		Price:      e.Price,
		Commission: e.Commission,
		Time:       e.FilledAt.UTC(),
		Origin:     FillOrigin(e.Origin),
	}
}
