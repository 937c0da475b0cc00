package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Broker is the narrow interface to a real or paper brokerage.
// Submit and Cancel only acknowledge; outcomes arrive on Notifications.
type Broker interface {
	Submit(ctx context.Context, order Order) (BrokerAck, error)
	Cancel(ctx context.Context, orderID uint64) error
	Notifications() <-chan BrokerNotice
	Snapshot(ctx context.Context) (BrokerSnapshot, error)
}

// BrokerAck is the synchronous answer to a submission.
type BrokerAck struct {
	OrderID  uint64
	BrokerID string
	Accepted bool
	Reason   string
}

type NoticeKind string

const (
	NoticeFill      NoticeKind = "FILL"
	NoticeReject    NoticeKind = "REJECT"
	NoticeCancelAck NoticeKind = "CANCEL_ACK"
)

// BrokerNotice is an asynchronous broker callback. Fill is set only for
// NoticeFill.
type BrokerNotice struct {
	Kind    NoticeKind
	OrderID uint64
	Fill    Fill
	Reason  string
	Time    time.Time
}

// BrokerOrder is the broker's view of one open order.
type BrokerOrder struct {
	OrderID   uint64
	Remaining decimal.Decimal
}

// BrokerSnapshot is the broker-side state used for reconciliation.
type BrokerSnapshot struct {
	Cash       decimal.Decimal
	OpenOrders []BrokerOrder
	Positions  map[string]decimal.Decimal
}

// FillJournal persists live fills so a restarted session can rebuild its
// ledger.
type FillJournal interface {
	AppendFill(session string, f Fill) error
}
