package execution

import (
	"context"
	"testing"
	"time"

	"trade_engine/internal/domain"
)

func recv(t *testing.T, ch <-chan domain.BrokerNotice) domain.BrokerNotice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("no broker notice")
		return domain.BrokerNotice{}
	}
}

func TestPaperBroker_Buy(t *testing.T) {
	paper := NewPaperBroker(d("10000"), d("0"), 8)
	paper.Mark("BTCUSDT", d("50000"), t0)

	o := domain.NewOrder(1, domain.MarketOrder("BTCUSDT", domain.SideBuy, d("0.1")), t0, 0)
	ack, err := paper.Submit(context.Background(), o.Clone())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !ack.Accepted {
		t.Fatalf("Expected accepted, got %q", ack.Reason)
	}

	n := recv(t, paper.Notifications())
	if n.Kind != domain.NoticeFill {
		t.Fatalf("Expected FILL, got %s", n.Kind)
	}
	if !n.Fill.Price.Equal(d("50000")) || !n.Fill.Quantity.Equal(d("0.1")) {
		t.Errorf("Unexpected fill %s @ %s", n.Fill.Quantity, n.Fill.Price)
	}
	if n.Fill.Origin != domain.FillOriginLive {
		t.Errorf("Expected LIVE origin, got %s", n.Fill.Origin)
	}

	snap, _ := paper.Snapshot(context.Background())
	// 10000 - 0.1 * 50000
	if !snap.Cash.Equal(d("5000")) {
		t.Errorf("Expected 5000 cash, got %s", snap.Cash)
	}
	if !snap.Positions["BTCUSDT"].Equal(d("0.1")) {
		t.Errorf("Expected 0.1 BTC, got %s", snap.Positions["BTCUSDT"])
	}
}

func TestPaperBroker_LimitWaitsForMark(t *testing.T) {
	paper := NewPaperBroker(d("10000"), d("0.001"), 8)
	paper.Mark("ABC", d("105"), t0)

	o := domain.NewOrder(1, domain.LimitOrder("ABC", domain.SideBuy, d("10"), d("102")), t0, 0)
	if _, err := paper.Submit(context.Background(), o.Clone()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	snap, _ := paper.Snapshot(context.Background())
	if len(snap.OpenOrders) != 1 || !snap.OpenOrders[0].Remaining.Equal(d("10")) {
		t.Fatalf("Expected one resting order, got %+v", snap.OpenOrders)
	}

	paper.Mark("ABC", d("101"), t0.Add(time.Minute))
	n := recv(t, paper.Notifications())
	if n.Kind != domain.NoticeFill || !n.Fill.Price.Equal(d("101")) {
		t.Fatalf("Expected fill at 101, got %+v", n)
	}
	if !n.Fill.Commission.Equal(d("1.01")) {
		t.Errorf("Expected commission 1.01, got %s", n.Fill.Commission)
	}
	if !n.Time.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected fill time of the mark, got %s", n.Time)
	}
}

func TestPaperBroker_InsufficientFunds(t *testing.T) {
	paper := NewPaperBroker(d("100"), d("0"), 8)
	paper.Mark("BTCUSDT", d("50000"), t0)

	o := domain.NewOrder(3, domain.MarketOrder("BTCUSDT", domain.SideBuy, d("1")), t0, 0)
	if _, err := paper.Submit(context.Background(), o.Clone()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	n := recv(t, paper.Notifications())
	if n.Kind != domain.NoticeReject {
		t.Fatalf("Expected REJECT for insufficient funds, got %s", n.Kind)
	}
}

func TestPaperBroker_CancelAck(t *testing.T) {
	paper := NewPaperBroker(d("1000"), d("0"), 8)
	o := domain.NewOrder(4, domain.LimitOrder("ABC", domain.SideBuy, d("1"), d("90")), t0, 0)
	if _, err := paper.Submit(context.Background(), o.Clone()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := paper.Cancel(context.Background(), 4); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	n := recv(t, paper.Notifications())
	if n.Kind != domain.NoticeCancelAck || n.OrderID != 4 {
		t.Fatalf("Expected CANCEL_ACK for 4, got %+v", n)
	}
	// unknown orders are a no-op
	if err := paper.Cancel(context.Background(), 99); err != nil {
		t.Fatalf("Cancel of unknown order failed: %v", err)
	}
}

func TestPaperBroker_InjectedFailures(t *testing.T) {
	paper := NewPaperBroker(d("1000"), d("0"), 8)
	paper.FailNext(1)
	o := domain.NewOrder(5, domain.MarketOrder("ABC", domain.SideBuy, d("1")), t0, 0)
	_, err := paper.Submit(context.Background(), o.Clone())
	if !domain.IsRetriable(err) {
		t.Fatalf("Expected retriable error, got %v", err)
	}
	if _, err := paper.Submit(context.Background(), o.Clone()); err != nil {
		t.Fatalf("Second submit failed: %v", err)
	}
}

func TestPaperBroker_ImplementsInterfaces(t *testing.T) {
	var _ domain.Broker = (*PaperBroker)(nil)
	var _ Marker = (*PaperBroker)(nil)
}
