package notification

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"futures-agent/internal/events"
	"futures-agent/internal/logging"
	"futures-agent/internal/position"
	"futures-agent/internal/state"
	"futures-agent/internal/trading"
)

type recordingNotifier struct {
	mu      sync.Mutex
	enabled bool
	fail    bool
	sent    []*Notification
	done    chan struct{}
}

func (r *recordingNotifier) Send(n *Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingNotifier) Name() string   { return "recording" }
func (r *recordingNotifier) IsEnabled() bool { return r.enabled }

func TestManagerSkipsDisabledNotifiers(t *testing.T) {
	m := NewManager(logging.Nop())
	on := &recordingNotifier{enabled: true}
	off := &recordingNotifier{enabled: false}
	m.AddNotifier(on)
	m.AddNotifier(off)

	if err := m.Send(&Notification{Type: NotifyInfo, Title: "hello"}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(on.sent) != 1 {
		t.Errorf("Expected 1 message on enabled notifier, got %d", len(on.sent))
	}
	if len(off.sent) != 0 {
		t.Errorf("Expected 0 messages on disabled notifier, got %d", len(off.sent))
	}
	if on.sent[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled")
	}
}

func TestManagerReturnsFailure(t *testing.T) {
	m := NewManager(logging.Nop())
	m.AddNotifier(&recordingNotifier{enabled: true, fail: true})
	if err := m.Send(&Notification{Title: "x"}); err == nil {
		t.Error("Expected notifier error to surface")
	}
}

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    events.Event
		wantNil  bool
		wantType NotificationType
		contains string
	}{
		{
			name:     "entry fill",
			event:    events.Event{Type: events.EventOrderFilled, Data: map[string]interface{}{"symbol": "BTCUSDT", "side": "BUY", "quantity": 0.5, "price": 100.0, "reason": "BREAKOUT", "reduce_only": false}},
			wantType: NotifyTradeOpen,
			contains: "BTCUSDT",
		},
		{
			name:    "reduce-only fill is left to position closed",
			event:   events.Event{Type: events.EventOrderFilled, Data: map[string]interface{}{"symbol": "BTCUSDT", "reduce_only": true}},
			wantNil: true,
		},
		{
			name:     "losing close",
			event:    events.Event{Type: events.EventPositionClosed, Data: map[string]interface{}{"symbol": "ETHUSDT", "reason": "TRAILING_STOP", "realized_pnl": -3.5}},
			wantType: NotifyTradeClose,
			contains: "❌",
		},
		{
			name:     "breaker trip",
			event:    events.Event{Type: events.EventCircuitBreaker, Data: map[string]interface{}{"action": "trip", "reason": "drawdown", "drawdown": 0.26}},
			wantType: NotifyCircuitBreaker,
			contains: "26.00%",
		},
		{
			name:     "close-all counts",
			event:    events.Event{Type: events.EventCloseAll, Data: map[string]interface{}{"trigger": "command:api", "closed": 3, "failed": 1}},
			wantType: NotifyCloseAll,
			contains: "Closed: 3 | Failed: 1",
		},
		{
			name:    "cycles are not forwarded",
			event:   events.Event{Type: events.EventCycleCompleted},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromEvent(tt.event)
			if tt.wantNil {
				if n != nil {
					t.Errorf("Expected nil notification, got %+v", n)
				}
				return
			}
			if n == nil {
				t.Fatal("Expected notification, got nil")
			}
			if n.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, n.Type)
			}
			if !strings.Contains(n.Text(), tt.contains) {
				t.Errorf("Expected text to contain %q, got %q", tt.contains, n.Text())
			}
		})
	}
}

func TestAttachForwardsBusEvents(t *testing.T) {
	bus := events.NewEventBus()
	m := NewManager(logging.Nop())
	rec := &recordingNotifier{enabled: true, done: make(chan struct{}, 4)}
	m.AddNotifier(rec)
	m.Attach(bus)

	bus.PublishPositionClosed("BTCUSDT", trading.ReasonTrailingStop, 12.5)

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected notification from bus event")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.sent[0].Type != NotifyTradeClose || rec.sent[0].PnL != 12.5 {
		t.Errorf("Unexpected notification %+v", rec.sent[0])
	}
}

func TestTelegramDisabledWithoutToken(t *testing.T) {
	n, err := NewTelegramNotifier(TelegramConfig{Enabled: true, ChatID: 42}, nil, nil, logging.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n.IsEnabled() {
		t.Error("Expected notifier disabled without a token")
	}
	if err := n.Send(&Notification{Title: "x"}); err != nil {
		t.Errorf("Expected silent no-op, got %v", err)
	}
}

func TestFormatStatus(t *testing.T) {
	snap := state.Snapshot{
		Timestamp:    time.Now(),
		Cycle:        12,
		Balance:      1010,
		Sentiment:    0.75,
		Halted:       true,
		HaltReason:   "drawdown 26.00% exceeds 25.00%",
		PaperTrading: true,
		Positions: map[string]position.State{
			"ETHUSDT": {Symbol: "ETHUSDT", Size: -2, EntryPrice: 50},
			"BTCUSDT": {Symbol: "BTCUSDT", Size: 1, EntryPrice: 100},
		},
	}
	text := FormatStatus(snap)

	for _, want := range []string{"PAPER", "Cycle 12", "75% bullish", "HALTED", "Positions: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in status, got:\n%s", want, text)
		}
	}
	if strings.Index(text, "BTCUSDT") > strings.Index(text, "ETHUSDT") {
		t.Error("Expected positions sorted by symbol")
	}
	if !strings.Contains(text, "ETHUSDT SHORT") {
		t.Error("Expected ETHUSDT reported as short")
	}
}
