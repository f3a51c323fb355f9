package notification

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-agent/internal/events"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen      NotificationType = "trade_open"
	NotifyTradeClose     NotificationType = "trade_close"
	NotifyCircuitBreaker NotificationType = "circuit_breaker"
	NotifyCloseAll       NotificationType = "close_all"
	NotifyBlacklist      NotificationType = "blacklist"
	NotifyError          NotificationType = "error"
	NotifyInfo           NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Text renders the notification as a Markdown message
func (n *Notification) Text() string {
	if n.Message == "" {
		return fmt.Sprintf("*%s*", n.Title)
	}
	return fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message)
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates a new notification manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "Notifications").Logger()}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to all enabled providers and returns the last failure
func (m *Manager) Send(n *Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()

	var lastErr error
	for _, notifier := range notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("notifier", notifier.Name()).Str("type", string(n.Type)).Msg("Notification failed")
			lastErr = err
		}
	}
	return lastErr
}

// Attach subscribes the manager to the agent's event bus. Only events an
// operator acts on are forwarded; cycles and signals stay on the dashboard.
func (m *Manager) Attach(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventOrderFilled,
		events.EventPositionClosed,
		events.EventCircuitBreaker,
		events.EventCloseAll,
		events.EventBlacklisted,
		events.EventError,
		events.EventAgentStarted,
		events.EventAgentStopped,
	} {
		bus.Subscribe(t, func(e events.Event) {
			if n := FromEvent(e); n != nil {
				_ = m.Send(n)
			}
		})
	}
}

// FromEvent maps a bus event to a notification, or nil when the event is not
// worth a message
func FromEvent(e events.Event) *Notification {
	str := func(key string) string {
		s, _ := e.Data[key].(string)
		return s
	}
	num := func(key string) float64 {
		switch v := e.Data[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
		return 0
	}

	n := &Notification{Timestamp: e.Timestamp, Symbol: str("symbol")}
	switch e.Type {
	case events.EventOrderFilled:
		// Closes are reported through POSITION_CLOSED
		if reduceOnly, _ := e.Data["reduce_only"].(bool); reduceOnly {
			return nil
		}
		n.Type = NotifyTradeOpen
		n.Price = num("price")
		n.Title = fmt.Sprintf("📈 %s %s", str("side"), n.Symbol)
		n.Message = fmt.Sprintf("Qty: %.6g @ %.6g\nReason: %s", num("quantity"), n.Price, str("reason"))

	case events.EventPositionClosed:
		n.Type = NotifyTradeClose
		n.PnL = num("realized_pnl")
		emoji := "✅"
		if n.PnL < 0 {
			emoji = "❌"
		}
		n.Title = fmt.Sprintf("%s Closed %s", emoji, n.Symbol)
		n.Message = fmt.Sprintf("P&L: %.4f\nReason: %s", n.PnL, str("reason"))

	case events.EventCircuitBreaker:
		n.Type = NotifyCircuitBreaker
		if str("action") == "reset" {
			n.Title = "🟢 Circuit breaker reset"
			n.Message = str("reason")
		} else {
			n.Title = "🛑 Circuit breaker tripped"
			n.Message = fmt.Sprintf("Drawdown: %.2f%%\n%s\nAll positions are being closed; new entries are halted.", num("drawdown")*100, str("reason"))
		}

	case events.EventCloseAll:
		n.Type = NotifyCloseAll
		n.Title = "⚠️ Close-all sweep"
		n.Message = fmt.Sprintf("Trigger: %s\nClosed: %.0f | Failed: %.0f", str("trigger"), num("closed"), num("failed"))

	case events.EventBlacklisted:
		n.Type = NotifyBlacklist
		n.Title = fmt.Sprintf("🚫 %s blacklisted", n.Symbol)
		n.Message = str("reason")

	case events.EventError:
		n.Type = NotifyError
		n.Title = fmt.Sprintf("⚠️ %s", str("message"))
		n.Message = str("error")

	case events.EventAgentStarted:
		n.Type = NotifyInfo
		mode := "LIVE"
		if paper, _ := e.Data["paper"].(bool); paper {
			mode = "PAPER"
		}
		n.Title = fmt.Sprintf("🤖 Agent started (%s)", mode)
		n.Message = fmt.Sprintf("Initial balance: %.2f", num("initial_balance"))

	case events.EventAgentStopped:
		n.Type = NotifyInfo
		n.Title = "⏹️ Agent stopped"

	default:
		return nil
	}
	return n
}
