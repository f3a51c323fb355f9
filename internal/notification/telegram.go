package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"futures-agent/internal/command"
)

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	Token   string
	ChatID  int64 // The only chat that receives messages and may issue commands
	Enabled bool
}

// StatusFunc renders the current agent status for /status
type StatusFunc func() string

// TelegramNotifier sends notifications to one chat and accepts /status and
// /closeall from it
type TelegramNotifier struct {
	bot     *tele.Bot
	chatID  int64
	enabled bool
	status  StatusFunc
	submit  command.Submitter
	logger  zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API. status and submit may be nil,
// which disables the matching command.
func NewTelegramNotifier(cfg TelegramConfig, status StatusFunc, submit command.Submitter, logger zerolog.Logger) (*TelegramNotifier, error) {
	t := &TelegramNotifier{
		chatID:  cfg.ChatID,
		enabled: cfg.Enabled && cfg.Token != "" && cfg.ChatID != 0,
		status:  status,
		submit:  submit,
		logger:  logger.With().Str("component", "Telegram").Logger(),
	}
	if !t.enabled {
		return t, nil
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = b
	t.setupHandlers()
	return t, nil
}

func (t *TelegramNotifier) setupHandlers() {
	t.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != t.chatID {
				return c.Send("⛔ Unauthorized")
			}
			return next(c)
		}
	})
	t.bot.Handle("/status", t.handleStatus)
	t.bot.Handle("/closeall", t.handleCloseAll)
}

func (t *TelegramNotifier) handleStatus(c tele.Context) error {
	if t.status == nil {
		return c.Send("Status is not available")
	}
	return c.Send(t.status(), tele.ModeMarkdown)
}

func (t *TelegramNotifier) handleCloseAll(c tele.Context) error {
	if t.submit == nil {
		return c.Send("Commands are not available")
	}
	issuer := "telegram"
	if c.Sender() != nil && c.Sender().Username != "" {
		issuer = "telegram:" + c.Sender().Username
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.submit.Submit(ctx, command.NewCloseAll(issuer)); err != nil {
		t.logger.Error().Err(err).Msg("Failed to submit close-all")
		return c.Send("❌ Failed to queue close-all: " + err.Error())
	}
	t.logger.Warn().Str("issuer", issuer).Msg("Close-all queued from Telegram")
	return c.Send("⚠️ Close-all queued; it runs at the start of the next cycle")
}

// Start polls for commands until Stop is called
func (t *TelegramNotifier) Start() {
	if t.bot == nil {
		return
	}
	t.logger.Info().Msg("Telegram bot started")
	t.bot.Start()
}

// Stop ends polling
func (t *TelegramNotifier) Stop() {
	if t.bot != nil {
		t.bot.Stop()
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled && t.bot != nil
}

func (t *TelegramNotifier) Send(n *Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	if _, err := t.bot.Send(tele.ChatID(t.chatID), n.Text(), tele.ModeMarkdown); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
