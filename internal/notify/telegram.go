package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/events"
	"gymbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const sendTimeout = 10 * time.Second

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to Telegram with the configured token. Requests are
// bounded by sendTimeout.
func NewBotAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: sendTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// Notifier tells the admin chat about bookings and cancellations. Event
// handlers only enqueue; Start does the sending.
type Notifier struct {
	bot    Sender
	chatID int64
	queue  chan string
	logger *zerolog.Logger
}

func NewNotifier(bot Sender, chatID int64, logger *zerolog.Logger) *Notifier {
	l := logger.With().Str("component", "notify").Logger()
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan string, models.WorkerQueueSize),
		logger: &l,
	}
}

// Subscribe registers the notifier for booking events on bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, n.HandleEvent)
	bus.Subscribe(events.EventBookingCancelled, n.HandleEvent)
}

// HandleEvent never blocks: a full queue drops the message.
func (n *Notifier) HandleEvent(event *events.Event) error {
	var p events.BookingEventPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode booking event: %w", err)
	}

	text, ok := formatBookingEvent(event.Type, p)
	if !ok {
		return nil
	}

	select {
	case n.queue <- text:
	default:
		n.logger.Warn().Str("event", event.Type).Str("booking_id", p.BookingID).Msg("notify queue full, message dropped")
	}
	return nil
}

// Start sends queued messages until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.logger.Info().Msg("telegram notifier started")
	defer n.logger.Info().Msg("telegram notifier stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			n.send(text)
		}
	}
}

func (n *Notifier) send(text string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		n.logger.Warn().Err(err).Msg("telegram send failed")
	}
}

func formatBookingEvent(eventType string, p events.BookingEventPayload) (string, bool) {
	switch eventType {
	case events.EventBookingCreated:
		return fmt.Sprintf("New booking: %s on %s at %02d:00 (id %s)", p.UserID, p.Date, p.Hour, p.BookingID), true
	case events.EventBookingCancelled:
		msg := fmt.Sprintf("Cancelled: %s on %s at %02d:00 (id %s)", p.UserID, p.Date, p.Hour, p.BookingID)
		if p.Actor != "" && p.Actor != p.UserID {
			msg += " by " + p.Actor
		}
		return msg, true
	default:
		return "", false
	}
}
