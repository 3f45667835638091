package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"gymbook/internal/domain/domaintest"
	"gymbook/internal/eligibility"
	"gymbook/internal/events"
	"gymbook/internal/models"
	"gymbook/internal/notify"
	"gymbook/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stuckSender stands in for a Telegram API that never answers.
type stuckSender struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (s *stuckSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return tgbotapi.Message{}, nil
}

func (s *stuckSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestBookAndCancel_DoNotWaitForTelegram(t *testing.T) {
	repo := repository.NewMemoryStore()
	domaintest.Seed(t, repo, slotDay, 5, 9)

	logger := zerolog.Nop()
	bus := events.NewEventBus(&logger)
	sender := &stuckSender{release: make(chan struct{})}
	defer close(sender.release)

	n := notify.NewNotifier(sender, 1, &logger)
	n.Subscribe(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Start(ctx)

	engine := eligibility.NewEngine(eligibility.DefaultRules(), time.UTC)
	svc := NewBookingService(repo, engine, bus, &logger)

	done := make(chan error, 1)
	go func() {
		b, err := svc.Book(context.Background(), "u1", models.NewSlotID(slotDay, 9), now)
		if err != nil {
			done <- err
			return
		}
		done <- svc.Cancel(context.Background(), models.Actor{UserID: "u1", Role: models.RoleUser}, b.ID, now)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("booking waited for the telegram sender")
	}

	// sender is stuck on the first message; the second one sits in the queue
	assert.Eventually(t, func() bool { return sender.Calls() == 1 }, time.Second, 10*time.Millisecond)
}
