package services

import (
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"

	"ticket-admission/models"
	"ticket-admission/utils"
)

// Publisher is the realtime transport boundary. Delivery is best-effort,
// at-least-once; consumers must treat duplicates as idempotent.
type Publisher interface {
	Publish(channel string, message map[string]any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func (p *pubnubPublisher) Publish(channel string, message map[string]any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

// NotifierService delivers queue-position and promotion events to waiting
// clients on their private channel. Publishes run through a circuit breaker
// so a failing transport degrades to silence instead of stalling the gate.
type NotifierService struct {
	publisher Publisher
	breaker   *utils.CircuitBreaker
}

func NewNotifierService(pn *pubnub.PubNub) *NotifierService {
	return &NotifierService{
		publisher: &pubnubPublisher{pn: pn},
		breaker:   utils.NewCircuitBreaker("pubnub"),
	}
}

// NewNotifierServiceWithPublisher wires a custom transport, used in tests.
func NewNotifierServiceWithPublisher(p Publisher) *NotifierService {
	return &NotifierService{
		publisher: p,
		breaker:   utils.NewCircuitBreaker("pubnub"),
	}
}

func clientChannel(clientID string) string {
	return fmt.Sprintf("user-%s", clientID)
}

// NotifyPromoted tells a client their queue entry became an active session.
// Promotion is terminal for the queue membership: the caller removes the
// client from the waiting queue before invoking this, so no position update
// can follow.
func (s *NotifierService) NotifyPromoted(clientID, eventID string) {
	s.publish(clientID, models.Notification{
		Type:    models.NotificationPromoted,
		EventID: eventID,
	})
}

func (s *NotifierService) NotifyPosition(clientID, eventID string, position int) {
	s.publish(clientID, models.Notification{
		Type:     models.NotificationPositionChanged,
		EventID:  eventID,
		Position: position,
	})
}

func (s *NotifierService) publish(clientID string, n models.Notification) {
	message := map[string]any{
		"type":     n.Type,
		"event_id": n.EventID,
	}
	if n.Type == models.NotificationPositionChanged {
		message["position"] = n.Position
	}

	err := s.breaker.Execute(func() error {
		return s.publisher.Publish(clientChannel(clientID), message)
	})
	if err != nil {
		slog.Warn("notifier publish failed", "client_id", clientID, "type", n.Type, "error", err)
	}
}

// ShouldNotifyPosition throttles position broadcasts: clients close to the
// front hear every tick, the long tail hears every 50th position.
func ShouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	case position <= 100:
		return position%10 == 0
	default:
		return position%50 == 0
	}
}
