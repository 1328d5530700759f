package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-admission/config"
	"ticket-admission/internal/status"
	"ticket-admission/models"
)

// steppingClock advances one millisecond per reading, so every enqueue gets
// a strictly increasing score and FIFO order is observable.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *steppingClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// newScriptGate runs the gate against a real Redis (miniredis), so the Lua
// scripts themselves are under test rather than canned replies.
func newScriptGate(t *testing.T, maxConcurrent int) (*GateService, *recordingPublisher, *steppingClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	pub := &recordingPublisher{}
	events := &fakeEvents{
		event: &models.Event{ID: "ev1", Status: "published", VenueCapacity: 1000},
		gcfg: models.GateConfig{
			MaxConcurrentUsers: maxConcurrent,
			SessionTimeout:     10 * time.Minute,
			CheckoutTimeout:    5 * time.Minute,
		},
	}
	cfg := &config.Config{
		QueuePositionUpdate: 2 * time.Second,
		ExpirySweepInterval: 15 * time.Second,
		AbandonmentWindow:   2 * time.Hour,
		CleanupInterval:     time.Hour,
	}

	gate := NewGateService(client, events, NewNotifierServiceWithPublisher(pub), nil, cfg)
	clock := &steppingClock{now: testNow}
	gate.now = clock.Next
	seq := 0
	gate.newSessionID = func() string {
		seq++
		return fmt.Sprintf("sess_%02d", seq)
	}
	return gate, pub, clock
}

func TestGateScripts_CapAndPromotion(t *testing.T) {
	gate, pub, _ := newScriptGate(t, 2)
	ctx := context.Background()

	// Two slots: alice and bob go straight through.
	aliceResult, err := gate.RequestEntry(ctx, "ev1", "alice")
	require.NoError(t, err)
	require.True(t, aliceResult.Admitted)

	bobResult, err := gate.RequestEntry(ctx, "ev1", "bob")
	require.NoError(t, err)
	require.True(t, bobResult.Admitted)

	// Gate full: carol waits at position 1.
	carolResult, err := gate.RequestEntry(ctx, "ev1", "carol")
	require.NoError(t, err)
	assert.False(t, carolResult.Admitted)
	assert.Equal(t, 1, carolResult.QueuePosition)

	daveResult, err := gate.RequestEntry(ctx, "ev1", "dave")
	require.NoError(t, err)
	assert.False(t, daveResult.Admitted)
	assert.Equal(t, 2, daveResult.QueuePosition)

	// Re-entry while holding a session hands back the same session, never a
	// second slot.
	again, err := gate.RequestEntry(ctx, "ev1", "alice")
	require.NoError(t, err)
	require.True(t, again.Admitted)
	assert.Equal(t, aliceResult.Session.ID, again.Session.ID)
	activeCount, err := gate.Redis.HLen(ctx, "gate:active:ev1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, activeCount)

	// Re-entry while waiting keeps the spot and rank.
	carolAgain, err := gate.RequestEntry(ctx, "ev1", "carol")
	require.NoError(t, err)
	assert.False(t, carolAgain.Admitted)
	assert.Equal(t, 1, carolAgain.QueuePosition)

	// Alice exits: carol gets the freed slot in the same script, dave stays
	// queued, and the gate is full again.
	require.NoError(t, gate.ExitGate(ctx, "ev1", "alice"))

	messages := pub.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "user-carol", messages[0].Channel)
	assert.Equal(t, models.NotificationPromoted, messages[0].Payload["type"])

	activeCount, err = gate.Redis.HLen(ctx, "gate:active:ev1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, activeCount)
	waitingCount, err := gate.Redis.ZCard(ctx, "gate:waiting:ev1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, waitingCount)

	carolStatus, err := gate.QueueStatus(ctx, "ev1", "carol")
	require.NoError(t, err)
	assert.Equal(t, "promoted", carolStatus.Status)
	daveStatus, err := gate.QueueStatus(ctx, "ev1", "dave")
	require.NoError(t, err)
	assert.Equal(t, "waiting", daveStatus.Status)
	assert.Equal(t, 1, daveStatus.Position)

	// Bob is still inside, carol just got in: no slot frees for dave yet.
	client, err := gate.PromoteNext(ctx, "ev1", gate.events.(*fakeEvents).gcfg)
	require.NoError(t, err)
	assert.Empty(t, client)
}

func TestGateScripts_PromotionIsFIFO(t *testing.T) {
	gate, pub, _ := newScriptGate(t, 1)
	ctx := context.Background()

	_, err := gate.RequestEntry(ctx, "ev1", "alice")
	require.NoError(t, err)

	// dave enqueues before erin; the stepping clock guarantees a lower score.
	_, err = gate.RequestEntry(ctx, "ev1", "dave")
	require.NoError(t, err)
	_, err = gate.RequestEntry(ctx, "ev1", "erin")
	require.NoError(t, err)

	require.NoError(t, gate.ExitGate(ctx, "ev1", "alice"))
	require.NoError(t, gate.ExitGate(ctx, "ev1", "dave"))

	channels := []string{}
	for _, msg := range pub.all() {
		channels = append(channels, msg.Channel)
	}
	assert.Equal(t, []string{"user-dave", "user-erin"}, channels)
}

func TestGateScripts_LeavingTheQueueFreesNoSlot(t *testing.T) {
	gate, pub, _ := newScriptGate(t, 1)
	ctx := context.Background()

	_, err := gate.RequestEntry(ctx, "ev1", "alice")
	require.NoError(t, err)
	_, err = gate.RequestEntry(ctx, "ev1", "bob")
	require.NoError(t, err)
	_, err = gate.RequestEntry(ctx, "ev1", "carol")
	require.NoError(t, err)

	// Bob abandons his waiting spot: nobody is promoted, carol moves up.
	require.NoError(t, gate.ExitGate(ctx, "ev1", "bob"))
	assert.Empty(t, pub.all())

	carolStatus, err := gate.QueueStatus(ctx, "ev1", "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, carolStatus.Position)
}

func TestSessionScripts_RenewAndExpire(t *testing.T) {
	gate, pub, clock := newScriptGate(t, 1)
	ctx := context.Background()

	releaser := &fakeReleaser{}
	sessions := NewSessionService(gate.Redis, gate, releaser, gate.config)
	sessions.now = clock.Next

	aliceResult, err := gate.RequestEntry(ctx, "ev1", "alice")
	require.NoError(t, err)
	require.True(t, aliceResult.Admitted)
	aliceSession := aliceResult.Session.ID

	_, err = gate.RequestEntry(ctx, "ev1", "bob")
	require.NoError(t, err)

	// A live lease renews and its expiry moves forward. Expiries are unix
	// seconds, so cross a second boundary before renewing.
	clock.Set(testNow.Add(2 * time.Second))
	renewed, err := sessions.Renew(ctx, aliceSession)
	require.NoError(t, err)
	assert.Greater(t, renewed.ExpiresAt, aliceResult.Session.ExpiresAt)

	// Past the timeout the sweep evicts alice, returns her holds, and
	// promotes bob into the freed slot.
	clock.Set(testNow.Add(25 * time.Minute))
	expired, err := sessions.ExpireStale(ctx, "ev1")
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, []string{aliceSession}, releaser.all())

	messages := pub.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "user-bob", messages[0].Channel)

	bobStatus, err := gate.QueueStatus(ctx, "ev1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "promoted", bobStatus.Status)

	// The evicted lease is gone for good.
	_, err = sessions.Renew(ctx, aliceSession)
	assert.ErrorIs(t, err, status.ErrSessionExpired)
}
