package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-admission/config"
	"ticket-admission/internal/status"
	"ticket-admission/models"
)

// renewScript extends a live lease by one timeout window. A lease that is
// missing, swept, or already past expiry cannot be renewed.
//
// KEYS: 1 active hash, 2 session lookup key
// ARGV: 1 clientID, 2 sessionID, 3 now, 4 new expiresAt, 5 lookup TTL seconds
const renewScript = `
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return {'missing', ''}
end
local sess = cjson.decode(raw)
if sess['id'] ~= ARGV[2] then
  return {'missing', ''}
end
if tonumber(sess['expires_at']) <= tonumber(ARGV[3]) then
  return {'expired', ''}
end
sess['expires_at'] = tonumber(ARGV[4])
local enc = cjson.encode(sess)
redis.call('HSET', KEYS[1], ARGV[1], enc)
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[5]))
return {'renewed', enc}
`

// expireStaleScript removes every lease past its expiry and returns the
// removed (clientID, sessionJSON) pairs flattened. Expiring an already-swept
// lease is a no-op, so concurrent sweepers are safe.
//
// KEYS: 1 active hash
// ARGV: 1 now, 2 session lookup prefix
const expireStaleScript = `
local expired = {}
local all = redis.call('HGETALL', KEYS[1])
for i = 1, #all, 2 do
  local sess = cjson.decode(all[i+1])
  if tonumber(sess['expires_at']) <= tonumber(ARGV[1]) then
    redis.call('HDEL', KEYS[1], all[i])
    redis.call('DEL', ARGV[2] .. sess['id'])
    table.insert(expired, all[i])
    table.insert(expired, all[i+1])
  end
end
return expired
`

// ReservationReleaser lets the session sweep return a dead session's
// inventory holds without a package cycle into the ledger.
type ReservationReleaser interface {
	ReleaseBySession(ctx context.Context, sessionID string) (int, error)
}

// SessionService manages the time-bounded leases the gate hands out. A lease
// ending by any path (renewal lapse, explicit release, checkout completion)
// frees one slot, and the freed slot promotes at most one waiting client.
type SessionService struct {
	Redis  *redis.Client
	gate   *GateService
	ledger ReservationReleaser
	config *config.Config

	now func() time.Time
}

func NewSessionService(redisClient *redis.Client, gate *GateService, ledger ReservationReleaser, cfg *config.Config) *SessionService {
	return &SessionService{
		Redis:  redisClient,
		gate:   gate,
		ledger: ledger,
		config: cfg,
		now:    time.Now,
	}
}

// resolve maps a lease token to its (eventID, clientID) owner.
func (s *SessionService) resolve(ctx context.Context, sessionID string) (string, string, error) {
	raw, err := s.Redis.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return "", "", status.ErrSessionExpired
	}
	if err != nil {
		return "", "", err
	}
	eventID, clientID, found := strings.Cut(raw, ":")
	if !found {
		return "", "", fmt.Errorf("malformed session lookup %q", raw)
	}
	return eventID, clientID, nil
}

// Renew extends the lease by the event's session-timeout window. Renewal of
// a lease the sweep already expired fails with ErrSessionExpired; the caller
// must restart through the gate.
func (s *SessionService) Renew(ctx context.Context, sessionID string) (*models.Session, error) {
	eventID, clientID, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	_, gcfg, err := s.gate.events.GateEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reply, err := s.Redis.Eval(ctx, renewScript,
		[]string{activeKey(eventID), sessionKey(sessionID)},
		clientID,
		sessionID,
		now.Unix(),
		now.Add(gcfg.SessionTimeout).Unix(),
		lookupTTLSeconds(gcfg),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("renew session %s: %w", sessionID, err)
	}

	kind, payload, err := scriptPair(reply)
	if err != nil {
		return nil, err
	}
	if kind != "renewed" {
		return nil, status.ErrSessionExpired
	}

	var session models.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("decode renewed session: %w", err)
	}
	return &session, nil
}

// Release ends the lease immediately, freeing the slot without waiting for
// the timeout. Checkout completion goes through here so capacity returns as
// soon as payment settles. Pending reservations of the session are released;
// committed ones are untouched.
func (s *SessionService) Release(ctx context.Context, sessionID string) error {
	eventID, clientID, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.gate.ExitGate(ctx, eventID, clientID); err != nil {
		return err
	}

	if s.ledger != nil {
		if _, err := s.ledger.ReleaseBySession(ctx, sessionID); err != nil {
			log.Printf("Error releasing reservations for session %s: %v", sessionID, err)
		}
	}
	return nil
}

// ExpireStale sweeps one event's leases: every lease past expiry is removed,
// its reservations are returned to the pool, and one waiting client is
// promoted per freed slot. Safe to run concurrently from multiple callers.
func (s *SessionService) ExpireStale(ctx context.Context, eventID string) (int, error) {
	_, gcfg, err := s.gate.events.GateEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}

	reply, err := s.Redis.Eval(ctx, expireStaleScript,
		[]string{activeKey(eventID)},
		s.now().Unix(),
		sessionKeyPrefix,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("expire stale for event %s: %w", eventID, err)
	}

	values, ok := reply.([]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected sweep reply %v", reply)
	}

	expired := 0
	for i := 0; i+1 < len(values); i += 2 {
		sessionJSON, _ := values[i+1].(string)
		if sessionJSON == "" {
			continue
		}
		expired++
		s.gate.recordSessionEnd(ctx, eventID, sessionJSON)

		var session models.Session
		if err := json.Unmarshal([]byte(sessionJSON), &session); err == nil && s.ledger != nil {
			if _, err := s.ledger.ReleaseBySession(ctx, session.ID); err != nil {
				log.Printf("Error releasing reservations for expired session %s: %v", session.ID, err)
			}
		}

		// One freed slot, at most one promotion.
		if _, err := s.gate.PromoteNext(ctx, eventID, gcfg); err != nil {
			log.Printf("Error promoting after expiry for event %s: %v", eventID, err)
		}
	}
	return expired, nil
}

// SweepLoop runs ExpireStale across all live gates on a ticker.
func (s *SessionService) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAll(ctx)
		case <-ctx.Done():
			log.Println("Session expiry sweep stopping")
			return
		}
	}
}

func (s *SessionService) sweepAll(ctx context.Context) {
	eventIDs, err := s.Redis.SMembers(ctx, activeEventsKey).Result()
	if err != nil {
		log.Printf("Error listing active events: %v", err)
		return
	}

	for _, eventID := range eventIDs {
		expired, err := s.ExpireStale(ctx, eventID)
		if err != nil {
			log.Printf("Error sweeping event %s: %v", eventID, err)
			continue
		}
		if expired > 0 {
			log.Printf("Expired %d stale sessions for event %s", expired, eventID)
		}
	}
}
