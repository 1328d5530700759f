package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-admission/config"
	"ticket-admission/models"
	"ticket-admission/monitoring"
	"ticket-admission/utils"
)

const (
	waitingKeyPrefix = "gate:waiting:"
	activeKeyPrefix  = "gate:active:"
	statsKeyPrefix   = "gate:stats:"
	sessionKeyPrefix = "session:id:"
	activeEventsKey  = "active_events"
)

func waitingKey(eventID string) string { return waitingKeyPrefix + eventID }
func activeKey(eventID string) string  { return activeKeyPrefix + eventID }
func statsKey(eventID string) string   { return statsKeyPrefix + eventID }
func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// requestEntryScript admits, re-admits, or queues one client atomically.
// Re-entry with an existing session or queue entry is idempotent. Sessions
// live in the active hash as JSON built with cjson; the session lookup key
// maps the lease token back to "eventID:clientID".
//
// KEYS: 1 active hash, 2 waiting zset, 3 active_events set, 4 session lookup
// ARGV: 1 clientID, 2 maxConcurrent, 3 grantedAt, 4 expiresAt,
//       5 eventID, 6 sessionID, 7 enqueue score, 8 lookup TTL seconds
const requestEntryScript = `
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  return {'active', existing}
end
local rank = redis.call('ZRANK', KEYS[2], ARGV[1])
if rank ~= false then
  return {'queued', tostring(rank + 1)}
end
if redis.call('HLEN', KEYS[1]) < tonumber(ARGV[2]) then
  local sess = cjson.encode({id=ARGV[6], client_id=ARGV[1], granted_at=tonumber(ARGV[3]), expires_at=tonumber(ARGV[4])})
  redis.call('HSET', KEYS[1], ARGV[1], sess)
  redis.call('SET', KEYS[4], ARGV[5] .. ':' .. ARGV[1], 'EX', tonumber(ARGV[8]))
  redis.call('SADD', KEYS[3], ARGV[5])
  return {'admitted', sess}
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[7]), ARGV[1])
redis.call('SADD', KEYS[3], ARGV[5])
return {'queued', tostring(redis.call('ZRANK', KEYS[2], ARGV[1]) + 1)}
`

// exitGateScript releases a client's session or queue entry and, when an
// active session was freed, installs the single oldest waiting client in the
// same script. ZPOPMIN makes double-promotion for one freed slot impossible
// under concurrent terminations.
//
// KEYS: 1 active hash, 2 waiting zset
// ARGV: 1 clientID, 2 new sessionID, 3 grantedAt, 4 expiresAt,
//       5 session lookup prefix, 6 eventID, 7 lookup TTL seconds
const exitGateScript = `
local removed = redis.call('HGET', KEYS[1], ARGV[1])
if removed then
  redis.call('HDEL', KEYS[1], ARGV[1])
  local old = cjson.decode(removed)
  redis.call('DEL', ARGV[5] .. old['id'])
  local popped = redis.call('ZPOPMIN', KEYS[2])
  if popped[1] then
    local sess = cjson.encode({id=ARGV[2], client_id=popped[1], granted_at=tonumber(ARGV[3]), expires_at=tonumber(ARGV[4])})
    redis.call('HSET', KEYS[1], popped[1], sess)
    redis.call('SET', ARGV[5] .. ARGV[2], ARGV[6] .. ':' .. popped[1], 'EX', tonumber(ARGV[7]))
    return {'exited', removed, popped[1], sess}
  end
  return {'exited', removed, '', ''}
end
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
  return {'left_queue', '', '', ''}
end
return {'absent', '', '', ''}
`

// promoteOneScript fills exactly one free slot from the waiting queue. Used
// by the expiry sweep, once per freed slot.
//
// KEYS: 1 active hash, 2 waiting zset
// ARGV: 1 maxConcurrent, 2 sessionID, 3 grantedAt, 4 expiresAt,
//       5 session lookup prefix, 6 eventID, 7 lookup TTL seconds
const promoteOneScript = `
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[1]) then
  return {'full', ''}
end
local popped = redis.call('ZPOPMIN', KEYS[2])
if popped[1] == nil then
  return {'empty', ''}
end
local sess = cjson.encode({id=ARGV[2], client_id=popped[1], granted_at=tonumber(ARGV[3]), expires_at=tonumber(ARGV[4])})
redis.call('HSET', KEYS[1], popped[1], sess)
redis.call('SET', ARGV[5] .. ARGV[2], ARGV[6] .. ':' .. popped[1], 'EX', tonumber(ARGV[7]))
return {'promoted', popped[1]}
`

// EventSource resolves an event's publication state and gate configuration.
// The production implementation reads the events collection; tests fake it.
type EventSource interface {
	GateEvent(ctx context.Context, eventID string) (*models.Event, models.GateConfig, error)
}

// GateService enforces the per-event concurrent-session cap through a FIFO
// waiting queue. All queue and session state lives in Redis and every
// transition runs as one Lua script, so the active-count invariant holds
// under concurrent entries, exits and expirations.
type GateService struct {
	Redis    *redis.Client
	events   EventSource
	notifier *NotifierService
	monitor  *monitoring.Monitor
	config   *config.Config

	// overridable for deterministic tests
	now          func() time.Time
	newSessionID func() string
}

func NewGateService(redisClient *redis.Client, events EventSource, notifier *NotifierService, monitor *monitoring.Monitor, cfg *config.Config) *GateService {
	return &GateService{
		Redis:        redisClient,
		events:       events,
		notifier:     notifier,
		monitor:      monitor,
		config:       cfg,
		now:          time.Now,
		newSessionID: utils.NewSessionID,
	}
}

func (s *GateService) track(operation, eventID, result string) {
	if s.monitor != nil {
		s.monitor.TrackGateOperation(operation, eventID, result)
	}
}

func lookupTTLSeconds(gcfg models.GateConfig) int64 {
	// Lookup keys outlive the lease by one timeout window so that a renew
	// racing the expiry sweep still resolves to a proper "expired" answer.
	return int64(gcfg.SessionTimeout.Seconds()) * 2
}

// RequestEntry admits the client if the event has a free slot, otherwise
// queues them and returns their 1-based rank with a wait estimate. Re-entry
// by a client who already holds a session or queue spot is idempotent.
func (s *GateService) RequestEntry(ctx context.Context, eventID, clientID string) (*models.EntryResult, error) {
	_, gcfg, err := s.events.GateEvent(ctx, eventID)
	if err != nil {
		s.track("enter", eventID, "error")
		return nil, err
	}

	now := s.now()
	sessionID := s.newSessionID()
	expiresAt := now.Add(gcfg.SessionTimeout)

	reply, err := s.Redis.Eval(ctx, requestEntryScript,
		[]string{activeKey(eventID), waitingKey(eventID), activeEventsKey, sessionKey(sessionID)},
		clientID,
		gcfg.MaxConcurrentUsers,
		now.Unix(),
		expiresAt.Unix(),
		eventID,
		sessionID,
		now.UnixNano(),
		lookupTTLSeconds(gcfg),
	).Result()
	if err != nil {
		s.track("enter", eventID, "error")
		return nil, fmt.Errorf("gate entry for event %s: %w", eventID, err)
	}

	kind, payload, err := scriptPair(reply)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "active", "admitted":
		var session models.Session
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return nil, fmt.Errorf("decode session for client %s: %w", clientID, err)
		}
		s.track("enter", eventID, "admitted")
		return &models.EntryResult{Admitted: true, Session: &session}, nil

	case "queued":
		position, err := strconv.Atoi(payload)
		if err != nil {
			return nil, fmt.Errorf("decode queue rank %q: %w", payload, err)
		}
		avg := s.avgSessionSeconds(ctx, eventID)
		s.track("enter", eventID, "queued")
		return &models.EntryResult{
			Admitted:             false,
			QueuePosition:        position,
			EstimatedWaitMinutes: models.EstimateWaitMinutes(avg, position, gcfg.MaxConcurrentUsers),
		}, nil
	}

	return nil, fmt.Errorf("unexpected gate script reply %q", kind)
}

// ExitGate releases the caller's active session or waiting entry. Freeing an
// active slot promotes the oldest waiting client and pushes them a promotion
// event. Exiting while absent is a no-op, so retries are safe.
func (s *GateService) ExitGate(ctx context.Context, eventID, clientID string) error {
	_, gcfg, err := s.events.GateEvent(ctx, eventID)
	if err != nil {
		return err
	}

	now := s.now()
	promotedSessionID := s.newSessionID()

	reply, err := s.Redis.Eval(ctx, exitGateScript,
		[]string{activeKey(eventID), waitingKey(eventID)},
		clientID,
		promotedSessionID,
		now.Unix(),
		now.Add(gcfg.SessionTimeout).Unix(),
		sessionKeyPrefix,
		eventID,
		lookupTTLSeconds(gcfg),
	).Result()
	if err != nil {
		s.track("exit", eventID, "error")
		return fmt.Errorf("gate exit for event %s: %w", eventID, err)
	}

	fields, err := scriptFields(reply, 4)
	if err != nil {
		return err
	}
	kind, removedJSON, promotedClient := fields[0], fields[1], fields[2]

	switch kind {
	case "exited":
		s.recordSessionEnd(ctx, eventID, removedJSON)
		if promotedClient != "" {
			s.track("promote", eventID, "success")
			s.notifier.NotifyPromoted(promotedClient, eventID)
		}
		s.track("exit", eventID, "exited")
	case "left_queue":
		s.track("exit", eventID, "left_queue")
	case "absent":
		s.track("exit", eventID, "absent")
	}
	return nil
}

// PromoteNext fills at most one free slot. Callers invoke it once per slot
// they freed; the script re-checks the cap so over-calling cannot break the
// invariant.
func (s *GateService) PromoteNext(ctx context.Context, eventID string, gcfg models.GateConfig) (string, error) {
	now := s.now()
	sessionID := s.newSessionID()

	reply, err := s.Redis.Eval(ctx, promoteOneScript,
		[]string{activeKey(eventID), waitingKey(eventID)},
		gcfg.MaxConcurrentUsers,
		sessionID,
		now.Unix(),
		now.Add(gcfg.SessionTimeout).Unix(),
		sessionKeyPrefix,
		eventID,
		lookupTTLSeconds(gcfg),
	).Result()
	if err != nil {
		return "", fmt.Errorf("promote for event %s: %w", eventID, err)
	}

	kind, promotedClient, err := scriptPair(reply)
	if err != nil {
		return "", err
	}
	if kind == "promoted" {
		s.track("promote", eventID, "success")
		s.notifier.NotifyPromoted(promotedClient, eventID)
		return promotedClient, nil
	}
	return "", nil
}

// QueueStatus reports the caller's current standing: active session, waiting
// rank, or absent. This is the polling fallback for clients that miss a push.
func (s *GateService) QueueStatus(ctx context.Context, eventID, clientID string) (*models.QueueEntry, error) {
	sessionJSON, err := s.Redis.HGet(ctx, activeKey(eventID), clientID).Result()
	if err == nil && sessionJSON != "" {
		return &models.QueueEntry{EventID: eventID, ClientID: clientID, Status: "promoted"}, nil
	}
	if err != nil && err != redis.Nil {
		return nil, err
	}

	rank, err := s.Redis.ZRank(ctx, waitingKey(eventID), clientID).Result()
	if err == redis.Nil {
		return &models.QueueEntry{EventID: eventID, ClientID: clientID, Status: "exited"}, nil
	}
	if err != nil {
		return nil, err
	}

	score, err := s.Redis.ZScore(ctx, waitingKey(eventID), clientID).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	// ZSET scores are float64 and lose sub-microsecond precision at
	// nanosecond magnitudes, so the reported join time is whole seconds.
	// Ordering still uses the full-precision score.
	return &models.QueueEntry{
		EventID:  eventID,
		ClientID: clientID,
		JoinedAt: time.Unix(int64(score/1e9), 0),
		Position: int(rank) + 1,
		Status:   "waiting",
	}, nil
}

// recordSessionEnd folds the finished session's duration into the rolling
// average that feeds wait estimates. The read-modify-write is not atomic;
// the average is advisory, not an invariant.
func (s *GateService) recordSessionEnd(ctx context.Context, eventID, sessionJSON string) {
	if sessionJSON == "" {
		return
	}
	var session models.Session
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return
	}

	duration := session.Duration(s.now())
	if s.monitor != nil {
		s.monitor.TrackSessionDuration(eventID, duration)
	}

	key := statsKey(eventID)
	values, err := s.Redis.HMGet(ctx, key, "avg_session_seconds", "sample_count").Result()
	if err != nil {
		return
	}
	avg := parseStatFloat(values[0])
	count := parseStatFloat(values[1])

	newAvg := (avg*count + duration.Seconds()) / (count + 1)
	s.Redis.HSet(ctx, key,
		"avg_session_seconds", strconv.FormatFloat(newAvg, 'f', 3, 64),
		"sample_count", strconv.FormatFloat(count+1, 'f', 0, 64),
	)
}

func (s *GateService) avgSessionSeconds(ctx context.Context, eventID string) float64 {
	raw, err := s.Redis.HGet(ctx, statsKey(eventID), "avg_session_seconds").Result()
	if err != nil {
		return 0
	}
	avg, _ := strconv.ParseFloat(raw, 64)
	return avg
}

// UpdateQueuePositions is the position publisher loop: every tick it walks
// the waiting queues and pushes throttled position_changed events. Promoted
// clients are no longer queue members, so they can never receive a position
// update after their promotion event.
func (s *GateService) UpdateQueuePositions(ctx context.Context) {
	ticker := time.NewTicker(s.config.QueuePositionUpdate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.publishAllPositions(ctx)
		case <-ctx.Done():
			log.Println("Position publisher stopping")
			return
		}
	}
}

func (s *GateService) publishAllPositions(ctx context.Context) {
	keys, err := s.Redis.Keys(ctx, waitingKeyPrefix+"*").Result()
	if err != nil {
		log.Printf("Error listing waiting queues: %v", err)
		return
	}

	for _, key := range keys {
		eventID := key[len(waitingKeyPrefix):]
		s.PublishEventPositions(ctx, eventID)
	}
}

// PublishEventPositions pushes the current rank to every waiting client of
// one event, subject to the notification throttle.
func (s *GateService) PublishEventPositions(ctx context.Context, eventID string) {
	members, err := s.Redis.ZRange(ctx, waitingKey(eventID), 0, -1).Result()
	if err != nil {
		return
	}

	if len(members) == 0 {
		s.Redis.SRem(ctx, activeEventsKey, eventID)
		return
	}

	for i, clientID := range members {
		position := i + 1
		if ShouldNotifyPosition(position) {
			s.notifier.NotifyPosition(clientID, eventID, position)
		}
	}
}

// CleanupAbandoned is the janitor for queue entries whose clients vanished
// without exiting: anything enqueued before the abandonment window is
// dropped. The gate itself never expires waiting entries.
func (s *GateService) CleanupAbandoned(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAbandoned(ctx)
		case <-ctx.Done():
			log.Println("Abandonment janitor stopping")
			return
		}
	}
}

func (s *GateService) sweepAbandoned(ctx context.Context) {
	keys, err := s.Redis.Keys(ctx, waitingKeyPrefix+"*").Result()
	if err != nil {
		log.Printf("Error listing waiting queues: %v", err)
		return
	}

	cutoff := s.now().Add(-s.config.AbandonmentWindow).UnixNano()
	for _, key := range keys {
		removed, err := s.Redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Result()
		if err != nil {
			log.Printf("Error sweeping abandoned entries from %s: %v", key, err)
			continue
		}
		if removed > 0 {
			eventID := key[len(waitingKeyPrefix):]
			log.Printf("Removed %d abandoned queue entries for event %s", removed, eventID)
			s.track("abandon_sweep", eventID, "success")
		}
	}
}

// GateDashboard summarizes every live gate for the admin surface.
func (s *GateService) GateDashboard(ctx context.Context) ([]map[string]any, error) {
	eventIDs, err := s.Redis.SMembers(ctx, activeEventsKey).Result()
	if err != nil {
		return nil, err
	}

	dashboard := []map[string]any{}
	for _, eventID := range eventIDs {
		waiting, _ := s.Redis.ZCard(ctx, waitingKey(eventID)).Result()
		active, _ := s.Redis.HLen(ctx, activeKey(eventID)).Result()
		avg := s.avgSessionSeconds(ctx, eventID)

		dashboard = append(dashboard, map[string]any{
			"event_id":            eventID,
			"waiting_count":       waiting,
			"active_sessions":     active,
			"avg_session_seconds": avg,
		})
	}
	return dashboard, nil
}

// RestoreGateState logs the gates that survived a restart. Queue and session
// state lives in Redis, so nothing needs rebuilding; the sweeps pick events
// up from the active_events set.
func (s *GateService) RestoreGateState(ctx context.Context) {
	eventIDs, err := s.Redis.SMembers(ctx, activeEventsKey).Result()
	if err != nil {
		log.Printf("Error restoring gate state: %v", err)
		return
	}

	for _, eventID := range eventIDs {
		waiting, _ := s.Redis.ZCard(ctx, waitingKey(eventID)).Result()
		active, _ := s.Redis.HLen(ctx, activeKey(eventID)).Result()
		if waiting > 0 || active > 0 {
			log.Printf("Event %s restored with %d waiting, %d active", eventID, waiting, active)
		}
	}
}

func parseStatFloat(v any) float64 {
	raw, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

func scriptPair(reply any) (string, string, error) {
	fields, err := scriptFields(reply, 2)
	if err != nil {
		return "", "", err
	}
	return fields[0], fields[1], nil
}

func scriptFields(reply any, want int) ([]string, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) < want {
		return nil, fmt.Errorf("unexpected script reply %v", reply)
	}
	fields := make([]string, want)
	for i := 0; i < want; i++ {
		if s, ok := values[i].(string); ok {
			fields[i] = s
		}
	}
	return fields, nil
}
