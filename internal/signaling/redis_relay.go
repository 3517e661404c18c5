package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var enqueueCandidateScript = redis.NewScript(`
-- KEYS[1] = candidate list
-- ARGV[1] = encoded envelope
-- ARGV[2] = ttl_ms (int)
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var drainCandidatesScript = redis.NewScript(`
-- KEYS[1] = candidate list
-- Returns every pending envelope and deletes exactly those, atomically.
local items = redis.call('LRANGE', KEYS[1], 0, -1)
if #items > 0 then
  redis.call('DEL', KEYS[1])
end
return items
`)

// RedisRelay keeps one list per direction per session generation.
//
// Safety properties:
// - Enqueue and drain are Lua scripts, so a drain is one atomic step.
// - Every enqueue refreshes the list TTL so abandoned queues expire on their own.
//
// RedisRelay cannot see the session table; the Service checks the session exists
// before it enqueues. An enqueue that loses a race with a close lands in the old
// generation's list, which nothing drains and the TTL removes.
type RedisRelay struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisRelay(rdb *redis.Client, ttl time.Duration) *RedisRelay {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisRelay{rdb: rdb, ttl: ttl, now: time.Now}
}

// candidateKey uses a hash tag so both queues of a session share a cluster slot.
func candidateKey(ref SessionRef, dir Direction) string {
	return fmt.Sprintf("signal:{%s}:%d:%s", ref.AppointmentID, ref.Generation(), dir)
}

type redisEnvelope struct {
	ID        string    `json:"id"`
	Candidate string    `json:"candidate"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *RedisRelay) Enqueue(ctx context.Context, ref SessionRef, dir Direction, candidate string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if !dir.Valid() {
		return ErrInvalid
	}
	raw, err := json.Marshal(redisEnvelope{ID: uuid.NewString(), Candidate: candidate, CreatedAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	key := candidateKey(ref, dir)
	if err := enqueueCandidateScript.Run(ctx, r.rdb, []string{key}, string(raw), r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("enqueue candidate: %w", err)
	}
	return nil
}

func (r *RedisRelay) DrainOpposite(ctx context.Context, ref SessionRef, requester Role) ([]CandidateEnvelope, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	dir := requester.Inbound()
	items, err := drainCandidatesScript.Run(ctx, r.rdb, []string{candidateKey(ref, dir)}).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}

	out := make([]CandidateEnvelope, 0, len(items))
	for _, item := range items {
		var e redisEnvelope
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Already deleted; a corrupt entry is dropped like any other lost candidate.
			continue
		}
		out = append(out, CandidateEnvelope{
			ID:            e.ID,
			AppointmentID: ref.AppointmentID,
			Direction:     dir,
			Candidate:     e.Candidate,
			CreatedAt:     e.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisRelay) Purge(ctx context.Context, ref SessionRef) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	keys := []string{candidateKey(ref, DirectionFromCaller), candidateKey(ref, DirectionFromCallee)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge candidates: %w", err)
	}
	return nil
}
