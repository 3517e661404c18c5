package signaling

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	refAPT42 = SessionRef{AppointmentID: "APT-42", CreatedAt: time.Unix(1700000000, 0).UTC()}
	refAPT7  = SessionRef{AppointmentID: "APT-7", CreatedAt: time.Unix(1700000000, 0).UTC()}
)

func newRedisRelay(t *testing.T, ttl time.Duration) (*RedisRelay, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRelay(rdb, ttl), mr
}

func TestRedisRelay_DrainReturnsOppositeQueueOnce(t *testing.T) {
	r, _ := newRedisRelay(t, time.Hour)
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	for _, c := range []string{"c1", "c2"} {
		if err := r.Enqueue(ctx, refAPT42, DirectionFromCallee, c); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := r.Enqueue(ctx, refAPT42, DirectionFromCaller, "d1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := r.DrainOpposite(ctx, refAPT42, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || got[0].Candidate != "c1" || got[1].Candidate != "c2" {
		t.Fatalf("unexpected drain: %+v", got)
	}
	if got[0].Direction != DirectionFromCallee || got[0].AppointmentID != "APT-42" || got[0].ID == "" {
		t.Fatalf("envelope fields not populated: %+v", got[0])
	}

	again, err := r.DrainOpposite(ctx, refAPT42, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if again == nil || len(again) != 0 {
		t.Fatalf("expected empty non-nil drain, got %#v", again)
	}

	callee, err := r.DrainOpposite(ctx, refAPT42, RoleCallee)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(callee) != 1 || callee[0].Candidate != "d1" {
		t.Fatalf("unexpected callee drain: %+v", callee)
	}
}

func TestRedisRelay_ConcurrentDrainsAreDisjoint(t *testing.T) {
	r, _ := newRedisRelay(t, time.Hour)
	ctx := context.Background()

	const total = 100
	for i := 0; i < total; i++ {
		if err := r.Enqueue(ctx, refAPT42, DirectionFromCallee, "c"+strconv.Itoa(i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.DrainOpposite(ctx, refAPT42, RoleCaller)
			if err != nil {
				t.Errorf("drain: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range got {
				seen[e.Candidate]++
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d candidates, got %d", total, len(seen))
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("candidate %s returned %d times", c, n)
		}
	}
}

func TestRedisRelay_QueuesExpire(t *testing.T) {
	r, mr := newRedisRelay(t, time.Minute)
	ctx := context.Background()

	if err := r.Enqueue(ctx, refAPT42, DirectionFromCaller, "d1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	key := candidateKey(refAPT42, DirectionFromCaller)
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl set on %s, got %v", key, ttl)
	}

	mr.FastForward(2 * time.Minute)

	got, err := r.DrainOpposite(ctx, refAPT42, RoleCallee)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected expired queue, got %+v", got)
	}
}

func TestRedisRelay_Purge(t *testing.T) {
	r, mr := newRedisRelay(t, time.Hour)
	ctx := context.Background()

	_ = r.Enqueue(ctx, refAPT42, DirectionFromCaller, "d1")
	_ = r.Enqueue(ctx, refAPT42, DirectionFromCallee, "c1")
	_ = r.Enqueue(ctx, refAPT7, DirectionFromCallee, "other")

	if err := r.Purge(ctx, refAPT42); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if mr.Exists(candidateKey(refAPT42, DirectionFromCaller)) || mr.Exists(candidateKey(refAPT42, DirectionFromCallee)) {
		t.Fatalf("expected both queues removed")
	}
	if !mr.Exists(candidateKey(refAPT7, DirectionFromCallee)) {
		t.Fatalf("purge touched another session")
	}
}

func TestRedisRelay_RejectsUnknownDirection(t *testing.T) {
	r, _ := newRedisRelay(t, time.Hour)
	if err := r.Enqueue(context.Background(), refAPT42, Direction("sideways"), "c"); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestService_WithRedisRelay(t *testing.T) {
	relay, _ := newRedisRelay(t, time.Hour)
	svc, _ := newTestService(t)
	svc.Relay = relay
	ctx := context.Background()

	if _, err := svc.InitiateCall(ctx, "APT-42", "doc-1", "O1"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := svc.SubmitCandidate(ctx, "APT-42", "pat-7", "C1"); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	in, err := svc.PollInbox(ctx, "APT-42", "doc-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(in.Candidates) != 1 || in.Candidates[0] != "C1" {
		t.Fatalf("unexpected inbox: %+v", in)
	}
	// The service rejects candidates for sessions the store does not know.
	if err := svc.SubmitCandidate(ctx, "APT-A", "pat-7", "C2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisRelay_GenerationsDoNotShareQueues(t *testing.T) {
	r, _ := newRedisRelay(t, time.Hour)
	ctx := context.Background()
	next := SessionRef{AppointmentID: refAPT42.AppointmentID, CreatedAt: refAPT42.CreatedAt.Add(time.Second)}

	if err := r.Enqueue(ctx, refAPT42, DirectionFromCallee, "old"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := r.DrainOpposite(ctx, next, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("next generation saw %+v", got)
	}
	if err := r.Purge(ctx, next); err != nil {
		t.Fatalf("purge: %v", err)
	}
	got, err = r.DrainOpposite(ctx, refAPT42, RoleCaller)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 || got[0].Candidate != "old" {
		t.Fatalf("purge of next generation touched the old one: %+v", got)
	}
}

func TestService_LateCandidateWithRedisRelay(t *testing.T) {
	relay, _ := newRedisRelay(t, time.Hour)
	svc, g := newGatedService(t)
	svc.Relay = relay

	// Redis cannot see the session table, so the late enqueue succeeds into the
	// first call's list, which nothing drains.
	if err := submitAcrossRestart(t, svc, g); err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireEmptyInboxes(t, svc)
}
