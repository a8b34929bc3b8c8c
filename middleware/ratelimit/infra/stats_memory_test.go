package infra

import (
	"context"
	"testing"

	"college-gateway/middleware/ratelimit/domain"
)

func TestMemoryStatsStore_CountsByClassAndRoute(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "ip-1", Class: "api/notices", Allowed: true, Method: "GET", Path: "/api/notices"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip-1", Class: "api/notices", Allowed: false, Method: "GET", Path: "/api/notices"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ip-2", Class: "api/me", Allowed: true, Method: "GET", Path: "/api/me"})

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected total: %+v", got)
	}
	if got := s.ByClass()["api/notices"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected class counters: %+v", got)
	}
	if got := s.ByRoute()["GET /api/me"]; got.Allowed != 1 {
		t.Fatalf("unexpected route counters: %+v", got)
	}
	if got := s.ByKey()["ip-1"]; got.Denied != 1 {
		t.Fatalf("unexpected key counters: %+v", got)
	}
}

func TestMemoryStatsStore_DoesNotTrackKeysByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "ip-1", Allowed: true})

	if len(s.ByKey()) != 0 {
		t.Fatalf("expected no per-key counters")
	}
}

func TestMemoryStatsStore_CapsDistinctKeysAndRoutes(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true), WithMaxEntries(2))
	ctx := context.Background()

	for _, k := range []string{"user:a", "user:b", "user:c", "user:d"} {
		_ = s.Record(ctx, domain.StatsEvent{Key: domain.Key(k), Class: "api/me", Allowed: false, Method: "GET", Path: "/api/attendance/" + k})
	}

	keys := s.ByKey()
	if len(keys) != 3 {
		t.Fatalf("expected 2 keys + overflow, got %v", keys)
	}
	if got := keys["_other"]; got.Denied != 2 {
		t.Fatalf("expected overflow to absorb 2 events, got %+v", got)
	}
	if len(s.ByRoute()) != 3 {
		t.Fatalf("expected routes capped too, got %v", s.ByRoute())
	}
	if got := s.Total(); got.Denied != 4 {
		t.Fatalf("expected totals to keep counting, got %+v", got)
	}
}

func TestMemoryStatsStore_SummaryRanksDeniedKeys(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true), WithTopDenied(2))
	ctx := context.Background()

	record := func(key string, allowed bool, n int) {
		for i := 0; i < n; i++ {
			_ = s.Record(ctx, domain.StatsEvent{Key: domain.Key(key), Class: "api/notices", Allowed: allowed})
		}
	}
	record("user:a", false, 1)
	record("user:b", false, 3)
	record("user:c", false, 2)
	record("user:d", true, 5)

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Source != "memory" || sum.Total.Allowed != 5 || sum.Total.Denied != 6 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(sum.TopDenied) != 2 || sum.TopDenied[0].Key != "user:b" || sum.TopDenied[1].Key != "user:c" {
		t.Fatalf("unexpected ranking: %+v", sum.TopDenied)
	}
}
