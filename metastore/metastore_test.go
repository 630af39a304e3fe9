package metastore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/danthegoodman1/avrosplit/crdb"
	"github.com/danthegoodman1/avrosplit/migrations"
	"github.com/danthegoodman1/avrosplit/restriction"
	"github.com/danthegoodman1/avrosplit/utils"
)

// testClaimStore checks the ClaimStore contract against any implementation
func testClaimStore(t *testing.T, store ClaimStore) {
	ctx := context.Background()
	file := utils.GenRandomID("file_")
	r := restriction.ByteRange{From: 0, To: 100}

	ok, err := store.Claim(ctx, file, r, "a")
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	if ok, err := store.Claim(ctx, file, r, "a"); err != nil || ok {
		t.Fatalf("claiming a held range again must fail, even for its owner: %v %v", ok, err)
	}
	if ok, err := store.Claim(ctx, file, r, "b"); err != nil || ok {
		t.Fatalf("other owner must be denied: %v %v", ok, err)
	}
	if err := store.Release(ctx, file, r, "b"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("other owner release: %v", err)
	}
	if err := store.Complete(ctx, file, r, "b"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("other owner complete: %v", err)
	}

	if err := store.Release(ctx, file, r, "a"); err != nil {
		t.Fatal(err)
	}
	if err := store.Release(ctx, file, r, "a"); err != nil {
		t.Fatalf("releasing nothing should be a no-op: %v", err)
	}
	if ok, err := store.Claim(ctx, file, r, "b"); err != nil || !ok {
		t.Fatalf("claim after release: %v %v", ok, err)
	}
	if err := store.Complete(ctx, file, r, "b"); err != nil {
		t.Fatal(err)
	}
	for _, owner := range []string{"a", "b"} {
		if ok, err := store.Claim(ctx, file, r, owner); err != nil || ok {
			t.Fatalf("completed range claimed by %s: %v %v", owner, ok, err)
		}
	}

	// a differently split range sharing bytes with a completed one stays out
	for _, o := range []restriction.ByteRange{{From: 50, To: 150}, {From: 0, To: 10}, {From: 99, To: 100}} {
		if ok, err := store.Claim(ctx, file, o, "c"); err != nil || ok {
			t.Fatalf("range %s overlapping %s claimed: %v %v", o, r, ok, err)
		}
	}

	other := restriction.ByteRange{From: 100, To: 150}
	if ok, err := store.Claim(ctx, file, other, "c"); err != nil || !ok {
		t.Fatalf("claim other range: %v %v", ok, err)
	}
	if ok, err := store.Claim(ctx, file, restriction.ByteRange{From: 120, To: 300}, "d"); err != nil || ok {
		t.Fatalf("range overlapping an active claim was granted: %v %v", ok, err)
	}

	claims, err := store.ListClaims(ctx, file)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %+v", claims)
	}
	if claims[0].Range != r || claims[0].State != ClaimStateCompleted || claims[0].Owner != "b" {
		t.Fatalf("unexpected first claim %+v", claims[0])
	}
	if claims[1].Range != other || claims[1].State != ClaimStateClaimed || claims[1].File != file {
		t.Fatalf("unexpected second claim %+v", claims[1])
	}
}

func TestMemoryClaimStore(t *testing.T) {
	testClaimStore(t, NewMemoryClaimStore())
}

func TestMemoryClaimStoreConcurrentClaims(t *testing.T) {
	store := NewMemoryClaimStore()
	r := restriction.ByteRange{From: 0, To: 10}
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), "f", r, owner)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(utils.GenRandomID(""))
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryClaimStoreConcurrentOverlappingClaims(t *testing.T) {
	store := NewMemoryClaimStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var won []restriction.ByteRange
	for i := int64(0); i < 20; i++ {
		wg.Add(1)
		go func(r restriction.ByteRange) {
			defer wg.Done()
			ok, err := store.Claim(context.Background(), "f", r, utils.GenRandomID(""))
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				won = append(won, r)
				mu.Unlock()
			}
		}(restriction.ByteRange{From: i * 10, To: i*10 + 25})
	}
	wg.Wait()
	for i := range won {
		for j := i + 1; j < len(won); j++ {
			if won[i].Overlaps(won[j]) {
				t.Fatalf("overlapping ranges %s and %s both granted", won[i], won[j])
			}
		}
	}
	if len(won) == 0 {
		t.Fatal("no range granted")
	}
}

func TestClaimerWithTracker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryClaimStore()
	r := restriction.ByteRange{From: 5, To: 50}

	first := restriction.NewTracker(r, NewClaimer(store, "f", "w1"))
	if ok, err := first.TryClaim(ctx, r.To-1); err != nil || !ok {
		t.Fatalf("first tracker: %v %v", ok, err)
	}
	second := restriction.NewTracker(r, NewClaimer(store, "f", "w2"))
	if ok, err := second.TryClaim(ctx, r.To-1); err != nil || ok {
		t.Fatalf("second tracker must be rejected: %v %v", ok, err)
	}
	if err := first.Done(ctx); err != nil {
		t.Fatal(err)
	}
	claims, _ := store.ListClaims(ctx, "f")
	if len(claims) != 1 || claims[0].State != ClaimStateCompleted || claims[0].Owner != "w1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestRangeField(t *testing.T) {
	r := restriction.ByteRange{From: 12, To: 3400}
	got, err := parseRangeField(rangeField(r))
	if err != nil || got != r {
		t.Fatalf("got %v %v", got, err)
	}
	for _, bad := range []string{"", "12", "a~1", "1~b"} {
		if _, err := parseRangeField(bad); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestRedisClaimStore(t *testing.T) {
	if os.Getenv("TEST_REDIS") != "1" {
		t.Skip("set TEST_REDIS=1 to run against REDIS_ADDR")
	}
	store, err := NewRedisClaimStore(context.Background(), utils.REDIS_ADDR, utils.REDIS_PASSWORD)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Shutdown(context.Background())
	testClaimStore(t, store)
}

func TestCRDBClaimStore(t *testing.T) {
	if utils.CRDB_DSN == "" {
		t.Skip("set CRDB_DSN to run against cockroachdb")
	}
	if _, err := migrations.RunMigrations(utils.CRDB_DSN); err != nil {
		t.Fatal(err)
	}
	if err := migrations.CheckMigrations(utils.CRDB_DSN); err != nil {
		t.Fatal(err)
	}
	pool, err := crdb.ConnectToDB(context.Background(), utils.CRDB_DSN)
	if err != nil {
		t.Fatal(err)
	}
	store := NewCRDBClaimStore(pool)
	defer store.Shutdown(context.Background())
	testClaimStore(t, store)
}
