package restriction

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	got, err := Split(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no ranges, got %v", got)
	}

	got, err = Split(250, 100)
	if err != nil {
		t.Fatal(err)
	}
	want := []ByteRange{{0, 100}, {100, 200}, {200, 250}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected ranges (-want +got):\n%s", diff)
	}

	if _, err := Split(10, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("expected ErrInvalidChunkSize, got %v", err)
	}
	if _, err := Split(-1, 10); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
}

func TestSplitCoversExactly(t *testing.T) {
	for size := int64(1); size < 60; size++ {
		for chunk := int64(1); chunk <= size+1; chunk++ {
			ranges, err := Split(size, chunk)
			if err != nil {
				t.Fatal(err)
			}
			next := int64(0)
			for _, r := range ranges {
				if r.From != next || r.Len() <= 0 || r.Len() > chunk {
					t.Fatalf("size %d chunk %d: bad range %s", size, chunk, r)
				}
				next = r.To
			}
			if next != size {
				t.Fatalf("size %d chunk %d: covered up to %d", size, chunk, next)
			}
		}
	}
}

func TestSplitExtent(t *testing.T) {
	got, err := SplitExtent(ByteRange{From: 50, To: 120}, 30)
	if err != nil {
		t.Fatal(err)
	}
	want := []ByteRange{{50, 80}, {80, 110}, {110, 120}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected ranges (-want +got):\n%s", diff)
	}
}

func TestOverlaps(t *testing.T) {
	r := ByteRange{From: 100, To: 200}
	for _, tc := range []struct {
		o    ByteRange
		want bool
	}{
		{ByteRange{0, 100}, false},
		{ByteRange{200, 300}, false},
		{ByteRange{0, 101}, true},
		{ByteRange{199, 300}, true},
		{ByteRange{150, 160}, true},
		{ByteRange{0, 300}, true},
		{r, true},
	} {
		if got := r.Overlaps(tc.o); got != tc.want {
			t.Fatalf("%s overlaps %s: got %v", r, tc.o, got)
		}
		if got := tc.o.Overlaps(r); got != tc.want {
			t.Fatalf("%s overlaps %s: got %v", tc.o, r, got)
		}
	}
}

func TestWorkKey(t *testing.T) {
	r := ByteRange{From: 100, To: 200}
	key := r.WorkKey("dir/a~b.avro")
	if key != "dir/a~b.avro~100~200" {
		t.Fatalf("unexpected key %s", key)
	}
	file, parsed, err := ParseWorkKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if file != "dir/a~b.avro" || parsed != r {
		t.Fatalf("parsed %s %s", file, parsed)
	}

	for _, bad := range []string{"", "file", "file~1", "~1~2", "file~a~2", "file~5~5", "file~-1~3"} {
		if _, _, err := ParseWorkKey(bad); !errors.Is(err, ErrInvalidWorkKey) {
			t.Fatalf("%q: expected ErrInvalidWorkKey, got %v", bad, err)
		}
	}
}

func TestTransition(t *testing.T) {
	s := Unclaimed
	for _, e := range []Event{ClaimGranted, ScanStarted, ScanFinished} {
		var err error
		if s, err = Transition(s, e); err != nil {
			t.Fatal(err)
		}
	}
	if s != Done || !s.Terminal() {
		t.Fatalf("expected done, got %s", s)
	}

	s, err := Transition(Unclaimed, ClaimDenied)
	if err != nil || s != Rejected {
		t.Fatalf("expected rejected, got %s %v", s, err)
	}

	if _, err := Transition(Rejected, ScanStarted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := Transition(Unclaimed, ScanStarted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

type fakeClaimer struct {
	owned     map[ByteRange]bool
	completed map[ByteRange]bool
	err       error
	claims    int
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{owned: map[ByteRange]bool{}, completed: map[ByteRange]bool{}}
}

func (f *fakeClaimer) Claim(_ context.Context, r ByteRange) (bool, error) {
	f.claims++
	if f.err != nil {
		return false, f.err
	}
	if f.owned[r] || f.completed[r] {
		return false, nil
	}
	f.owned[r] = true
	return true, nil
}

func (f *fakeClaimer) Complete(_ context.Context, r ByteRange) error {
	delete(f.owned, r)
	f.completed[r] = true
	return nil
}

func (f *fakeClaimer) Release(_ context.Context, r ByteRange) error {
	delete(f.owned, r)
	return nil
}

func TestTrackerClaimsOnce(t *testing.T) {
	ctx := context.Background()
	r := ByteRange{From: 0, To: 100}
	c := newFakeClaimer()

	first := NewTracker(r, c)
	ok, err := first.TryClaim(ctx, r.To-1)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}

	second := NewTracker(r, c)
	ok, err = second.TryClaim(ctx, r.To-1)
	if err != nil || ok {
		t.Fatalf("second claim should be denied: %v %v", ok, err)
	}
	if second.Claimed() {
		t.Fatal("denied tracker must not be claimed")
	}

	if ok, _ := first.TryClaim(ctx, r.To); ok {
		t.Fatal("positions past the range are never claimable")
	}
	if _, err := first.TryClaim(ctx, 10); !errors.Is(err, ErrNonMonotonicClaim) {
		t.Fatalf("expected ErrNonMonotonicClaim, got %v", err)
	}

	if err := first.Done(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.completed[r] {
		t.Fatal("range should be completed")
	}
	third := NewTracker(r, c)
	if ok, _ := third.TryClaim(ctx, r.To-1); ok {
		t.Fatal("completed range must not be claimable")
	}
}

func TestTrackerRelease(t *testing.T) {
	ctx := context.Background()
	r := ByteRange{From: 10, To: 20}
	c := newFakeClaimer()

	tr := NewTracker(r, c)
	if ok, err := tr.TryClaim(ctx, 19); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if err := tr.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, err := tr.TryClaim(ctx, 19); err != nil || !ok {
		t.Fatalf("claim after release: %v %v", ok, err)
	}
}

func TestTrackerClaimerError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	c := newFakeClaimer()
	c.err = boom

	tr := NewTracker(ByteRange{From: 0, To: 10}, c)
	if _, err := tr.TryClaim(ctx, 9); !errors.Is(err, boom) {
		t.Fatalf("expected claimer error, got %v", err)
	}
	c.err = nil
	// the failed attempt must not count as a claimed position
	if ok, err := tr.TryClaim(ctx, 9); err != nil || !ok {
		t.Fatalf("retry: %v %v", ok, err)
	}
	if c.claims != 2 {
		t.Fatalf("expected 2 claim calls, got %d", c.claims)
	}
}

func TestStateText(t *testing.T) {
	b, err := Rejected.MarshalText()
	if err != nil || string(b) != "rejected" {
		t.Fatalf("got %q %v", b, err)
	}
	if !Done.Terminal() || Draining.Terminal() {
		t.Fatal("wrong terminal states")
	}
}
