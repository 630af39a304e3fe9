package metastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/restriction"
)

var (
	logger = gologger.NewLogger()

	ErrNotOwner = errors.New("range is not claimed by this owner")
)

type (
	// ClaimStore records which worker owns which byte range of a file. It is the only state shared between
	// split invocations.
	ClaimStore interface {
		// Claim atomically takes r for owner. It returns false, changing nothing, when any claimed or completed
		// range of the file overlaps r, whoever owns it. A caller that lost the reply to a claim finds out
		// through ListClaims.
		Claim(ctx context.Context, file string, r restriction.ByteRange, owner string) (bool, error)
		// Complete marks an active claim of owner as done. Completed ranges can never be claimed again.
		Complete(ctx context.Context, file string, r restriction.ByteRange, owner string) error
		// Release drops an active claim of owner. Releasing a range that is not claimed is a no-op.
		Release(ctx context.Context, file string, r restriction.ByteRange, owner string) error
		ListClaims(ctx context.Context, file string) ([]Claim, error)

		Shutdown(ctx context.Context) error
	}

	ClaimState string

	Claim struct {
		File      string
		Range     restriction.ByteRange
		Owner     string
		State     ClaimState
		UpdatedAt time.Time
	}
)

const (
	ClaimStateClaimed   ClaimState = "claimed"
	ClaimStateCompleted ClaimState = "completed"
)

// rangeField is how a range is keyed inside a file's claims
func rangeField(r restriction.ByteRange) string {
	return strconv.FormatInt(r.From, 10) + "~" + strconv.FormatInt(r.To, 10)
}

func parseRangeField(s string) (restriction.ByteRange, error) {
	from, to, ok := strings.Cut(s, "~")
	if !ok {
		return restriction.ByteRange{}, fmt.Errorf("invalid range field %q", s)
	}
	f, err := strconv.ParseInt(from, 10, 64)
	if err != nil {
		return restriction.ByteRange{}, fmt.Errorf("error parsing range start %q: %w", s, err)
	}
	t, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return restriction.ByteRange{}, fmt.Errorf("error parsing range end %q: %w", s, err)
	}
	return restriction.ByteRange{From: f, To: t}, nil
}

// claimer binds a store to one file and owner so a restriction.Tracker can use it.
type claimer struct {
	store ClaimStore
	file  string
	owner string
}

func NewClaimer(store ClaimStore, file, owner string) restriction.Claimer {
	return &claimer{store: store, file: file, owner: owner}
}

func (c *claimer) Claim(ctx context.Context, r restriction.ByteRange) (bool, error) {
	return c.store.Claim(ctx, c.file, r, c.owner)
}

func (c *claimer) Complete(ctx context.Context, r restriction.ByteRange) error {
	return c.store.Complete(ctx, c.file, r, c.owner)
}

func (c *claimer) Release(ctx context.Context, r restriction.ByteRange) error {
	return c.store.Release(ctx, c.file, r, c.owner)
}
