package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/danthegoodman1/avrosplit/restriction"
	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CRDBClaimStore keeps claims in the claims table created by the migrations package.
type CRDBClaimStore struct {
	pool       *pgxpool.Pool
	tryTimeout time.Duration
}

const undefinedTable = "42P01"

var ErrClaimsTableMissing = utils.PermError("claims table does not exist, run migrations first")

func NewCRDBClaimStore(pool *pgxpool.Pool) *CRDBClaimStore {
	return &CRDBClaimStore{pool: pool, tryTimeout: time.Second * 3}
}

func crdbErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return ErrClaimsTableMissing
	}
	return fmt.Errorf("error in %s: %w", op, err)
}

func (cs *CRDBClaimStore) Claim(ctx context.Context, file string, r restriction.ByteRange, owner string) (claimed bool, err error) {
	err = utils.ReliableExec(ctx, cs.pool, cs.tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			// any claimed or completed range sharing a byte with r blocks it
			var overlapping int
			if err := tx.QueryRow(ctx, `
				SELECT count(*) FROM claims WHERE file = $1 AND range_from < $3 AND range_to > $2
			`, file, r.From, r.To).Scan(&overlapping); err != nil {
				return err
			}
			if overlapping > 0 {
				claimed = false
				return nil
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO claims (file, range_from, range_to, owner, state, updated_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, file, r.From, r.To, owner, string(ClaimStateClaimed))
			if err != nil {
				return err
			}
			claimed = true
			return nil
		})
	})
	if err != nil {
		return false, crdbErr("claim transaction", err)
	}
	return claimed, nil
}

func (cs *CRDBClaimStore) Complete(ctx context.Context, file string, r restriction.ByteRange, owner string) error {
	var tag pgconn.CommandTag
	err := utils.ReliableExec(ctx, cs.pool, cs.tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) (err error) {
		tag, err = conn.Exec(ctx, `
			UPDATE claims SET state = $5, updated_at = now()
			WHERE file = $1 AND range_from = $2 AND range_to = $3 AND owner = $4 AND state = $6
		`, file, r.From, r.To, owner, string(ClaimStateCompleted), string(ClaimStateClaimed))
		return
	})
	if err != nil {
		return crdbErr("complete", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotOwner
	}
	return nil
}

func (cs *CRDBClaimStore) Release(ctx context.Context, file string, r restriction.ByteRange, owner string) error {
	var released bool
	err := utils.ReliableExec(ctx, cs.pool, cs.tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				DELETE FROM claims
				WHERE file = $1 AND range_from = $2 AND range_to = $3 AND owner = $4 AND state = $5
			`, file, r.From, r.To, owner, string(ClaimStateClaimed))
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 1 {
				released = true
				return nil
			}
			// nothing deleted: fine if there was nothing to release
			var n int
			if err := tx.QueryRow(ctx, `
				SELECT count(*) FROM claims WHERE file = $1 AND range_from = $2 AND range_to = $3
			`, file, r.From, r.To).Scan(&n); err != nil {
				return err
			}
			released = n == 0
			return nil
		})
	})
	if err != nil {
		return crdbErr("release transaction", err)
	}
	if !released {
		return ErrNotOwner
	}
	return nil
}

func (cs *CRDBClaimStore) ListClaims(ctx context.Context, file string) ([]Claim, error) {
	claims := make([]Claim, 0)
	err := utils.ReliableExec(ctx, cs.pool, cs.tryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT range_from, range_to, owner, state, updated_at
			FROM claims WHERE file = $1
			ORDER BY range_from, range_to
		`, file)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Claim
			var state string
			var updatedAt pgtype.Timestamptz
			if err := rows.Scan(&c.Range.From, &c.Range.To, &c.Owner, &state, &updatedAt); err != nil {
				return err
			}
			c.File = file
			c.State = ClaimState(state)
			if updatedAt.Status == pgtype.Present {
				c.UpdatedAt = updatedAt.Time
			}
			claims = append(claims, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, crdbErr("list claims", err)
	}
	return claims, nil
}

// Shutdown closes the pool, which is shared with nothing else once the store owns it.
func (cs *CRDBClaimStore) Shutdown(context.Context) error {
	logger.Debug().Msg("closing crdb pool")
	cs.pool.Close()
	return nil
}
