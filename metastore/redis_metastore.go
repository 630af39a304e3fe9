package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danthegoodman1/avrosplit/restriction"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type (
	RedisClaimStore struct {
		client *redis.Client
	}

	// redisClaim is the hash value, the range lives in the field name
	redisClaim struct {
		Owner     string
		State     ClaimState
		UpdatedAt time.Time
	}
)

var (
	// KEYS[1] claims hash, ARGV[1] range start, ARGV[2] range end, ARGV[3] range field, ARGV[4] claim value.
	// Fields are "from~to", any existing one overlapping the range blocks the claim.
	claimScript = redis.NewScript(`
local from = tonumber(ARGV[1])
local to = tonumber(ARGV[2])
local fields = redis.call("HKEYS", KEYS[1])
for _, f in ipairs(fields) do
	local sep = string.find(f, "~", 1, true)
	local ef = tonumber(string.sub(f, 1, sep - 1))
	local et = tonumber(string.sub(f, sep + 1))
	if ef < to and from < et then return 0 end
end
redis.call("HSET", KEYS[1], ARGV[3], ARGV[4])
return 1
`)

	// KEYS[1] claims hash, ARGV[1] range field, ARGV[2] owner, ARGV[3] updated value
	completeScript = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then return 0 end
local c = cjson.decode(raw)
if c.Owner ~= ARGV[2] or c.State ~= "claimed" then return 0 end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1
`)

	// returns -1 when the field is missing, 0 when owned by someone else or completed
	releaseScript = redis.NewScript(`
local raw = redis.call("HGET", KEYS[1], ARGV[1])
if not raw then return -1 end
local c = cjson.decode(raw)
if c.Owner ~= ARGV[2] or c.State ~= "claimed" then return 0 end
redis.call("HDEL", KEYS[1], ARGV[1])
return 1
`)
)

func NewRedisClaimStore(ctx context.Context, addr, password string) (*RedisClaimStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis claim store")
	rcs := &RedisClaimStore{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
	}

	// Ping test first to ensure valid connection
	if os.Getenv("REDIS_PING_TEST") == "1" {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rcs.client.Ping(ctx).Result()
		if err != nil {
			rcs.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rcs, nil
}

func (rcs *RedisClaimStore) ClaimsKey(file string) string {
	return "claims_" + file
}

func (rcs *RedisClaimStore) Claim(ctx context.Context, file string, r restriction.ByteRange, owner string) (bool, error) {
	val, err := json.Marshal(redisClaim{Owner: owner, State: ClaimStateClaimed, UpdatedAt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("error in json.Marshal: %w", err)
	}
	res, err := claimScript.Run(ctx, rcs.client, []string{rcs.ClaimsKey(file)}, r.From, r.To, rangeField(r), string(val)).Int()
	if err != nil {
		return false, fmt.Errorf("error running claim script: %w", err)
	}
	return res == 1, nil
}

func (rcs *RedisClaimStore) Complete(ctx context.Context, file string, r restriction.ByteRange, owner string) error {
	val, err := json.Marshal(redisClaim{Owner: owner, State: ClaimStateCompleted, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	res, err := completeScript.Run(ctx, rcs.client, []string{rcs.ClaimsKey(file)}, rangeField(r), owner, string(val)).Int()
	if err != nil {
		return fmt.Errorf("error running complete script: %w", err)
	}
	if res != 1 {
		return ErrNotOwner
	}
	return nil
}

func (rcs *RedisClaimStore) Release(ctx context.Context, file string, r restriction.ByteRange, owner string) error {
	res, err := releaseScript.Run(ctx, rcs.client, []string{rcs.ClaimsKey(file)}, rangeField(r), owner).Int()
	if err != nil {
		return fmt.Errorf("error running release script: %w", err)
	}
	if res == 0 {
		return ErrNotOwner
	}
	return nil
}

func (rcs *RedisClaimStore) ListClaims(ctx context.Context, file string) ([]Claim, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("file", file).Msg("listing claims")
	raw, err := rcs.client.HGetAll(ctx, rcs.ClaimsKey(file)).Result()
	if err != nil {
		return nil, fmt.Errorf("error in redis HGETALL: %w", err)
	}

	claims := make([]Claim, 0, len(raw))
	for field, rawJSON := range raw {
		r, err := parseRangeField(field)
		if err != nil {
			return nil, fmt.Errorf("error parsing claim of file '%s': %w", file, err)
		}
		var rc redisClaim
		if err := json.Unmarshal([]byte(rawJSON), &rc); err != nil {
			return nil, fmt.Errorf("error unmarshalling claim '%s' of file '%s': %w", field, file, err)
		}
		claims = append(claims, Claim{File: file, Range: r, Owner: rc.Owner, State: rc.State, UpdatedAt: rc.UpdatedAt})
	}
	sortClaims(claims)
	return claims, nil
}

func (rcs *RedisClaimStore) Shutdown(_ context.Context) error {
	err := rcs.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
