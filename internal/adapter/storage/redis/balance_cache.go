package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceCache implements ports.BalanceCache. Wallet snapshots live under
// wallet:{id} and bare balances under wallet:balance:{id}, both with the same TTL.
//
// Invalidation also leaves the committed version under wallet:version:{id}.
// A snapshot older than that version is never written back, so a read that
// raced a commit cannot repopulate the cache with the pre-commit state.
type BalanceCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// setScript writes the snapshot and balance unless a newer version was committed.
var setScript = goredis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[3]) or '0')
if tonumber(ARGV[1]) < floor then
	return 0
end
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[4])
	redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
else
	redis.call('SET', KEYS[1], ARGV[2])
	redis.call('SET', KEYS[2], ARGV[3])
end
return 1
`)

// invalidateScript drops both entries of every wallet and raises its version
// floor. KEYS come in (snapshot, balance, version) triples, ARGV[1] is the
// floor TTL and ARGV[i+1] the committed version of the i-th wallet.
var invalidateScript = goredis.NewScript(`
local ttl = tonumber(ARGV[1])
local arg = 1
for i = 1, #KEYS, 3 do
	arg = arg + 1
	redis.call('DEL', KEYS[i], KEYS[i + 1])
	local version = ARGV[arg]
	local floor = tonumber(redis.call('GET', KEYS[i + 2]) or '0')
	if tonumber(version) > floor then
		if ttl > 0 then
			redis.call('SET', KEYS[i + 2], version, 'PX', ARGV[1])
		else
			redis.call('SET', KEYS[i + 2], version)
		end
	end
end
return 1
`)

// NewBalanceCache creates a Redis-backed wallet cache.
func NewBalanceCache(client *goredis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func walletKey(id uuid.UUID) string  { return "wallet:" + id.String() }
func balanceKey(id uuid.UUID) string { return "wallet:balance:" + id.String() }
func versionKey(id uuid.UUID) string { return "wallet:version:" + id.String() }

// GetWallet returns the cached snapshot, or nil, nil on a miss.
func (c *BalanceCache) GetWallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	raw, err := c.client.Get(ctx, walletKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis wallet get: %w", err)
	}

	var w domain.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cached wallet: %w", err)
	}
	return &w, nil
}

// SetWallet caches the snapshot together with its balance. A snapshot older
// than the last invalidated version is silently skipped.
func (c *BalanceCache) SetWallet(ctx context.Context, w *domain.Wallet) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}

	keys := []string{walletKey(w.ID), balanceKey(w.ID), versionKey(w.ID)}
	args := []interface{}{w.Version, raw, domain.FormatAmount(w.Balance), c.ttl.Milliseconds()}
	if err := setScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis wallet set: %w", err)
	}
	return nil
}

// GetBalance returns the cached balance, or nil, nil on a miss.
func (c *BalanceCache) GetBalance(ctx context.Context, id uuid.UUID) (*decimal.Decimal, error) {
	raw, err := c.client.Get(ctx, balanceKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis balance get: %w", err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cached balance: %w", err)
	}
	return &balance, nil
}

// Invalidate drops every cached entry of the given committed wallets.
func (c *BalanceCache) Invalidate(ctx context.Context, wallets ...*domain.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}
	keys := make([]string, 0, len(wallets)*3)
	args := make([]interface{}, 0, len(wallets)+1)
	args = append(args, c.ttl.Milliseconds())
	for _, w := range wallets {
		keys = append(keys, walletKey(w.ID), balanceKey(w.ID), versionKey(w.ID))
		args = append(args, w.Version)
	}
	if err := invalidateScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
