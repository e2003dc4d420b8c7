package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/quota_reserve.lua
	quotaReserveScript string

	//go:embed lua/quota_refund.lua
	quotaRefundScript string

	//go:embed lua/quota_seed.lua
	quotaSeedScript string
)

const quotaCacheKeyPrefix = "quota:messages:"

// ErrQuotaCacheUnseeded is returned when the account hash is still missing or closed right after
// seeding it. The reservation outcome is unknown, not exhausted.
var ErrQuotaCacheUnseeded = errors.New("quota hash unavailable after seeding")

// QuotaSource is the durable side of QuotaCache
type QuotaSource interface {
	Current(ctx context.Context, accountID uint, at time.Time) (*models.QuotaLedger, error)
	SyncMessagesUsed(ctx context.Context, ledgerID uint, used int64) error
}

// QuotaCache keeps the message counters of active quota periods in Redis and reserves against
// them with Lua scripts. Postgres stays the durable ledger: hashes are seeded from it on first use
// and Flush writes usage back.
type QuotaCache struct {
	cmd  redis.Cmdable
	repo QuotaSource
	now  func() time.Time
}

// NewQuotaCache creates a Redis-backed quota ledger in front of repo
func NewQuotaCache(cmd redis.Cmdable, repo QuotaSource) *QuotaCache {
	return &QuotaCache{
		cmd:  cmd,
		repo: repo,
		now:  utils.UTCNow,
	}
}

// Reserve atomically takes units of message quota for the account
func (c *QuotaCache) Reserve(ctx context.Context, accountID uint, units int64) (bool, error) {
	if units <= 0 {
		return false, fmt.Errorf("reserve units must be positive, got %d", units)
	}

	for seeded := false; ; seeded = true {
		res, err := c.cmd.Eval(ctx, quotaReserveScript, []string{c.key(accountID)}, units, c.now().Unix()).Int64()
		if err != nil {
			return false, fmt.Errorf("failed to reserve quota in redis: %w", err)
		}
		switch res {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
		if seeded {
			return false, fmt.Errorf("account %d: %w", accountID, ErrQuotaCacheUnseeded)
		}
		ok, err := c.seed(ctx, accountID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
}

// Refund returns units of message quota to the account
func (c *QuotaCache) Refund(ctx context.Context, accountID uint, units int64) error {
	if units <= 0 {
		return fmt.Errorf("refund units must be positive, got %d", units)
	}
	if err := c.cmd.Eval(ctx, quotaRefundScript, []string{c.key(accountID)}, units).Err(); err != nil {
		return fmt.Errorf("failed to refund quota in redis: %w", err)
	}
	return nil
}

// Flush persists the cached usage of every account hash to the durable ledger
func (c *QuotaCache) Flush(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		flushed int
	)
	for {
		keys, next, err := c.cmd.Scan(ctx, cursor, quotaCacheKeyPrefix+"*", 200).Result()
		if err != nil {
			return flushed, fmt.Errorf("failed to scan quota keys: %w", err)
		}
		for _, key := range keys {
			vals, err := c.cmd.HMGet(ctx, key, "ledger_id", "used").Result()
			if err != nil {
				return flushed, fmt.Errorf("failed to read %s: %w", key, err)
			}
			ledgerID, used, ok := parseLedgerUsage(vals)
			if !ok {
				continue
			}
			if err := c.repo.SyncMessagesUsed(ctx, ledgerID, used); err != nil {
				return flushed, err
			}
			flushed++
		}
		cursor = next
		if cursor == 0 {
			return flushed, nil
		}
	}
}

// Usage returns the cached ledger id and used messages of the account. ok is false when the
// account has no hash yet.
func (c *QuotaCache) Usage(ctx context.Context, accountID uint) (ledgerID uint, used int64, ok bool, err error) {
	vals, err := c.cmd.HMGet(ctx, c.key(accountID), "ledger_id", "used").Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to read quota usage for account %d: %w", accountID, err)
	}
	ledgerID, used, ok = parseLedgerUsage(vals)
	return ledgerID, used, ok, nil
}

// seed loads the account's current period into Redis. It returns false when the account has no
// active ledger.
func (c *QuotaCache) seed(ctx context.Context, accountID uint) (bool, error) {
	now := c.now()
	ledger, err := c.repo.Current(ctx, accountID, now)
	if err != nil {
		return false, err
	}
	if ledger == nil {
		return false, nil
	}

	expireAt := ledger.PeriodEnd.Add(time.Hour).Unix()
	previous, err := c.cmd.Eval(ctx, quotaSeedScript, []string{c.key(accountID)},
		ledger.ID, ledger.MessagesAllowed, ledger.MessagesUsed, ledger.PeriodEnd.Unix(), expireAt,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("failed to seed quota for account %d: %w", accountID, err)
	}

	if len(previous) == 2 {
		if err := c.repo.SyncMessagesUsed(ctx, uint(previous[0]), previous[1]); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (c *QuotaCache) key(accountID uint) string {
	return quotaCacheKeyPrefix + strconv.FormatUint(uint64(accountID), 10)
}

func parseLedgerUsage(vals []any) (uint, int64, bool) {
	if len(vals) != 2 {
		return 0, 0, false
	}
	idStr, ok1 := vals[0].(string)
	usedStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	used, err := strconv.ParseInt(strings.TrimSpace(usedStr), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return uint(id), used, true
}
