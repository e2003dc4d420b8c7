// Package adapters provides adapter functions to bridge different layers of the application
package adapters

import (
	"context"
	"time"

	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
)

// QuotaUsageCache reports the live message usage kept in front of the durable ledger
type QuotaUsageCache interface {
	Usage(ctx context.Context, accountID uint) (ledgerID uint, used int64, ok bool, err error)
}

// LiveQuotaRepository serves quota reads from Postgres with the cached usage laid over it, so the
// quota API does not wait for the next flush. Every other call goes to the embedded repository.
type LiveQuotaRepository struct {
	repository.QuotaRepository
	cache QuotaUsageCache
}

// NewLiveQuotaRepository adapts repo and cache into one quota repository
func NewLiveQuotaRepository(repo repository.QuotaRepository, cache QuotaUsageCache) *LiveQuotaRepository {
	return &LiveQuotaRepository{QuotaRepository: repo, cache: cache}
}

// Current returns the ledger covering at. Cache failures fall back to the durable numbers.
func (r *LiveQuotaRepository) Current(ctx context.Context, accountID uint, at time.Time) (*models.QuotaLedger, error) {
	ledger, err := r.QuotaRepository.Current(ctx, accountID, at)
	if err != nil || ledger == nil {
		return ledger, err
	}

	ledgerID, used, ok, err := r.cache.Usage(ctx, accountID)
	if err != nil || !ok || ledgerID != ledger.ID {
		return ledger, nil
	}
	ledger.MessagesUsed = used
	return ledger, nil
}
