package businessflow

import (
	"context"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/amirphl/smsdispatch/utils"
)

// QuotaFlow exposes an account's quota
type QuotaFlow interface {
	CurrentQuota(ctx context.Context, accountID uint) (*dto.QuotaResponse, error)
}

// QuotaFlowImpl implements QuotaFlow
type QuotaFlowImpl struct {
	quotaRepo repository.QuotaRepository
	now       func() time.Time
}

// NewQuotaFlow creates a new quota flow
func NewQuotaFlow(quotaRepo repository.QuotaRepository) QuotaFlow {
	return &QuotaFlowImpl{quotaRepo: quotaRepo, now: utils.UTCNow}
}

// CurrentQuota returns the period covering now
func (f *QuotaFlowImpl) CurrentQuota(ctx context.Context, accountID uint) (*dto.QuotaResponse, error) {
	ledger, err := f.quotaRepo.Current(ctx, accountID, f.now())
	if err != nil {
		return nil, NewBusinessError("QUOTA_LOOKUP_FAILED", "Failed to lookup quota", err)
	}
	if ledger == nil {
		return nil, NewBusinessError("QUOTA_NOT_FOUND", "No quota period is active", ErrQuotaNotFound)
	}

	resp := ToQuotaResponse(ledger)
	return &resp, nil
}
