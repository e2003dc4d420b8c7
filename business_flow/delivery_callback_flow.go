package businessflow

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/amirphl/smsdispatch/utils"
)

// OptOutCodes tells which gateway error codes mean the recipient asked to stop
type OptOutCodes interface {
	IsOptOut(code string) bool
}

// DeliveryCallbackFlow applies asynchronous delivery reports from the gateway
type DeliveryCallbackFlow interface {
	ApplyCallback(ctx context.Context, req *dto.DeliveryCallbackRequest) (*dto.DeliveryCallbackResponse, error)
}

// DeliveryCallbackFlowImpl implements DeliveryCallbackFlow
type DeliveryCallbackFlowImpl struct {
	deliveryRepo  repository.DeliveryRecordRepository
	recipientRepo repository.RecipientRepository
	optOut        OptOutCodes
	logger        *log.Logger
	now           func() time.Time
}

// NewDeliveryCallbackFlow creates a new callback flow
func NewDeliveryCallbackFlow(
	deliveryRepo repository.DeliveryRecordRepository,
	recipientRepo repository.RecipientRepository,
	optOut OptOutCodes,
	logger *log.Logger,
) DeliveryCallbackFlow {
	return &DeliveryCallbackFlowImpl{
		deliveryRepo:  deliveryRepo,
		recipientRepo: recipientRepo,
		optOut:        optOut,
		logger:        logger,
		now:           utils.UTCNow,
	}
}

// ApplyCallback moves a sent record to delivered or failed. Repeated callbacks are not applied.
// Campaign counters are not touched: a sent record already counts as delivered.
func (f *DeliveryCallbackFlowImpl) ApplyCallback(ctx context.Context, req *dto.DeliveryCallbackRequest) (*dto.DeliveryCallbackResponse, error) {
	status := models.DeliveryStatus(req.Status)
	if status != models.DeliveryStatusDelivered && status != models.DeliveryStatusFailed {
		return nil, NewBusinessError("CALLBACK_STATUS_INVALID", "Callback status must be delivered or failed", ErrCallbackStatusInvalid)
	}

	applied, err := f.deliveryRepo.ApplyCallback(ctx, req.GatewayMessageID, status, req.ErrorCode, f.now())
	if err != nil {
		return nil, NewBusinessError("CALLBACK_APPLY_FAILED", "Failed to apply delivery callback", err)
	}
	if !applied {
		f.logger.Printf("callback ignored gateway_message_id=%s status=%s", req.GatewayMessageID, status)
		return &dto.DeliveryCallbackResponse{Applied: false}, nil
	}

	if status == models.DeliveryStatusFailed && req.ErrorCode != nil && f.optOut != nil && f.optOut.IsOptOut(*req.ErrorCode) {
		f.markOptedOut(ctx, req.GatewayMessageID)
	}

	f.logger.Printf("callback applied gateway_message_id=%s status=%s error_code=%s", req.GatewayMessageID, status, utils.Deref(req.ErrorCode))
	return &dto.DeliveryCallbackResponse{Applied: true}, nil
}

func (f *DeliveryCallbackFlowImpl) markOptedOut(ctx context.Context, gatewayMessageID string) {
	record, err := f.deliveryRepo.ByGatewayMessageID(ctx, gatewayMessageID)
	if err != nil || record == nil {
		f.logger.Printf("callback opt-out lookup failed gateway_message_id=%s: %v", gatewayMessageID, err)
		return
	}
	if err := f.recipientRepo.MarkOptedOut(ctx, record.RecipientID, f.now()); err != nil {
		f.logger.Printf("callback opt-out failed recipient=%d: %v", record.RecipientID, err)
	}
}
