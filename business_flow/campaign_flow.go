package businessflow

import (
	"context"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/google/uuid"
)

// CampaignReconciler settles a campaign's counters from its delivery ledger
type CampaignReconciler interface {
	Reconcile(ctx context.Context, campaignID uint) (models.CampaignStatus, error)
}

// CampaignFlow handles the campaign business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	ScheduleCampaign(ctx context.Context, req *dto.ScheduleCampaignRequest) (*dto.CampaignResponse, error)
	PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error)
	ResumeCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error)
	DeleteCampaign(ctx context.Context, req *dto.CampaignActionRequest) error
	CampaignStats(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignStatsResponse, error)
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	deliveryRepo  repository.DeliveryRecordRepository
	quotaRepo     repository.QuotaRepository
	reconciler    CampaignReconciler
	tx            TxRunner
	logger        *log.Logger
	now           func() time.Time
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	deliveryRepo repository.DeliveryRecordRepository,
	quotaRepo repository.QuotaRepository,
	reconciler CampaignReconciler,
	tx TxRunner,
	logger *log.Logger,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		deliveryRepo:  deliveryRepo,
		quotaRepo:     quotaRepo,
		reconciler:    reconciler,
		tx:            tx,
		logger:        logger,
		now:           utils.UTCNow,
	}
}

// CreateCampaign stores a draft together with its audience
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CampaignResponse, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrTitleRequired)
	}
	if strings.TrimSpace(req.Template) == "" {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrTemplateRequired)
	}

	ids := slices.Clone(req.RecipientIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	if len(ids) > 0 {
		recipients, err := s.recipientRepo.ByIDs(ctx, ids)
		if err != nil {
			return nil, NewBusinessError("RECIPIENT_LOOKUP_FAILED", "Failed to lookup recipients", err)
		}
		owned := 0
		for _, r := range recipients {
			if r.AccountID == req.AccountID {
				owned++
			}
		}
		if owned != len(ids) {
			return nil, NewBusinessErrorf("RECIPIENT_NOT_FOUND", "%d recipients are unknown", ErrRecipientNotFound, len(ids)-owned)
		}
	}

	now := s.now()
	campaign := &models.Campaign{
		UUID:      uuid.New(),
		AccountID: req.AccountID,
		Title:     strings.TrimSpace(req.Title),
		Template:  req.Template,
		Variables: req.Variables,
		Status:    models.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.tx(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}
		attached, err := s.recipientRepo.AttachToCampaign(txCtx, campaign.ID, ids)
		if err != nil {
			return err
		}
		campaign.RecipientsCount = attached
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	s.logger.Printf("campaign created id=%d uuid=%s account=%d recipients=%d", campaign.ID, campaign.UUID, campaign.AccountID, campaign.RecipientsCount)
	resp := ToCampaignResponse(campaign)
	return &resp, nil
}

// GetCampaign returns one campaign of the caller
func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}
	resp := ToCampaignResponse(campaign)
	return &resp, nil
}

// ListCampaigns pages through the caller's campaigns, newest first
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	page, pageSize := req.Page, req.PageSize
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = 20
	}
	if page < 1 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPage)
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPageSize)
	}

	filter := models.CampaignFilter{AccountID: &req.AccountID}
	if req.Status != nil {
		status := models.CampaignStatus(*req.Status)
		filter.Status = &status
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}
	campaigns, err := s.campaignRepo.ByFilter(ctx, filter, "id DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, ToCampaignResponse(c))
	}

	return &dto.ListCampaignsResponse{
		Items: items,
		Pagination: dto.PaginationInfo{
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	}, nil
}

// ScheduleCampaign moves a draft to scheduled and takes one campaign unit from the quota
func (s *CampaignFlowImpl) ScheduleCampaign(ctx context.Context, req *dto.ScheduleCampaignRequest) (*dto.CampaignResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}

	at := req.ScheduledAt.UTC()
	if !at.After(s.now()) {
		return nil, NewBusinessError("SCHEDULE_IN_PAST", "Schedule time must be in the future", ErrScheduleInPast)
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, s.transitionError(campaign.Status, models.CampaignStatusScheduled)
	}

	err = s.tx(ctx, func(txCtx context.Context) error {
		reserved, err := s.quotaRepo.ReserveCampaign(txCtx, campaign.AccountID)
		if err != nil {
			return err
		}
		if !reserved {
			return ErrCampaignQuotaExceeded
		}

		ok, err := s.campaignRepo.TransitionStatus(txCtx, campaign.ID,
			[]models.CampaignStatus{models.CampaignStatusDraft}, models.CampaignStatusScheduled,
			models.CampaignTransition{ScheduledAt: &at})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidStatusTransition
		}
		return nil
	})
	if err != nil {
		switch {
		case IsCampaignQuotaExceeded(err):
			return nil, NewBusinessError("CAMPAIGN_QUOTA_EXCEEDED", "No campaign quota left in the current period", err)
		case IsInvalidStatusTransition(err):
			return nil, s.transitionError(campaign.Status, models.CampaignStatusScheduled)
		}
		return nil, NewBusinessError("CAMPAIGN_SCHEDULE_FAILED", "Failed to schedule campaign", err)
	}

	s.logger.Printf("campaign scheduled id=%d at=%s", campaign.ID, at.Format(time.RFC3339))
	return s.reload(ctx, campaign.ID)
}

// PauseCampaign stops new sends of a scheduled or sending campaign
func (s *CampaignFlowImpl) PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}

	from := []models.CampaignStatus{models.CampaignStatusScheduled, models.CampaignStatusSending}
	if err := s.transition(ctx, campaign, from, models.CampaignStatusPaused, models.CampaignTransition{}); err != nil {
		return nil, err
	}

	s.logger.Printf("campaign paused id=%d from=%s", campaign.ID, campaign.Status)
	return s.reload(ctx, campaign.ID)
}

// ResumeCampaign puts a paused campaign back on the schedule for immediate pickup
func (s *CampaignFlowImpl) ResumeCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from := []models.CampaignStatus{models.CampaignStatusPaused}
	if err := s.transition(ctx, campaign, from, models.CampaignStatusScheduled, models.CampaignTransition{ScheduledAt: &now}); err != nil {
		return nil, err
	}

	s.logger.Printf("campaign resumed id=%d", campaign.ID)
	return s.reload(ctx, campaign.ID)
}

// CancelCampaign ends a draft, scheduled or paused campaign.
// A campaign that never started gets its campaign unit back; one that did has its counters settled.
func (s *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled, models.CampaignStatusPaused:
	default:
		return nil, s.transitionError(campaign.Status, models.CampaignStatusCancelled)
	}

	// the unit was taken when the draft was scheduled
	refund := campaign.Status != models.CampaignStatusDraft && campaign.StartedAt == nil
	now := s.now()

	err = s.tx(ctx, func(txCtx context.Context) error {
		ok, err := s.campaignRepo.TransitionStatus(txCtx, campaign.ID,
			[]models.CampaignStatus{campaign.Status}, models.CampaignStatusCancelled,
			models.CampaignTransition{FinishedAt: &now})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidStatusTransition
		}
		if refund {
			return s.quotaRepo.RefundCampaign(txCtx, campaign.AccountID)
		}
		return nil
	})
	if err != nil {
		if IsInvalidStatusTransition(err) {
			return nil, s.transitionError(campaign.Status, models.CampaignStatusCancelled)
		}
		return nil, NewBusinessError("CAMPAIGN_CANCEL_FAILED", "Failed to cancel campaign", err)
	}

	if campaign.StartedAt != nil {
		if _, err := s.reconciler.Reconcile(ctx, campaign.ID); err != nil {
			s.logger.Printf("campaign cancelled id=%d but settling counters failed: %v", campaign.ID, err)
		}
	}

	s.logger.Printf("campaign cancelled id=%d from=%s refunded=%t", campaign.ID, campaign.Status, refund)
	return s.reload(ctx, campaign.ID)
}

// DeleteCampaign removes a draft or finished campaign with its ledger
func (s *CampaignFlowImpl) DeleteCampaign(ctx context.Context, req *dto.CampaignActionRequest) error {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return err
	}
	if !campaign.IsDeletable() {
		return NewBusinessErrorf("CAMPAIGN_NOT_DELETABLE", "Campaign in status %s cannot be deleted", ErrCampaignNotDeletable, campaign.Status)
	}

	if err := s.campaignRepo.Delete(ctx, campaign.ID); err != nil {
		return NewBusinessError("CAMPAIGN_DELETE_FAILED", "Failed to delete campaign", err)
	}

	s.logger.Printf("campaign deleted id=%d status=%s", campaign.ID, campaign.Status)
	return nil
}

// CampaignStats returns the stored counters next to the live ledger aggregate. AudienceSize is
// the attached audience; it exceeds RecipientsCount by the recipients excluded at send time.
func (s *CampaignFlowImpl) CampaignStats(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignStatsResponse, error) {
	campaign, err := s.ownedCampaign(ctx, req.AccountID, req.UUID)
	if err != nil {
		return nil, err
	}

	counts, err := s.deliveryRepo.CountsByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATS_FAILED", "Failed to aggregate deliveries", err)
	}
	audience, err := s.recipientRepo.CountByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATS_FAILED", "Failed to count campaign audience", err)
	}

	notStarted := campaign.RecipientsCount - counts.Total()
	if notStarted < 0 {
		notStarted = 0
	}

	return &dto.CampaignStatsResponse{
		UUID:            campaign.UUID.String(),
		Status:          campaign.Status.String(),
		AudienceSize:    audience,
		RecipientsCount: campaign.RecipientsCount,
		DeliveredCount:  campaign.DeliveredCount,
		FailedCount:     campaign.FailedCount,
		Pending:         counts.Pending,
		Sent:            counts.Sent,
		Delivered:       counts.Delivered,
		Failed:          counts.Failed,
		NotStarted:      notStarted,
	}, nil
}

func (s *CampaignFlowImpl) transition(ctx context.Context, campaign *models.Campaign, from []models.CampaignStatus, to models.CampaignStatus, change models.CampaignTransition) error {
	if !slices.Contains(from, campaign.Status) {
		return s.transitionError(campaign.Status, to)
	}

	ok, err := s.campaignRepo.TransitionStatus(ctx, campaign.ID, from, to, change)
	if err != nil {
		return NewBusinessError("CAMPAIGN_TRANSITION_FAILED", "Failed to update campaign status", err)
	}
	if !ok {
		current, err := s.campaignRepo.StatusOf(ctx, campaign.ID)
		if err != nil {
			return NewBusinessError("CAMPAIGN_TRANSITION_FAILED", "Failed to update campaign status", err)
		}
		return s.transitionError(current, to)
	}
	return nil
}

func (s *CampaignFlowImpl) transitionError(from, to models.CampaignStatus) error {
	return NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Campaign cannot move from %s to %s", ErrInvalidStatusTransition, from, to)
}

func (s *CampaignFlowImpl) ownedCampaign(ctx context.Context, accountID uint, rawUUID string) (*models.Campaign, error) {
	if strings.TrimSpace(rawUUID) == "" {
		return nil, NewBusinessError("CAMPAIGN_UUID_REQUIRED", "Campaign UUID is required", ErrCampaignUUIDRequired)
	}
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	campaign, err := s.campaignRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.AccountID != accountID {
		return nil, NewBusinessError("CAMPAIGN_ACCESS_DENIED", "Campaign belongs to another account", ErrCampaignAccessDenied)
	}
	return campaign, nil
}

func (s *CampaignFlowImpl) reload(ctx context.Context, id uint) (*dto.CampaignResponse, error) {
	campaign, err := s.campaignRepo.ByID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	resp := ToCampaignResponse(campaign)
	return &resp, nil
}
