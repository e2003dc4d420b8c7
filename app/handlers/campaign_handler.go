package handlers

import (
	"log"

	"github.com/amirphl/smsdispatch/app/dto"
	businessflow "github.com/amirphl/smsdispatch/business_flow"
	"github.com/gofiber/fiber/v3"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	ScheduleCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	DeleteCampaign(c fiber.Ctx) error
	CampaignStats(c fiber.Ctx) error
	DeliveryReport(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	baseHandler
	campaignFlow businessflow.CampaignFlow
	reportFlow   businessflow.CampaignReportFlow
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow, reportFlow businessflow.CampaignReportFlow, logger *log.Logger) *CampaignHandler {
	return &CampaignHandler{
		baseHandler:  newBaseHandler(logger),
		campaignFlow: campaignFlow,
		reportFlow:   reportFlow,
	}
}

// CreateCampaign stores a draft campaign with its audience
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	accountID, ok := h.accountID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account ID not found in context", "MISSING_ACCOUNT_ID", nil)
	}
	req.AccountID = accountID

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns")
	defer cancel()

	result, err := h.campaignFlow.CreateCampaign(ctx, &req)
	if err != nil {
		return h.businessError(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// GetCampaign returns one campaign with its counters
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID)
	defer cancel()

	result, err := h.campaignFlow.GetCampaign(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to get campaign", "GET_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaigns pages through the caller's campaigns
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	var req dto.ListCampaignsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	accountID, ok := h.accountID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account ID not found in context", "MISSING_ACCOUNT_ID", nil)
	}
	req.AccountID = accountID

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns")
	defer cancel()

	result, err := h.campaignFlow.ListCampaigns(ctx, &req)
	if err != nil {
		return h.businessError(c, err, "Failed to list campaigns", "LIST_CAMPAIGNS_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// ScheduleCampaign moves a draft to scheduled
func (h *CampaignHandler) ScheduleCampaign(c fiber.Ctx) error {
	var req dto.ScheduleCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.UUID = c.Params("uuid")

	accountID, ok := h.accountID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Account ID not found in context", "MISSING_ACCOUNT_ID", nil)
	}
	req.AccountID = accountID

	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/schedule")
	defer cancel()

	result, err := h.campaignFlow.ScheduleCampaign(ctx, &req)
	if err != nil {
		return h.businessError(c, err, "Failed to schedule campaign", "SCHEDULE_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign scheduled successfully", result)
}

// PauseCampaign stops a scheduled or sending campaign
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/pause")
	defer cancel()

	result, err := h.campaignFlow.PauseCampaign(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to pause campaign", "PAUSE_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign paused successfully", result)
}

// ResumeCampaign puts a paused campaign back on the schedule
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/resume")
	defer cancel()

	result, err := h.campaignFlow.ResumeCampaign(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to resume campaign", "RESUME_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign resumed successfully", result)
}

// CancelCampaign cancels a campaign that is not sending
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/cancel")
	defer cancel()

	result, err := h.campaignFlow.CancelCampaign(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to cancel campaign", "CANCEL_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign cancelled successfully", result)
}

// DeleteCampaign removes a draft or finished campaign
func (h *CampaignHandler) DeleteCampaign(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID)
	defer cancel()

	if err := h.campaignFlow.DeleteCampaign(ctx, req); err != nil {
		return h.businessError(c, err, "Failed to delete campaign", "DELETE_CAMPAIGN_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign deleted successfully", fiber.Map{"uuid": req.UUID})
}

// CampaignStats returns the live delivery aggregate of a campaign
func (h *CampaignHandler) CampaignStats(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/stats")
	defer cancel()

	result, err := h.campaignFlow.CampaignStats(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to get campaign stats", "CAMPAIGN_STATS_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign stats retrieved successfully", result)
}

// DeliveryReport downloads the xlsx delivery report of a campaign
func (h *CampaignHandler) DeliveryReport(c fiber.Ctx) error {
	req, ok, err := h.actionRequest(c)
	if !ok {
		return err
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/campaigns/"+req.UUID+"/report")
	defer cancel()

	filename, data, err := h.reportFlow.DeliveryReport(ctx, req)
	if err != nil {
		return h.businessError(c, err, "Failed to generate report", "DOWNLOAD_FAILED")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

func (h *CampaignHandler) actionRequest(c fiber.Ctx) (*dto.CampaignActionRequest, bool, error) {
	accountID, ok := h.accountID(c)
	if !ok {
		return nil, false, h.ErrorResponse(c, fiber.StatusUnauthorized, "Account ID not found in context", "MISSING_ACCOUNT_ID", nil)
	}
	req := &dto.CampaignActionRequest{AccountID: accountID, UUID: c.Params("uuid")}
	if ok, err := h.validate(c, req); !ok {
		return nil, false, err
	}
	return req, true, nil
}
