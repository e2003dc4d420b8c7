package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/smsdispatch/app/dto"
	"github.com/amirphl/smsdispatch/models"
	"github.com/amirphl/smsdispatch/repository"
	"github.com/amirphl/smsdispatch/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	reportSummarySheet    = "Summary"
	reportDeliveriesSheet = "Deliveries"
	reportAttemptsSheet   = "Attempts"
	reportPageSize        = 1000
)

// CampaignReportFlow builds downloadable delivery reports
type CampaignReportFlow interface {
	DeliveryReport(ctx context.Context, req *dto.CampaignActionRequest) (string, []byte, error)
}

// CampaignReportFlowImpl implements CampaignReportFlow with excelize
type CampaignReportFlowImpl struct {
	campaignRepo repository.CampaignRepository
	deliveryRepo repository.DeliveryRecordRepository
}

// NewCampaignReportFlow creates a new report flow
func NewCampaignReportFlow(campaignRepo repository.CampaignRepository, deliveryRepo repository.DeliveryRecordRepository) CampaignReportFlow {
	return &CampaignReportFlowImpl{campaignRepo: campaignRepo, deliveryRepo: deliveryRepo}
}

// DeliveryReport returns an xlsx workbook with a summary sheet, one row per delivery record and
// one row per gateway attempt
func (f *CampaignReportFlowImpl) DeliveryReport(ctx context.Context, req *dto.CampaignActionRequest) (string, []byte, error) {
	id, err := uuid.Parse(req.UUID)
	if err != nil {
		return "", nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	campaign, err := f.campaignRepo.ByUUID(ctx, id)
	if err != nil {
		return "", nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return "", nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.AccountID != req.AccountID {
		return "", nil, NewBusinessError("CAMPAIGN_ACCESS_DENIED", "Campaign belongs to another account", ErrCampaignAccessDenied)
	}

	counts, err := f.deliveryRepo.CountsByCampaign(ctx, campaign.ID)
	if err != nil {
		return "", nil, NewBusinessError("CAMPAIGN_REPORT_FAILED", "Failed to aggregate deliveries", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), reportSummarySheet)
	summary := [][]any{
		{"Campaign", campaign.Title},
		{"UUID", campaign.UUID.String()},
		{"Status", campaign.Status.String()},
		{"Recipients", campaign.RecipientsCount},
		{"Delivered count", campaign.DeliveredCount},
		{"Failed count", campaign.FailedCount},
		{"Pending records", counts.Pending},
		{"Sent records", counts.Sent},
		{"Delivered records", counts.Delivered},
		{"Failed records", counts.Failed},
		{"Started at", formatReportTime(campaign.StartedAt)},
		{"Finished at", formatReportTime(campaign.FinishedAt)},
		{"Generated at", utils.UTCNow().Format(time.RFC3339)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(reportSummarySheet, cell, &row); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
		}
	}

	if err := f.writeDeliveries(ctx, xl, campaign.ID); err != nil {
		return "", nil, err
	}
	if err := f.writeAttempts(ctx, xl, campaign.ID); err != nil {
		return "", nil, err
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	filename := fmt.Sprintf("campaign_%s_deliveries.xlsx", campaign.UUID.String())
	return filename, buf.Bytes(), nil
}

func (f *CampaignReportFlowImpl) writeDeliveries(ctx context.Context, xl *excelize.File, campaignID uint) error {
	header := []any{"Recipient ID", "Destination", "Status", "Gateway Message ID", "Error Code", "Attempts", "Quota Reserved", "Sent At", "Delivered At", "Tracking ID"}
	return f.streamSheet(ctx, xl, reportDeliveriesSheet, header, campaignID, func(records []*models.DeliveryRecord) ([][]any, error) {
		rows := make([][]any, 0, len(records))
		for _, r := range records {
			rows = append(rows, deliveryRow(r))
		}
		return rows, nil
	})
}

func (f *CampaignReportFlowImpl) writeAttempts(ctx context.Context, xl *excelize.File, campaignID uint) error {
	header := []any{"Tracking ID", "Recipient ID", "Attempt", "Error Code", "Latency (ms)", "At"}
	return f.streamSheet(ctx, xl, reportAttemptsSheet, header, campaignID, func(records []*models.DeliveryRecord) ([][]any, error) {
		byID := make(map[uint]*models.DeliveryRecord, len(records))
		ids := make([]uint, 0, len(records))
		for _, r := range records {
			byID[r.ID] = r
			ids = append(ids, r.ID)
		}
		attempts, err := f.deliveryRepo.AttemptsByRecords(ctx, ids)
		if err != nil {
			return nil, NewBusinessError("CAMPAIGN_REPORT_FAILED", "Failed to read delivery attempts", err)
		}
		rows := make([][]any, 0, len(attempts))
		for _, a := range attempts {
			r, ok := byID[a.DeliveryRecordID]
			if !ok {
				continue
			}
			rows = append(rows, []any{
				r.TrackingID.String(),
				r.RecipientID,
				a.AttemptNumber,
				utils.Deref(a.ErrorCode),
				a.LatencyMs,
				a.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		return rows, nil
	})
}

// streamSheet pages through the campaign ledger and streams the rows built from each page
func (f *CampaignReportFlowImpl) streamSheet(ctx context.Context, xl *excelize.File, sheet string, header []any, campaignID uint, build func([]*models.DeliveryRecord) ([][]any, error)) error {
	if _, err := xl.NewSheet(sheet); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	sw, err := xl.NewStreamWriter(sheet)
	if err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	rowNum := 2
	for offset := 0; ; offset += reportPageSize {
		records, err := f.deliveryRepo.ListByCampaign(ctx, campaignID, reportPageSize, offset)
		if err != nil {
			return NewBusinessError("CAMPAIGN_REPORT_FAILED", "Failed to read deliveries", err)
		}
		rows, err := build(records)
		if err != nil {
			return err
		}
		for _, row := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, rowNum)
			if err := sw.SetRow(cell, row); err != nil {
				return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
			}
			rowNum++
		}
		if len(records) < reportPageSize {
			break
		}
	}
	if err := sw.Flush(); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return nil
}

func deliveryRow(r *models.DeliveryRecord) []any {
	return []any{
		r.RecipientID,
		r.Destination,
		r.Status.String(),
		utils.Deref(r.GatewayMessageID),
		utils.Deref(r.ErrorCode),
		r.Attempts,
		r.QuotaReserved,
		formatReportTime(r.SentAt),
		formatReportTime(r.DeliveredAt),
		r.TrackingID.String(),
	}
}

func formatReportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
