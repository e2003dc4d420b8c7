package dispatch

import (
	"context"
	"encoding/json"
	"log"

	"github.com/amirphl/smsdispatch/models"
	"github.com/redis/go-redis/v9"
)

// CompletionNotifier is told once when a campaign reaches a terminal status
type CompletionNotifier interface {
	CampaignFinished(ctx context.Context, campaign *models.Campaign)
}

// LogNotifier writes one line per finished campaign
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) CampaignFinished(_ context.Context, c *models.Campaign) {
	n.logger.Printf("campaign finished id=%d uuid=%s status=%s recipients=%d delivered=%d failed=%d",
		c.ID, c.UUID, c.Status, c.RecipientsCount, c.DeliveredCount, c.FailedCount)
}

// CampaignFinishedChannel is the pub/sub channel RedisNotifier publishes to
const CampaignFinishedChannel = "campaigns:finished"

type campaignFinishedEvent struct {
	CampaignID      uint   `json:"campaign_id"`
	UUID            string `json:"uuid"`
	AccountID       uint   `json:"account_id"`
	Status          string `json:"status"`
	RecipientsCount int64  `json:"recipients_count"`
	DeliveredCount  int64  `json:"delivered_count"`
	FailedCount     int64  `json:"failed_count"`
}

// RedisNotifier publishes finished campaigns on a Redis channel for other services
type RedisNotifier struct {
	cmd    redis.Cmdable
	logger *log.Logger
}

func NewRedisNotifier(cmd redis.Cmdable, logger *log.Logger) *RedisNotifier {
	return &RedisNotifier{cmd: cmd, logger: logger}
}

func (n *RedisNotifier) CampaignFinished(ctx context.Context, c *models.Campaign) {
	payload, err := json.Marshal(campaignFinishedEvent{
		CampaignID:      c.ID,
		UUID:            c.UUID.String(),
		AccountID:       c.AccountID,
		Status:          c.Status.String(),
		RecipientsCount: c.RecipientsCount,
		DeliveredCount:  c.DeliveredCount,
		FailedCount:     c.FailedCount,
	})
	if err != nil {
		n.logger.Printf("campaign finished event marshal failed id=%d err=%v", c.ID, err)
		return
	}
	if err := n.cmd.Publish(ctx, CampaignFinishedChannel, payload).Err(); err != nil {
		n.logger.Printf("campaign finished publish failed id=%d err=%v", c.ID, err)
	}
}

// MultiNotifier fans a notification out to several notifiers in order
type MultiNotifier []CompletionNotifier

func (m MultiNotifier) CampaignFinished(ctx context.Context, c *models.Campaign) {
	for _, n := range m {
		n.CampaignFinished(ctx, c)
	}
}
