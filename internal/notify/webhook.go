package notify

import (
	"context"
	"fmt"
	"time"

	"tracktech-scheduler/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// UnschedulablePayload 零产能订单通知
type UnschedulablePayload struct {
	Event     string `json:"event"`
	OrderID   string `json:"order_id"`
	OrderNo   string `json:"order_no"`
	StyleName string `json:"style_name"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// WebhookNotifier 通过 HTTP webhook 通知需人工处理的订单
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知器，5xx 与网络错误会重试
func NewWebhookNotifier(url string, timeout, retryWait time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(5*retryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// NotifyUnschedulable 发送零产能订单通知
func (n *WebhookNotifier) NotifyUnschedulable(ctx context.Context, order models.Order, reason string) error {
	payload := UnschedulablePayload{
		Event:     "order.unschedulable",
		OrderID:   order.ID,
		OrderNo:   order.OrderNo,
		StyleName: order.StyleName,
		Quantity:  order.Quantity,
		Reason:    reason,
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.logger.Error("Webhook call failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		n.logger.Error("Webhook returned error",
			zap.String("order_id", order.ID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("webhook error: status %d", resp.StatusCode())
	}

	n.logger.Info("Notified unschedulable order",
		zap.String("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
	)
	return nil
}
