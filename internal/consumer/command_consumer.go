package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "tracktech-scheduler/internal/common/redis"
	"tracktech-scheduler/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 命令类型
const (
	CommandOrderCreate       = "order.create"
	CommandOrderDelete       = "order.delete"
	CommandBlockMove         = "block.move"
	CommandScheduleReconcile = "schedule.reconcile"
)

// CommandHandler 命令的执行方，由 *service.PlannerService 实现
type CommandHandler interface {
	CreateOrder(ctx context.Context, req service.OrderRequest) (service.OrderView, error)
	DeleteOrder(ctx context.Context, id string) (*service.DeleteOrderResponse, error)
	MoveBlock(ctx context.Context, blockID, lineID, date string) (*service.MoveBlockResponse, error)
	Reconcile(ctx context.Context) (*service.ReconcileResponse, error)
}

var _ CommandHandler = (*service.PlannerService)(nil)

// errRejected 命令本身无效，重试也不会成功
var errRejected = errors.New("command rejected")

// rejected 判断失败是否为永久性的：格式错误或业务校验失败
func rejected(err error) bool {
	return errors.Is(err, errRejected) ||
		errors.Is(err, service.ErrInvalid) ||
		errors.Is(err, service.ErrNotFound) ||
		errors.Is(err, service.ErrOrderScheduled)
}

// Command 排产命令
type Command struct {
	Command string          `json:"command"`
	OrderID string          `json:"order_id,omitempty"`
	BlockID string          `json:"block_id,omitempty"`
	LineID  string          `json:"line_id,omitempty"`
	Date    string          `json:"date,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandConsumer 命令消费者
type CommandConsumer struct {
	redisClient  *redis.Client
	handler      CommandHandler
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	block        time.Duration
}

// NewCommandConsumer 创建命令消费者
// block 为单次读取的阻塞时长，负数表示不阻塞
func NewCommandConsumer(
	redisClient *redis.Client,
	handler CommandHandler,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
	block time.Duration,
) *CommandConsumer {
	return &CommandConsumer{
		redisClient:  redisClient,
		handler:      handler,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
		block:        block,
	}
}

// Start 启动命令消费者，ctx 取消后返回
func (c *CommandConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Command consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 先处理上次运行遗留的未确认消息
	if err := c.consumePending(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Failed to replay pending commands", zap.Error(err))
	}

	// 指数退避
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeCommands(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume commands",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeCommands 读取一批新命令
func (c *CommandConsumer) consumeCommands(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
		c.block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	c.handleMessages(ctx, messages)
	return nil
}

// consumePending 重新处理已投递但未确认的命令，单次读取一批
func (c *CommandConsumer) consumePending(ctx context.Context) error {
	messages, err := rediscommon.ReadPendingFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read pending commands: %w", err)
	}
	if len(messages) > 0 {
		c.logger.Info("Replaying pending commands", zap.Int("count", len(messages)))
	}

	c.handleMessages(ctx, messages)
	return nil
}

// handleMessages 成功或被拒绝的命令确认；临时失败保持 pending，下次启动时重放
func (c *CommandConsumer) handleMessages(ctx context.Context, messages []rediscommon.StreamMessage) {
	for _, msg := range messages {
		if err := c.processCommand(ctx, msg); err != nil {
			if !rejected(err) {
				c.logger.Error("Failed to process command",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			c.logger.Warn("Command rejected",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
}

// processCommand 处理单条命令
func (c *CommandConsumer) processCommand(ctx context.Context, msg rediscommon.StreamMessage) error {
	cmd, err := parseCommand(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", errRejected, err)
	}

	c.logger.Info("Processing planner command",
		zap.String("command", cmd.Command),
		zap.String("message_id", msg.ID),
	)

	switch cmd.Command {
	case CommandOrderCreate:
		var req service.OrderRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return fmt.Errorf("%w: invalid order payload: %w", errRejected, err)
		}
		view, err := c.handler.CreateOrder(ctx, req)
		if err != nil {
			return err
		}
		c.logger.Info("Order created from command",
			zap.String("order_id", view.ID),
			zap.String("status", view.Status),
		)

	case CommandOrderDelete:
		if cmd.OrderID == "" {
			return fmt.Errorf("%w: order.delete requires order_id", errRejected)
		}
		if _, err := c.handler.DeleteOrder(ctx, cmd.OrderID); err != nil {
			return err
		}

	case CommandBlockMove:
		if cmd.BlockID == "" || cmd.LineID == "" || cmd.Date == "" {
			return fmt.Errorf("%w: block.move requires block_id, line_id and date", errRejected)
		}
		resp, err := c.handler.MoveBlock(ctx, cmd.BlockID, cmd.LineID, cmd.Date)
		if err != nil {
			return err
		}
		if resp.Slot.Conflict {
			c.logger.Warn("Command moved block into overbooked slot",
				zap.String("block_id", cmd.BlockID),
				zap.String("line_id", cmd.LineID),
				zap.String("date", cmd.Date),
			)
		}

	case CommandScheduleReconcile:
		resp, err := c.handler.Reconcile(ctx)
		if err != nil {
			return err
		}
		c.logger.Info("Reconcile finished",
			zap.Int("new_blocks", len(resp.NewBlocks)),
			zap.Int("unschedulable", len(resp.Unschedulable)),
		)

	default:
		// 未知命令直接确认，避免反复投递
		c.logger.Warn("Unknown command",
			zap.String("command", cmd.Command),
		)
	}

	return nil
}

// parseCommand 优先解析 data 字段中的 JSON，否则按平铺字段解析
func parseCommand(msg rediscommon.StreamMessage) (*Command, error) {
	if dataStr, ok := msg.Values["data"].(string); ok {
		var cmd Command
		if err := json.Unmarshal([]byte(dataStr), &cmd); err == nil && cmd.Command != "" {
			return &cmd, nil
		}
	}

	cmd := &Command{}
	if v, ok := msg.Values["command"].(string); ok {
		cmd.Command = v
	}
	if v, ok := msg.Values["order_id"].(string); ok {
		cmd.OrderID = v
	}
	if v, ok := msg.Values["block_id"].(string); ok {
		cmd.BlockID = v
	}
	if v, ok := msg.Values["line_id"].(string); ok {
		cmd.LineID = v
	}
	if v, ok := msg.Values["date"].(string); ok {
		cmd.Date = v
	}
	if v, ok := msg.Values["payload"].(string); ok && v != "" {
		cmd.Payload = json.RawMessage(v)
	}

	if cmd.Command == "" {
		return nil, errors.New("invalid command: missing command")
	}
	return cmd, nil
}
