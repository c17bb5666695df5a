package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tracktech-scheduler/internal/calendar"
	"tracktech-scheduler/internal/common/config"
	rediscommon "tracktech-scheduler/internal/common/redis"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testStream = "planner:commands"
	testGroup  = "planner-group"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) CreateOrder(ctx context.Context, req service.OrderRequest) (service.OrderView, error) {
	args := m.Called(req)
	return args.Get(0).(service.OrderView), args.Error(1)
}

func (m *mockHandler) DeleteOrder(ctx context.Context, id string) (*service.DeleteOrderResponse, error) {
	args := m.Called(id)
	resp, _ := args.Get(0).(*service.DeleteOrderResponse)
	return resp, args.Error(1)
}

func (m *mockHandler) MoveBlock(ctx context.Context, blockID, lineID, date string) (*service.MoveBlockResponse, error) {
	args := m.Called(blockID, lineID, date)
	resp, _ := args.Get(0).(*service.MoveBlockResponse)
	return resp, args.Error(1)
}

func (m *mockHandler) Reconcile(ctx context.Context) (*service.ReconcileResponse, error) {
	args := m.Called()
	resp, _ := args.Get(0).(*service.ReconcileResponse)
	return resp, args.Error(1)
}

func setupConsumer(t *testing.T, block time.Duration) (*CommandConsumer, *redis.Client, *mockHandler) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rediscommon.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rediscommon.Close(client) })

	h := new(mockHandler)
	c := NewCommandConsumer(client, h, zap.NewNop(), testStream, testGroup, "planner-1", 10, block)
	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), client, testStream, testGroup))
	return c, client, h
}

func pending(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), testStream, testGroup).Result()
	require.NoError(t, err)
	return p.Count
}

func TestConsumeCommands_OrderCreate(t *testing.T) {
	c, client, h := setupConsumer(t, -1)
	ctx := context.Background()

	h.On("CreateOrder", mock.MatchedBy(func(req service.OrderRequest) bool {
		return req.StyleName == "Polo" && req.Quantity == 2500 && len(req.AssignedLines) == 2
	})).Return(service.OrderView{Order: models.Order{ID: "o-1"}, Status: "scheduled"}, nil).Once()

	_, err := rediscommon.PublishJSONToStream(ctx, client, testStream, map[string]any{
		"command": CommandOrderCreate,
		"payload": map[string]any{
			"styleName":     "Polo",
			"quantity":      2500,
			"deliveryDate":  "2024-03-20",
			"unitId":        "u1",
			"assignedLines": []string{"A", "B"},
			"shiftId":       "s1",
		},
	})
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(ctx))
	h.AssertExpectations(t)
	assert.Equal(t, int64(0), pending(t, client))
}

func TestConsumeCommands_FlatFields(t *testing.T) {
	c, client, h := setupConsumer(t, -1)
	ctx := context.Background()

	h.On("MoveBlock", "b-1", "B", "2024-03-04").
		Return(&service.MoveBlockResponse{Slot: calendar.SlotState{Conflict: true}}, nil).Once()
	h.On("DeleteOrder", "o-9").Return(&service.DeleteOrderResponse{}, nil).Once()
	h.On("Reconcile").Return(&service.ReconcileResponse{}, nil).Once()

	_, err := rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command":  CommandBlockMove,
		"block_id": "b-1",
		"line_id":  "B",
		"date":     "2024-03-04",
	})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command":  CommandOrderDelete,
		"order_id": "o-9",
	})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command": CommandScheduleReconcile,
	})
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(ctx))
	h.AssertExpectations(t)
	assert.Equal(t, int64(0), pending(t, client))
}

func TestConsumeCommands_RejectedAreAcked(t *testing.T) {
	c, client, h := setupConsumer(t, -1)
	ctx := context.Background()

	h.On("DeleteOrder", "ghost").Return(nil, service.ErrNotFound).Once()

	_, err := rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command":  CommandOrderDelete,
		"order_id": "ghost",
	})
	require.NoError(t, err)
	// 缺少 block_id
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command": CommandBlockMove,
	})
	require.NoError(t, err)
	// 无法解析
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"foo": "bar",
	})
	require.NoError(t, err)
	// 未知命令
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command": "order.archive",
	})
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(ctx))
	h.AssertExpectations(t)
	h.AssertNotCalled(t, "MoveBlock", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(0), pending(t, client))
}

func TestConsumeCommands_TransientFailureReplayed(t *testing.T) {
	c, client, h := setupConsumer(t, -1)
	ctx := context.Background()

	h.On("Reconcile").Return(nil, errors.New("failed to persist: connection refused")).Once()
	_, err := rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command": CommandScheduleReconcile,
	})
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(ctx))
	assert.Equal(t, int64(1), pending(t, client))

	// 新消息读取不会再次投递
	require.NoError(t, c.consumeCommands(ctx))
	h.AssertNumberOfCalls(t, "Reconcile", 1)

	h.On("Reconcile").Return(&service.ReconcileResponse{}, nil).Once()
	require.NoError(t, c.consumePending(ctx))
	h.AssertNumberOfCalls(t, "Reconcile", 2)
	assert.Equal(t, int64(0), pending(t, client))
}

func TestRejected(t *testing.T) {
	assert.True(t, rejected(fmt.Errorf("%w: line x", service.ErrInvalid)))
	assert.True(t, rejected(fmt.Errorf("%w: order o", service.ErrNotFound)))
	assert.True(t, rejected(service.ErrOrderScheduled))
	assert.True(t, rejected(fmt.Errorf("%w: missing command", errRejected)))
	assert.False(t, rejected(errors.New("failed to persist: disk full")))
}

func TestConsumeCommands_Empty(t *testing.T) {
	c, _, h := setupConsumer(t, -1)
	require.NoError(t, c.consumeCommands(context.Background()))
	h.AssertNotCalled(t, "Reconcile")
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand(rediscommon.StreamMessage{Values: map[string]interface{}{
		"data": `{"command":"block.move","block_id":"b","line_id":"L","date":"2024-01-02"}`,
	}})
	require.NoError(t, err)
	assert.Equal(t, CommandBlockMove, cmd.Command)
	assert.Equal(t, "L", cmd.LineID)

	cmd, err = parseCommand(rediscommon.StreamMessage{Values: map[string]interface{}{
		"command": "order.create",
		"payload": `{"styleName":"Tee","quantity":5}`,
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"styleName":"Tee","quantity":5}`, string(cmd.Payload))

	_, err = parseCommand(rediscommon.StreamMessage{Values: map[string]interface{}{"data": "not json"}})
	assert.Error(t, err)
}

func TestStart_StopsOnCancel(t *testing.T) {
	c, client, h := setupConsumer(t, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{})
	h.On("Reconcile").Return(&service.ReconcileResponse{}, nil).Once().
		Run(func(mock.Arguments) { close(called) })
	_, err := rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{
		"command": CommandScheduleReconcile,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not consumed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
