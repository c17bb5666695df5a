package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tracktech-scheduler/internal/allocator"
	"tracktech-scheduler/internal/calendar"
	"tracktech-scheduler/internal/events"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"
	"tracktech-scheduler/internal/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid request")
	ErrOrderScheduled = errors.New("order has scheduled blocks, unschedule it first")
)

// Notifier 需人工处理订单的外部通知
type Notifier interface {
	NotifyUnschedulable(ctx context.Context, order models.Order, reason string) error
}

// Options 可选依赖
type Options struct {
	Publisher   events.Publisher
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	Location    *time.Location
}

// PlannerService 排产服务：校验、串行化状态变更、持久化、发布事件
type PlannerService struct {
	mu sync.Mutex

	repo  *repository.Repository
	store *repository.EntityStore
	sched *scheduler.Scheduler
	proj  *calendar.Projection
	alloc *allocator.Allocator

	publisher events.Publisher
	notifier  Notifier
	now       func() time.Time
	newID     func() string
	loc       *time.Location
	logger    *zap.Logger

	// persisted 最近一次成功写入（或加载）的完整状态，写入失败时回滚到这里
	persisted repository.Snapshot
	notifying sync.WaitGroup
}

// NewPlannerService 创建排产服务，调用 Load 之前为空状态
func NewPlannerService(repo *repository.Repository, opts Options, logger *zap.Logger) *PlannerService {
	s := &PlannerService{
		repo:      repo,
		publisher: opts.Publisher,
		notifier:  opts.Notifier,
		now:       opts.Clock,
		newID:     opts.IDGenerator,
		loc:       opts.Location,
		logger:    logger,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	s.alloc = allocator.New(allocator.WithIDGenerator(s.newID))
	s.reset(repository.Snapshot{})
	return s
}

// Now 服务时钟（规划时区）
func (s *PlannerService) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *PlannerService) reset(snap repository.Snapshot) {
	s.persisted = snap
	s.store = repository.NewEntityStore(snap)
	s.sched = scheduler.New(s.store, s.alloc, s.logger,
		scheduler.WithClock(s.now),
		scheduler.WithLocation(s.loc),
	)
	s.sched.LoadProcessed(snap.Processed)
	s.proj = calendar.NewProjection(s.store)
}

// Load 从仓库读取全部集合，并为停机期间新增的订单补做自动排产
func (s *PlannerService) Load(ctx context.Context) error {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.repo.Load(ctx)
	s.reset(snap)

	s.logger.Info("Planner state loaded",
		zap.Int("units", len(snap.Units)),
		zap.Int("lines", len(snap.Lines)),
		zap.Int("shifts", len(snap.Shifts)),
		zap.Int("orders", len(snap.Orders)),
		zap.Int("blocks", len(snap.Blocks)),
		zap.Int("processed", len(snap.Processed)),
	)

	res := s.reconcile(ob)
	if !res.Changed() {
		return nil
	}
	return s.save(ctx, ob)
}

// outbox 锁内收集、锁外发送的事件与通知
type outbox struct {
	events        []events.Event
	unschedulable []models.Order
}

func (s *PlannerService) emit(ob *outbox, e events.Event) {
	e.Timestamp = s.now().Unix()
	ob.events = append(ob.events, e)
}

// dispatch 发布事件；通知在后台发送，不阻塞请求
func (s *PlannerService) dispatch(ctx context.Context, ob *outbox) {
	for _, e := range ob.events {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.logger.Warn("Failed to publish event",
				zap.String("event_type", e.EventType),
				zap.Error(err),
			)
		}
	}
	if s.notifier == nil || len(ob.unschedulable) == 0 {
		return
	}
	orders := ob.unschedulable
	nctx := context.WithoutCancel(ctx)
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		for _, o := range orders {
			if err := s.notifier.NotifyUnschedulable(nctx, o, "assigned lines have zero total daily capacity"); err != nil {
				s.logger.Warn("Failed to notify unschedulable order",
					zap.String("order_id", o.ID),
					zap.Error(err),
				)
			}
		}
	}()
}

// Wait 等待后台通知发送完成
func (s *PlannerService) Wait() {
	s.notifying.Wait()
}

// reconcile 自动排产并生成对应事件（调用方持锁）
func (s *PlannerService) reconcile(ob *outbox) scheduler.ReconcileResult {
	res := s.sched.Reconcile()

	for _, id := range res.Scheduled {
		blocks := s.store.BlocksForOrder(id)
		qty := 0
		for _, b := range blocks {
			qty += b.AllocatedQuantity
		}
		e := events.Event{
			EventType: events.OrderScheduled,
			OrderID:   id,
			Quantity:  qty,
			Metadata:  map[string]interface{}{"mode": "auto", "blocks": len(blocks)},
		}
		if len(blocks) > 0 {
			e.Date = blocks[0].Date
		}
		s.emit(ob, e)
	}
	for _, id := range res.Unschedulable {
		order, ok := s.store.Orders.Get(id)
		if !ok {
			continue
		}
		s.emit(ob, events.Event{
			EventType: events.OrderUnschedulable,
			OrderID:   id,
			UnitID:    order.UnitID,
			Quantity:  order.Quantity,
			Metadata:  map[string]interface{}{"assigned_lines": order.AssignedLines},
		})
		ob.unschedulable = append(ob.unschedulable, order)
	}
	return res
}

// commit 自动排产后持久化变更的集合（调用方持锁）
func (s *PlannerService) commit(ctx context.Context, ob *outbox, collections ...string) error {
	s.reconcile(ob)
	return s.save(ctx, ob, collections...)
}

// save 持久化指定集合，排产块与 processed 集合总是一起写入
// 写入失败时内存状态回滚到上次持久化的快照，并丢弃待发送的事件与通知
func (s *PlannerService) save(ctx context.Context, ob *outbox, collections ...string) error {
	all := make([]string, 0, len(collections)+2)
	all = append(all, collections...)
	all = append(all, repository.CollectionBlocks, repository.CollectionProcessed)

	names := make([]string, 0, len(all))
	seen := make(map[string]bool)
	for _, c := range all {
		if !seen[c] {
			seen[c] = true
			names = append(names, c)
		}
	}

	snap := s.store.Snapshot()
	snap.Processed = s.sched.ProcessedRecords()
	if err := s.repo.Save(ctx, snap, names...); err != nil {
		s.logger.Error("Failed to persist planner state, rolling back",
			zap.Strings("collections", names),
			zap.Error(err),
		)
		s.rollback(ctx, ob, names)
		return fmt.Errorf("failed to persist: %w", err)
	}
	s.persisted = snap
	return nil
}

// rollback 恢复内存状态；部分集合可能已写入，尽力把它们改回上次的内容
func (s *PlannerService) rollback(ctx context.Context, ob *outbox, names []string) {
	prev := s.persisted
	if err := s.repo.Save(ctx, prev, names...); err != nil {
		s.logger.Warn("Failed to restore persisted collections",
			zap.Strings("collections", names),
			zap.Error(err),
		)
	}
	s.reset(prev)
	if ob != nil {
		ob.events = nil
		ob.unschedulable = nil
	}
}

// translate 将调度器错误映射为服务层错误
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrOrderNotFound), errors.Is(err, scheduler.ErrBlockNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, scheduler.ErrInvalidDate):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	default:
		return err
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
