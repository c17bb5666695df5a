package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tracktech-scheduler/internal/allocator"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrBlockNotFound = errors.New("scheduled block not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidDate   = errors.New("invalid date")
)

// 订单排产状态
const (
	StatusPending       = "pending"       // 尚未被自动排产处理
	StatusScheduled     = "scheduled"     // 已有排产块
	StatusUnscheduled   = "unscheduled"   // 已处理但无排产块（手动取消）
	StatusUnschedulable = "unschedulable" // 生产线产能为 0，需人工处理
)

// Clock 当前时间来源
type Clock func() time.Time

// Scheduler 自动排产状态机，所有状态都在 EntityStore 与 processed 集合中
// 非并发安全，由调用方串行化
type Scheduler struct {
	store         *repository.EntityStore
	alloc         *allocator.Allocator
	now           Clock
	loc           *time.Location
	processed     map[string]bool
	unschedulable map[string]bool
	logger        *zap.Logger
}

// Option 配置项
type Option func(*Scheduler)

// WithClock 注入时钟
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.now = c }
}

// WithLocation 自动排产起始日期所用时区
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New 创建调度器
func New(store *repository.EntityStore, alloc *allocator.Allocator, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		alloc:         alloc,
		now:           time.Now,
		loc:           time.UTC,
		processed:     make(map[string]bool),
		unschedulable: make(map[string]bool),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadProcessed 恢复持久化的 processed 集合
func (s *Scheduler) LoadProcessed(records []models.ProcessedOrder) {
	s.processed = make(map[string]bool, len(records))
	s.unschedulable = make(map[string]bool)
	for _, r := range records {
		s.processed[r.OrderID] = true
		if r.Unschedulable {
			s.unschedulable[r.OrderID] = true
		}
	}
}

// ProcessedRecords 导出 processed 集合（按订单 id 排序）
func (s *Scheduler) ProcessedRecords() []models.ProcessedOrder {
	out := make([]models.ProcessedOrder, 0, len(s.processed))
	for id := range s.processed {
		out = append(out, models.ProcessedOrder{OrderID: id, Unschedulable: s.unschedulable[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// ReconcileResult 一次自动排产的结果
type ReconcileResult struct {
	NewBlocks     []models.ScheduledBlock
	Scheduled     []string // 本次新排产的订单
	Unschedulable []string // 本次发现的零产能订单
}

// Changed 本次是否产生了变化
func (r ReconcileResult) Changed() bool {
	return len(r.NewBlocks) > 0 || len(r.Unschedulable) > 0
}

// Reconcile 为所有未排产且未处理过的订单分配排产块
// 重复调用不会产生重复排产块
func (s *Scheduler) Reconcile() ReconcileResult {
	s.pruneProcessed()

	var result ReconcileResult
	lines := s.store.Lines.All()
	start := s.now().In(s.loc)
	touched := make(map[string]bool)

	for _, order := range s.store.Orders.All() {
		if s.processed[order.ID] || s.store.HasBlocks(order.ID) || touched[order.ID] {
			continue
		}
		touched[order.ID] = true

		res := s.alloc.Allocate(order, lines, start)
		if res.Unschedulable {
			s.unschedulable[order.ID] = true
			result.Unschedulable = append(result.Unschedulable, order.ID)
			s.logger.Warn("Order is unschedulable, assigned lines have no capacity",
				zap.String("order_id", order.ID),
				zap.String("order_no", order.OrderNo),
				zap.Strings("assigned_lines", order.AssignedLines),
			)
			continue
		}
		if len(res.Blocks) > 0 {
			result.NewBlocks = append(result.NewBlocks, res.Blocks...)
			result.Scheduled = append(result.Scheduled, order.ID)
		}
	}

	// 一次性写入本批排产块，再标记 processed
	for _, b := range result.NewBlocks {
		s.store.Blocks.Put(b)
	}
	for id := range touched {
		s.processed[id] = true
	}

	if result.Changed() {
		s.logger.Info("Reconciled orders",
			zap.Int("new_blocks", len(result.NewBlocks)),
			zap.Int("scheduled_orders", len(result.Scheduled)),
			zap.Int("unschedulable_orders", len(result.Unschedulable)),
		)
	}
	return result
}

// pruneProcessed 删除已不存在订单的 processed 记录
func (s *Scheduler) pruneProcessed() {
	for id := range s.processed {
		if !s.store.Orders.Has(id) {
			s.Release(id)
		}
	}
}

// MoveBlock 原位修改排产块的生产线与日期，数量不变，不做产能检查
func (s *Scheduler) MoveBlock(blockID, newLineID, newDate string) (models.ScheduledBlock, error) {
	if _, err := models.ParseDate(newDate); err != nil {
		return models.ScheduledBlock{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	block, ok := s.store.Blocks.Update(blockID, func(b *models.ScheduledBlock) {
		b.LineID = newLineID
		b.Date = newDate
	})
	if !ok {
		return models.ScheduledBlock{}, fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	return block, nil
}

// RemoveBlocksForOrder 删除订单的全部排产块
func (s *Scheduler) RemoveBlocksForOrder(orderID string) []models.ScheduledBlock {
	return s.store.RemoveBlocksForOrder(orderID)
}

// DeleteOrder 删除订单、级联删除排产块并清理 processed 记录
func (s *Scheduler) DeleteOrder(orderID string) (models.Order, []models.ScheduledBlock, error) {
	order, removed, ok := s.store.DeleteOrder(orderID)
	if !ok {
		return models.Order{}, nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	s.Release(orderID)
	return order, removed, nil
}

// ScheduleOrder 单槽位模式：用一个整单数量的排产块替换订单现有的全部排产块
func (s *Scheduler) ScheduleOrder(orderID, lineID, date string) (models.ScheduledBlock, error) {
	order, ok := s.store.Orders.Get(orderID)
	if !ok {
		return models.ScheduledBlock{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if _, err := models.ParseDate(date); err != nil {
		return models.ScheduledBlock{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}

	s.store.RemoveBlocksForOrder(orderID)
	block := s.alloc.Single(order, lineID, date)
	s.store.Blocks.Put(block)

	s.processed[orderID] = true
	delete(s.unschedulable, orderID)
	return block, nil
}

// UnscheduleOrder 删除订单的全部排产块；订单保持 processed，自动排产不会再次分配
func (s *Scheduler) UnscheduleOrder(orderID string) ([]models.ScheduledBlock, error) {
	if !s.store.Orders.Has(orderID) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	removed := s.store.RemoveBlocksForOrder(orderID)
	s.processed[orderID] = true
	delete(s.unschedulable, orderID)
	return removed, nil
}

// Release 让订单在下一次 Reconcile 时重新分配
func (s *Scheduler) Release(orderID string) {
	delete(s.processed, orderID)
	delete(s.unschedulable, orderID)
}

// LineRemoval 删除生产线的影响
type LineRemoval struct {
	Line           models.Line
	RemovedBlocks  []models.ScheduledBlock
	ReleasedOrders []string
}

// DeleteLine 删除生产线：
// 该线上的排产块删除；引用该线或在该线上有排产块的订单去掉该线、清空排产块并释放重排
func (s *Scheduler) DeleteLine(lineID string) (LineRemoval, bool) {
	line, ok := s.store.Lines.Get(lineID)
	if !ok {
		return LineRemoval{}, false
	}
	s.store.Lines.Delete(lineID)
	return s.lineRemoved(line), true
}

// DeleteUnit 删除单元及其生产线，每条线按 DeleteLine 的规则处理；订单保留
func (s *Scheduler) DeleteUnit(unitID string) (models.Unit, []LineRemoval, bool) {
	unit, lines, ok := s.store.DeleteUnit(unitID)
	if !ok {
		return models.Unit{}, nil, false
	}
	removals := make([]LineRemoval, 0, len(lines))
	for _, l := range lines {
		removals = append(removals, s.lineRemoved(l))
	}
	return unit, removals, true
}

func (s *Scheduler) lineRemoved(line models.Line) LineRemoval {
	removal := LineRemoval{Line: line}

	affected := make(map[string]bool)
	for _, b := range s.store.BlocksForLine(line.ID) {
		affected[b.OrderID] = true
	}
	for _, o := range s.store.Orders.All() {
		if o.HasLine(line.ID) {
			affected[o.ID] = true
		}
	}

	for _, order := range s.store.Orders.All() {
		if !affected[order.ID] {
			continue
		}
		s.store.Orders.Update(order.ID, func(o *models.Order) {
			o.AssignedLines = withoutLine(o.AssignedLines, line.ID)
		})
		removal.RemovedBlocks = append(removal.RemovedBlocks, s.store.RemoveBlocksForOrder(order.ID)...)
		s.Release(order.ID)
		removal.ReleasedOrders = append(removal.ReleasedOrders, order.ID)
	}

	// 不属于任何现存订单的残留块
	removal.RemovedBlocks = append(removal.RemovedBlocks,
		s.store.Blocks.DeleteWhere(func(b models.ScheduledBlock) bool { return b.LineID == line.ID })...)

	s.logger.Info("Line removed from schedule",
		zap.String("line_id", line.ID),
		zap.Int("removed_blocks", len(removal.RemovedBlocks)),
		zap.Int("released_orders", len(removal.ReleasedOrders)),
	)
	return removal
}

// ReleaseUnschedulableForLine 生产线产能变化后，释放引用该线的零产能订单
func (s *Scheduler) ReleaseUnschedulableForLine(lineID string) []string {
	var released []string
	for _, o := range s.store.Orders.All() {
		if s.unschedulable[o.ID] && o.HasLine(lineID) {
			s.Release(o.ID)
			released = append(released, o.ID)
		}
	}
	return released
}

// Status 订单的排产状态
func (s *Scheduler) Status(orderID string) string {
	switch {
	case s.store.HasBlocks(orderID):
		return StatusScheduled
	case s.unschedulable[orderID]:
		return StatusUnschedulable
	case s.processed[orderID]:
		return StatusUnscheduled
	default:
		return StatusPending
	}
}

// IsProcessed 是否已被自动排产处理
func (s *Scheduler) IsProcessed(orderID string) bool {
	return s.processed[orderID]
}

// UnscheduledOrders 没有任何排产块的订单（存储顺序）
func (s *Scheduler) UnscheduledOrders() []models.Order {
	return s.store.Orders.Filter(func(o models.Order) bool { return !s.store.HasBlocks(o.ID) })
}

// UnschedulableOrders 需人工处理的零产能订单
func (s *Scheduler) UnschedulableOrders() []models.Order {
	return s.store.Orders.Filter(func(o models.Order) bool {
		return s.unschedulable[o.ID] && !s.store.HasBlocks(o.ID)
	})
}

func withoutLine(ids []string, lineID string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != lineID {
			out = append(out, id)
		}
	}
	return out
}
