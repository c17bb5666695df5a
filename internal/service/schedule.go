package service

import (
	"context"
	"strings"

	"tracktech-scheduler/internal/calendar"
	"tracktech-scheduler/internal/events"
	"tracktech-scheduler/internal/export"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/scheduler"

	"go.uber.org/zap"
)

// BlockFilter 排产块查询条件，空字段不过滤
type BlockFilter struct {
	OrderID string
	LineID  string
	Date    string
}

func (f BlockFilter) match(b models.ScheduledBlock) bool {
	return (f.OrderID == "" || b.OrderID == f.OrderID) &&
		(f.LineID == "" || b.LineID == f.LineID) &&
		(f.Date == "" || b.Date == f.Date)
}

// MoveBlockResponse 移动结果与目标槽位状态
type MoveBlockResponse struct {
	Block models.ScheduledBlock `json:"block"`
	Slot  calendar.SlotState    `json:"slot"`
}

// ReconcileResponse 手动触发自动排产的结果
type ReconcileResponse struct {
	NewBlocks     []models.ScheduledBlock `json:"newBlocks"`
	Scheduled     []string                `json:"scheduled"`
	Unschedulable []string                `json:"unschedulable"`
}

// ListBlocks 按条件查询排产块
func (s *PlannerService) ListBlocks(ctx context.Context, f BlockFilter) []models.ScheduledBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.store.Blocks.Filter(f.match)
	if out == nil {
		out = []models.ScheduledBlock{}
	}
	return out
}

// MoveBlock 移动排产块到新的 (line, date)；允许超订，只在返回的槽位状态中标记
func (s *PlannerService) MoveBlock(ctx context.Context, blockID, lineID, date string) (*MoveBlockResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Lines.Has(lineID) {
		return nil, invalidf("line %s does not exist", lineID)
	}
	before, ok := s.store.Blocks.Get(blockID)
	if !ok {
		return nil, translate(scheduler.ErrBlockNotFound)
	}
	block, err := s.sched.MoveBlock(blockID, lineID, strings.TrimSpace(date))
	if err != nil {
		return nil, translate(err)
	}
	slot := s.proj.Slot(block.LineID, block.Date)

	s.emit(ob, events.Event{
		EventType: events.BlockMoved,
		OrderID:   block.OrderID,
		BlockID:   block.BlockID,
		LineID:    block.LineID,
		Date:      block.Date,
		Quantity:  block.AllocatedQuantity,
		Metadata: map[string]interface{}{
			"from_line_id": before.LineID,
			"from_date":    before.Date,
			"overbooked":   slot.Conflict,
		},
	})
	if slot.Conflict {
		s.logger.Warn("Block moved into overbooked slot",
			zap.String("block_id", block.BlockID),
			zap.String("line_id", block.LineID),
			zap.String("date", block.Date),
			zap.Int("used", slot.Used),
			zap.Int("total", slot.Total),
		)
	}

	if err := s.save(ctx, ob); err != nil {
		return nil, err
	}
	return &MoveBlockResponse{Block: block, Slot: slot}, nil
}

// Reconcile 立即为未处理的订单自动排产
func (s *PlannerService) Reconcile(ctx context.Context) (*ReconcileResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.reconcile(ob)
	if err := s.save(ctx, ob); err != nil {
		return nil, err
	}
	resp := &ReconcileResponse{
		NewBlocks:     res.NewBlocks,
		Scheduled:     res.Scheduled,
		Unschedulable: res.Unschedulable,
	}
	if resp.NewBlocks == nil {
		resp.NewBlocks = []models.ScheduledBlock{}
	}
	if resp.Scheduled == nil {
		resp.Scheduled = []string{}
	}
	if resp.Unschedulable == nil {
		resp.Unschedulable = []string{}
	}
	return resp, nil
}

// ScheduleOrder 单槽位模式：整单放到一条线的一天，替换现有排产块
func (s *PlannerService) ScheduleOrder(ctx context.Context, orderID, lineID, date string) (*MoveBlockResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.store.Orders.Get(orderID)
	if !ok {
		return nil, translate(scheduler.ErrOrderNotFound)
	}
	line, ok := s.store.Lines.Get(lineID)
	if !ok {
		return nil, invalidf("line %s does not exist", lineID)
	}
	if line.UnitID != order.UnitID {
		return nil, invalidf("line %s does not belong to unit %s", lineID, order.UnitID)
	}
	block, err := s.sched.ScheduleOrder(orderID, lineID, strings.TrimSpace(date))
	if err != nil {
		return nil, translate(err)
	}
	slot := s.proj.Slot(block.LineID, block.Date)

	s.emit(ob, events.Event{
		EventType: events.OrderScheduled,
		OrderID:   orderID,
		BlockID:   block.BlockID,
		LineID:    block.LineID,
		Date:      block.Date,
		Quantity:  block.AllocatedQuantity,
		Metadata:  map[string]interface{}{"mode": "single", "overbooked": slot.Conflict},
	})

	if err := s.save(ctx, ob); err != nil {
		return nil, err
	}
	return &MoveBlockResponse{Block: block, Slot: slot}, nil
}

// UnscheduleOrder 删除订单的全部排产块，订单不会被自动重新排产
func (s *PlannerService) UnscheduleOrder(ctx context.Context, orderID string) ([]models.ScheduledBlock, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.sched.UnscheduleOrder(orderID)
	if err != nil {
		return nil, translate(err)
	}
	s.emit(ob, events.Event{
		EventType: events.OrderUnscheduled,
		OrderID:   orderID,
		Metadata:  map[string]interface{}{"removed_blocks": len(removed)},
	})

	if err := s.save(ctx, ob); err != nil {
		return nil, err
	}
	if removed == nil {
		removed = []models.ScheduledBlock{}
	}
	return removed, nil
}

// CapacityUsage 槽位产能占用与超订标记
func (s *PlannerService) CapacityUsage(ctx context.Context, lineID, date string) (calendar.SlotState, error) {
	if _, err := models.ParseDate(date); err != nil {
		return calendar.SlotState{}, invalidf("%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj.Slot(lineID, date), nil
}

// MonthView 某条线的月视图
func (s *PlannerService) MonthView(ctx context.Context, year, month int, lineID string) (calendar.MonthView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.Lines.Has(lineID) {
		return calendar.MonthView{}, notFoundf("line %s", lineID)
	}
	view, err := s.proj.MonthView(year, month, lineID)
	if err != nil {
		return calendar.MonthView{}, invalidf("%v", err)
	}
	return view, nil
}

// ColorAssignments 订单配色
func (s *PlannerService) ColorAssignments(ctx context.Context) []calendar.ColorAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.proj.ColorAssignments()
	if out == nil {
		out = []calendar.ColorAssignment{}
	}
	return out
}

// OverbookedSlots 全部超订槽位
func (s *PlannerService) OverbookedSlots(ctx context.Context) []calendar.SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj.OverbookedSlots()
}

// ExportSchedule 导出排产 Excel
func (s *PlannerService) ExportSchedule(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	rows := export.BuildScheduleRows(s.store, s.proj)
	var unscheduled []export.UnscheduledRow
	for _, o := range s.sched.UnscheduledOrders() {
		v := s.orderView(o)
		unscheduled = append(unscheduled, export.UnscheduledRow{
			OrderNo:      o.OrderNo,
			StyleName:    o.StyleName,
			Quantity:     o.Quantity,
			DeliveryDate: o.DeliveryDate,
			UnitName:     v.UnitName,
			LineNames:    strings.Join(v.LineNames, ", "),
			Status:       v.Status,
		})
	}
	s.mu.Unlock()

	return export.GenerateScheduleWorkbook(rows, unscheduled)
}
