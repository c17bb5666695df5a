package repository

import (
	"tracktech-scheduler/internal/models"
)

// 悬挂引用的显示名称
const (
	UnknownUnit  = "Unknown Unit"
	UnknownLine  = "Unknown Line"
	UnknownShift = "Unknown Shift"
	UnknownOrder = "Unknown Order"
)

// EntityStore 内存中的实体集合
type EntityStore struct {
	Units  *Collection[models.Unit]
	Lines  *Collection[models.Line]
	Shifts *Collection[models.Shift]
	Orders *Collection[models.Order]
	Blocks *Collection[models.ScheduledBlock]
}

// NewEntityStore 从快照构建实体集合
func NewEntityStore(snap Snapshot) *EntityStore {
	return &EntityStore{
		Units:  NewCollection(func(u models.Unit) string { return u.ID }, snap.Units),
		Lines:  NewCollection(func(l models.Line) string { return l.ID }, snap.Lines),
		Shifts: NewCollection(func(s models.Shift) string { return s.ID }, snap.Shifts),
		Orders: NewCollection(func(o models.Order) string { return o.ID }, snap.Orders),
		Blocks: NewCollection(func(b models.ScheduledBlock) string { return b.BlockID }, snap.Blocks),
	}
}

// Snapshot 导出实体集合；Processed 由调度器填充
func (s *EntityStore) Snapshot() Snapshot {
	return Snapshot{
		Units:  s.Units.All(),
		Lines:  s.Lines.All(),
		Shifts: s.Shifts.All(),
		Orders: s.Orders.All(),
		Blocks: s.Blocks.All(),
	}
}

// LinesForUnit 某单元下的生产线
func (s *EntityStore) LinesForUnit(unitID string) []models.Line {
	return s.Lines.Filter(func(l models.Line) bool { return l.UnitID == unitID })
}

// LinesByIDs 按 ids 顺序返回存在的生产线，未知 id 跳过
func (s *EntityStore) LinesByIDs(ids []string) []models.Line {
	out := make([]models.Line, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.Lines.Get(id); ok {
			out = append(out, l)
		}
	}
	return out
}

// BlocksForOrder 某订单的全部排产块
func (s *EntityStore) BlocksForOrder(orderID string) []models.ScheduledBlock {
	return s.Blocks.Filter(func(b models.ScheduledBlock) bool { return b.OrderID == orderID })
}

// BlocksForLine 某生产线的全部排产块
func (s *EntityStore) BlocksForLine(lineID string) []models.ScheduledBlock {
	return s.Blocks.Filter(func(b models.ScheduledBlock) bool { return b.LineID == lineID })
}

// BlocksForSlot (line, date) 槽位上的排产块
func (s *EntityStore) BlocksForSlot(lineID, date string) []models.ScheduledBlock {
	return s.Blocks.Filter(func(b models.ScheduledBlock) bool {
		return b.LineID == lineID && b.Date == date
	})
}

// HasBlocks 订单是否已有排产块
func (s *EntityStore) HasBlocks(orderID string) bool {
	for _, b := range s.Blocks.items {
		if b.OrderID == orderID {
			return true
		}
	}
	return false
}

// DeleteOrder 删除订单并级联删除其排产块
func (s *EntityStore) DeleteOrder(orderID string) (models.Order, []models.ScheduledBlock, bool) {
	order, ok := s.Orders.Get(orderID)
	if !ok {
		return models.Order{}, nil, false
	}
	s.Orders.Delete(orderID)
	removed := s.RemoveBlocksForOrder(orderID)
	return order, removed, true
}

// RemoveBlocksForOrder 删除某订单的全部排产块
func (s *EntityStore) RemoveBlocksForOrder(orderID string) []models.ScheduledBlock {
	return s.Blocks.DeleteWhere(func(b models.ScheduledBlock) bool { return b.OrderID == orderID })
}

// DeleteUnit 删除单元并级联删除其生产线，返回被删除的生产线
// 生产线上的排产块与订单引用由调度器按删除生产线的规则处理
func (s *EntityStore) DeleteUnit(unitID string) (models.Unit, []models.Line, bool) {
	unit, ok := s.Units.Get(unitID)
	if !ok {
		return models.Unit{}, nil, false
	}
	s.Units.Delete(unitID)
	lines := s.Lines.DeleteWhere(func(l models.Line) bool { return l.UnitID == unitID })
	return unit, lines, true
}

// UnitName 单元名称，不存在时返回 UnknownUnit
func (s *EntityStore) UnitName(id string) string {
	if u, ok := s.Units.Get(id); ok {
		return u.Name
	}
	return UnknownUnit
}

// LineName 生产线名称，不存在时返回 UnknownLine
func (s *EntityStore) LineName(id string) string {
	if l, ok := s.Lines.Get(id); ok {
		return l.Name
	}
	return UnknownLine
}

// ShiftName 班次名称，不存在时返回 UnknownShift
func (s *EntityStore) ShiftName(id string) string {
	if sh, ok := s.Shifts.Get(id); ok {
		return sh.Name
	}
	return UnknownShift
}

// OrderNo 订单号，不存在时返回 UnknownOrder
func (s *EntityStore) OrderNo(id string) string {
	if o, ok := s.Orders.Get(id); ok {
		return o.OrderNo
	}
	return UnknownOrder
}
