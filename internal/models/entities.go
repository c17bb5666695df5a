package models

// Unit 工厂/车间
type Unit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Line 生产线，DailyCapacity 为每个日历日最多可生产的件数
type Line struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	UnitID        string `json:"unitId"`
	DailyCapacity int    `json:"dailyCapacity"`
}

// Order 客户生产订单
// AssignedLines 的 JSON 字段名与已持久化的集合保持一致
type Order struct {
	ID            string   `json:"id"`
	OrderNo       string   `json:"orderNo"`
	StyleName     string   `json:"styleName"`
	Quantity      int      `json:"quantity"`
	DeliveryDate  string   `json:"deliveryDate"` // YYYY-MM-DD
	UnitID        string   `json:"unitId"`
	AssignedLines []string `json:"assignedLines"`
	ShiftID       string   `json:"shiftId"`
}

// HasLine 判断订单是否分配了某条生产线
func (o Order) HasLine(lineID string) bool {
	for _, id := range o.AssignedLines {
		if id == lineID {
			return true
		}
	}
	return false
}

// ScheduledBlock 某条线在某一天生产某订单的一部分数量
// BlockID 在移动时保持不变
type ScheduledBlock struct {
	BlockID           string `json:"blockId"`
	OrderID           string `json:"orderId"`
	LineID            string `json:"lineId"`
	Date              string `json:"date"` // YYYY-MM-DD
	AllocatedQuantity int    `json:"allocatedQuantity"`
	StyleName         string `json:"styleName"`
	OrderNo           string `json:"orderNo"`
}

// SlotKey (line, date) 槽位
type SlotKey struct {
	LineID string `json:"lineId"`
	Date   string `json:"date"`
}

// Slot 返回块所在槽位
func (b ScheduledBlock) Slot() SlotKey {
	return SlotKey{LineID: b.LineID, Date: b.Date}
}

// ProcessedOrder 自动排产已处理过的订单
// Unschedulable 表示处理时所分配生产线的日产能合计为 0
type ProcessedOrder struct {
	OrderID       string `json:"orderId"`
	Unschedulable bool   `json:"unschedulable,omitempty"`
}
