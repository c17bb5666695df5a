package calendar

import (
	"fmt"
	"sort"
	"time"

	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"
)

// Palette 订单配色，按首次出现顺序循环使用
var Palette = []string{
	"blue", "green", "purple", "orange", "pink", "indigo",
	"red", "yellow", "teal", "cyan", "emerald", "violet",
}

// Usage 槽位产能占用
type Usage struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// Overbooked used > total
func (u Usage) Overbooked() bool {
	return u.Used > u.Total
}

// SlotState (line, date) 槽位的投影
type SlotState struct {
	LineID   string `json:"lineId"`
	Date     string `json:"date"`
	Used     int    `json:"used"`
	Total    int    `json:"total"`
	Conflict bool   `json:"conflict"`
	// SharedOrders 槽位上不同订单的数量，MultiOrder 即 SharedOrders > 1
	SharedOrders int                     `json:"sharedOrders"`
	MultiOrder   bool                    `json:"multiOrder"`
	Weekend      bool                    `json:"weekend"`
	Blocks       []models.ScheduledBlock `json:"blocks"`
}

// DayCell 月视图中的一格；Blank 为首周前导空格
type DayCell struct {
	Blank bool `json:"blank"`
	Day   int  `json:"day,omitempty"`
	*SlotState
}

// MonthView 某条线的月视图，周日为一周第一天
type MonthView struct {
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	LineID        string    `json:"lineId"`
	LeadingBlanks int       `json:"leadingBlanks"`
	Cells         []DayCell `json:"cells"`
}

// ColorAssignment 订单配色
type ColorAssignment struct {
	OrderID string `json:"orderId"`
	OrderNo string `json:"orderNo"`
	Index   int    `json:"index"`
	Color   string `json:"color"`
}

// Projection 从排产块派生的只读视图
type Projection struct {
	store *repository.EntityStore
}

// NewProjection 创建投影
func NewProjection(store *repository.EntityStore) *Projection {
	return &Projection{store: store}
}

// CapacityUsage 槽位已用/总产能；未知生产线的总产能为 0
func (p *Projection) CapacityUsage(lineID, date string) Usage {
	u := Usage{}
	if l, ok := p.store.Lines.Get(lineID); ok {
		u.Total = l.DailyCapacity
	}
	for _, b := range p.store.BlocksForSlot(lineID, date) {
		u.Used += b.AllocatedQuantity
	}
	return u
}

// HasConflict 槽位是否超订
func (p *Projection) HasConflict(lineID, date string) bool {
	return p.CapacityUsage(lineID, date).Overbooked()
}

// Slot 槽位完整状态
func (p *Projection) Slot(lineID, date string) SlotState {
	blocks := p.store.BlocksForSlot(lineID, date)
	return p.slotState(lineID, date, blocks)
}

func (p *Projection) slotState(lineID, date string, blocks []models.ScheduledBlock) SlotState {
	st := SlotState{
		LineID: lineID,
		Date:   date,
		Blocks: blocks,
	}
	if st.Blocks == nil {
		st.Blocks = []models.ScheduledBlock{}
	}
	if l, ok := p.store.Lines.Get(lineID); ok {
		st.Total = l.DailyCapacity
	}
	orders := make(map[string]bool)
	for _, b := range blocks {
		st.Used += b.AllocatedQuantity
		orders[b.OrderID] = true
	}
	st.SharedOrders = len(orders)
	st.MultiOrder = st.SharedOrders > 1
	st.Conflict = st.Used > st.Total
	if d, err := models.ParseDate(date); err == nil {
		st.Weekend = models.IsWeekend(d)
	}
	return st
}

// MonthView 生成月视图：首周前导空格 + 当月每一天
func (p *Projection) MonthView(year, month int, lineID string) (MonthView, error) {
	if month < 1 || month > 12 {
		return MonthView{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1 || year > 9999 {
		return MonthView{}, fmt.Errorf("invalid year %d", year)
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	leading := int(first.Weekday())

	// 先按日期分组，避免每天扫描全部排产块
	byDate := make(map[string][]models.ScheduledBlock)
	for _, b := range p.store.BlocksForLine(lineID) {
		byDate[b.Date] = append(byDate[b.Date], b)
	}

	view := MonthView{
		Year:          year,
		Month:         month,
		LineID:        lineID,
		LeadingBlanks: leading,
		Cells:         make([]DayCell, 0, leading+daysInMonth),
	}
	for i := 0; i < leading; i++ {
		view.Cells = append(view.Cells, DayCell{Blank: true})
	}
	for day := 1; day <= daysInMonth; day++ {
		date := models.FormatDate(first.AddDate(0, 0, day-1))
		st := p.slotState(lineID, date, byDate[date])
		view.Cells = append(view.Cells, DayCell{Day: day, SlotState: &st})
	}
	return view, nil
}

// ColorAssignments 按排产块中订单首次出现顺序分配颜色
func (p *Projection) ColorAssignments() []ColorAssignment {
	var out []ColorAssignment
	seen := make(map[string]bool)
	for _, b := range p.store.Blocks.All() {
		if seen[b.OrderID] {
			continue
		}
		seen[b.OrderID] = true
		idx := len(out) % len(Palette)
		out = append(out, ColorAssignment{
			OrderID: b.OrderID,
			OrderNo: b.OrderNo,
			Index:   idx,
			Color:   Palette[idx],
		})
	}
	return out
}

// OverbookedSlots 全部超订槽位，按日期、生产线排序
func (p *Projection) OverbookedSlots() []SlotState {
	grouped := make(map[models.SlotKey][]models.ScheduledBlock)
	for _, b := range p.store.Blocks.All() {
		grouped[b.Slot()] = append(grouped[b.Slot()], b)
	}

	out := []SlotState{}
	for key, blocks := range grouped {
		st := p.slotState(key.LineID, key.Date, blocks)
		if st.Conflict {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].LineID < out[j].LineID
	})
	return out
}
