package allocator

import (
	"time"

	"tracktech-scheduler/internal/models"

	"github.com/google/uuid"
)

// IDGenerator 排产块 id 生成器
type IDGenerator func() string

// Allocator 按日产能贪心拆分订单
type Allocator struct {
	newID IDGenerator
}

// Option 配置项
type Option func(*Allocator)

// WithIDGenerator 替换默认的 uuid 生成器
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Allocator) {
		a.newID = g
	}
}

// New 创建分配器
func New(opts ...Option) *Allocator {
	a := &Allocator{newID: uuid.NewString}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result 单个订单的分配结果
type Result struct {
	Blocks []models.ScheduledBlock
	// Unschedulable 所分配生产线的日产能合计为 0，需人工处理
	Unschedulable bool
	// DailyCapacity 参与分配的生产线日产能合计
	DailyCapacity int
	RequiredDays  int
}

// Allocated 分配总量
func (r Result) Allocated() int {
	total := 0
	for _, b := range r.Blocks {
		total += b.AllocatedQuantity
	}
	return total
}

// Allocate 从 start 所在日历日开始逐日、逐线填满产能，直到覆盖订单数量
// lines 为生产线全集，订单引用的未知生产线跳过；周末照常计入
func (a *Allocator) Allocate(order models.Order, lines []models.Line, start time.Time) Result {
	byID := make(map[string]models.Line, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}

	// 按订单上的顺序取生产线，重复 id 只算一次
	assigned := make([]models.Line, 0, len(order.AssignedLines))
	seenLine := make(map[string]bool, len(order.AssignedLines))
	capacity := 0
	for _, id := range order.AssignedLines {
		l, ok := byID[id]
		if !ok || seenLine[id] {
			continue
		}
		seenLine[id] = true
		assigned = append(assigned, l)
		if l.DailyCapacity > 0 {
			capacity += l.DailyCapacity
		}
	}

	result := Result{DailyCapacity: capacity}
	if order.Quantity <= 0 {
		return result
	}
	if capacity == 0 {
		result.Unschedulable = true
		return result
	}

	result.RequiredDays = (order.Quantity + capacity - 1) / capacity
	startDate := models.TruncateToDate(start, start.Location())

	type triple struct{ line, date string }
	emitted := make(map[triple]bool)
	remaining := order.Quantity

	for day := 0; day < result.RequiredDays && remaining > 0; day++ {
		date := models.FormatDate(models.AddDays(startDate, day))
		for _, l := range assigned {
			if remaining <= 0 {
				break
			}
			if l.DailyCapacity <= 0 {
				continue
			}
			key := triple{line: l.ID, date: date}
			if emitted[key] {
				continue
			}
			emitted[key] = true

			qty := min(l.DailyCapacity, remaining)
			result.Blocks = append(result.Blocks, a.block(order, l.ID, date, qty))
			remaining -= qty
		}
	}

	return result
}

// Single 单槽位模式：整单数量放到一条线的一天
func (a *Allocator) Single(order models.Order, lineID, date string) models.ScheduledBlock {
	return a.block(order, lineID, date, order.Quantity)
}

func (a *Allocator) block(order models.Order, lineID, date string, qty int) models.ScheduledBlock {
	return models.ScheduledBlock{
		BlockID:           a.newID(),
		OrderID:           order.ID,
		LineID:            lineID,
		Date:              date,
		AllocatedQuantity: qty,
		StyleName:         order.StyleName,
		OrderNo:           order.OrderNo,
	}
}
