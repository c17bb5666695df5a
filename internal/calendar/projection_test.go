package calendar

import (
	"fmt"
	"testing"

	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProjection() *Projection {
	store := repository.NewEntityStore(repository.Snapshot{
		Lines: []models.Line{
			{ID: "A", Name: "Line A", DailyCapacity: 1000},
			{ID: "B", Name: "Line B", DailyCapacity: 800},
		},
		Blocks: []models.ScheduledBlock{
			{BlockID: "b1", OrderID: "o1", OrderNo: "ORD-1", LineID: "A", Date: "2024-03-01", AllocatedQuantity: 1000},
			{BlockID: "b2", OrderID: "o1", OrderNo: "ORD-1", LineID: "B", Date: "2024-03-01", AllocatedQuantity: 800},
			{BlockID: "b3", OrderID: "o1", OrderNo: "ORD-1", LineID: "A", Date: "2024-03-02", AllocatedQuantity: 700},
			{BlockID: "b4", OrderID: "o2", OrderNo: "ORD-2", LineID: "A", Date: "2024-03-02", AllocatedQuantity: 400},
			{BlockID: "b5", OrderID: "o3", OrderNo: "ORD-3", LineID: "ghost", Date: "2024-03-03", AllocatedQuantity: 10},
		},
	})
	return NewProjection(store)
}

func TestCapacityUsage(t *testing.T) {
	p := newTestProjection()

	assert.Equal(t, Usage{Used: 1000, Total: 1000}, p.CapacityUsage("A", "2024-03-01"))
	assert.False(t, p.HasConflict("A", "2024-03-01"))

	assert.Equal(t, Usage{Used: 1100, Total: 1000}, p.CapacityUsage("A", "2024-03-02"))
	assert.True(t, p.HasConflict("A", "2024-03-02"))

	assert.Equal(t, Usage{Used: 0, Total: 800}, p.CapacityUsage("B", "2024-03-09"))

	// 未知生产线总产能为 0
	assert.Equal(t, Usage{Used: 10, Total: 0}, p.CapacityUsage("ghost", "2024-03-03"))
	assert.True(t, p.HasConflict("ghost", "2024-03-03"))
}

func TestSlot(t *testing.T) {
	p := newTestProjection()

	st := p.Slot("A", "2024-03-02")
	assert.Equal(t, 2, st.SharedOrders)
	assert.True(t, st.MultiOrder)
	assert.True(t, st.Conflict)
	assert.True(t, st.Weekend) // 2024-03-02 是周六
	assert.Len(t, st.Blocks, 2)

	st = p.Slot("B", "2024-03-01")
	assert.False(t, st.MultiOrder)
	assert.False(t, st.Weekend)

	empty := p.Slot("B", "2024-03-20")
	assert.NotNil(t, empty.Blocks)
	assert.Empty(t, empty.Blocks)
}

func TestMonthView(t *testing.T) {
	p := newTestProjection()

	// 2024-03-01 是周五
	view, err := p.MonthView(2024, 3, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, view.LeadingBlanks)
	require.Len(t, view.Cells, 5+31)
	for i := 0; i < 5; i++ {
		assert.True(t, view.Cells[i].Blank)
		assert.Nil(t, view.Cells[i].SlotState)
	}

	first := view.Cells[5]
	assert.Equal(t, 1, first.Day)
	assert.Equal(t, "2024-03-01", first.Date)
	assert.Equal(t, 1000, first.Used)
	assert.False(t, first.Conflict)

	second := view.Cells[6]
	assert.True(t, second.Conflict)
	assert.True(t, second.Weekend)
	assert.Len(t, second.Blocks, 2)

	last := view.Cells[len(view.Cells)-1]
	assert.Equal(t, 31, last.Day)
	assert.Equal(t, "2024-03-31", last.Date)
}

func TestMonthView_LeapFebruaryAndSundayStart(t *testing.T) {
	p := newTestProjection()

	feb, err := p.MonthView(2024, 2, "A")
	require.NoError(t, err)
	assert.Equal(t, 4, feb.LeadingBlanks) // 2024-02-01 周四
	assert.Len(t, feb.Cells, 4+29)

	sep, err := p.MonthView(2024, 9, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, sep.LeadingBlanks) // 2024-09-01 周日

	_, err = p.MonthView(2024, 13, "A")
	assert.Error(t, err)
}

func TestColorAssignments(t *testing.T) {
	p := newTestProjection()

	colors := p.ColorAssignments()
	require.Len(t, colors, 3)
	assert.Equal(t, ColorAssignment{OrderID: "o1", OrderNo: "ORD-1", Index: 0, Color: "blue"}, colors[0])
	assert.Equal(t, "green", colors[1].Color)
	assert.Equal(t, "o3", colors[2].OrderID)
}

func TestColorAssignments_Wraps(t *testing.T) {
	var blocks []models.ScheduledBlock
	for i := 0; i < 14; i++ {
		blocks = append(blocks, models.ScheduledBlock{
			BlockID: fmt.Sprintf("b%d", i),
			OrderID: fmt.Sprintf("o%d", i),
			LineID:  "A",
			Date:    "2024-03-01",
		})
	}
	p := NewProjection(repository.NewEntityStore(repository.Snapshot{Blocks: blocks}))

	colors := p.ColorAssignments()
	require.Len(t, colors, 14)
	assert.Equal(t, 0, colors[12].Index)
	assert.Equal(t, "blue", colors[12].Color)
	assert.Equal(t, "green", colors[13].Color)
}

func TestOverbookedSlots(t *testing.T) {
	p := newTestProjection()

	slots := p.OverbookedSlots()
	require.Len(t, slots, 2)
	assert.Equal(t, "2024-03-02", slots[0].Date)
	assert.Equal(t, "A", slots[0].LineID)
	assert.Equal(t, 1100, slots[0].Used)
	assert.Equal(t, "ghost", slots[1].LineID)
}
