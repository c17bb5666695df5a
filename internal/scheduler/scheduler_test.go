package scheduler

import (
	"fmt"
	"testing"
	"time"

	"tracktech-scheduler/internal/allocator"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, snap repository.Snapshot) (*Scheduler, *repository.EntityStore) {
	t.Helper()
	n := 0
	alloc := allocator.New(allocator.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("b%d", n)
	}))
	store := repository.NewEntityStore(snap)
	s := New(store, alloc, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
	return s, store
}

func baseSnapshot() repository.Snapshot {
	return repository.Snapshot{
		Units: []models.Unit{{ID: "u1", Name: "Unit 1"}},
		Lines: []models.Line{
			{ID: "A", Name: "Line A", UnitID: "u1", DailyCapacity: 1000},
			{ID: "B", Name: "Line B", UnitID: "u1", DailyCapacity: 800},
			{ID: "Z", Name: "Line Z", UnitID: "u1", DailyCapacity: 0},
		},
		Orders: []models.Order{
			{ID: "o1", OrderNo: "ORD-1", Quantity: 2500, UnitID: "u1", AssignedLines: []string{"A", "B"}},
		},
	}
}

func sumForOrder(store *repository.EntityStore, orderID string) int {
	total := 0
	for _, b := range store.BlocksForOrder(orderID) {
		total += b.AllocatedQuantity
	}
	return total
}

func TestReconcile_AllocatesOnce(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())

	res := s.Reconcile()
	require.Len(t, res.NewBlocks, 3)
	assert.Equal(t, []string{"o1"}, res.Scheduled)
	assert.Equal(t, 2500, sumForOrder(store, "o1"))
	assert.Equal(t, StatusScheduled, s.Status("o1"))

	again := s.Reconcile()
	assert.Empty(t, again.NewBlocks)
	assert.False(t, again.Changed())

	seen := map[string]bool{}
	for _, b := range store.Blocks.All() {
		key := b.OrderID + "|" + b.LineID + "|" + b.Date
		assert.False(t, seen[key])
		seen[key] = true
	}
}

func TestReconcile_ProcessedGuardsManualClear(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	// 排产块被批量清空但订单仍在
	store.Blocks.Replace(nil)
	res := s.Reconcile()
	assert.Empty(t, res.NewBlocks)
	assert.Equal(t, StatusUnscheduled, s.Status("o1"))
}

func TestReconcile_ZeroCapacity(t *testing.T) {
	snap := baseSnapshot()
	snap.Orders = append(snap.Orders, models.Order{ID: "o2", OrderNo: "ORD-2", Quantity: 50, AssignedLines: []string{"Z"}})
	s, store := newTestScheduler(t, snap)

	res := s.Reconcile()
	assert.Equal(t, []string{"o2"}, res.Unschedulable)
	assert.Empty(t, store.BlocksForOrder("o2"))
	assert.Equal(t, StatusUnschedulable, s.Status("o2"))

	unsched := s.UnschedulableOrders()
	require.Len(t, unsched, 1)
	assert.Equal(t, "o2", unsched[0].ID)

	// 不会每次重复上报
	assert.Empty(t, s.Reconcile().Unschedulable)
}

func TestReconcile_PrunesDeletedOrders(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()
	require.True(t, s.IsProcessed("o1"))

	store.Orders.Delete("o1")
	s.Reconcile()
	assert.False(t, s.IsProcessed("o1"))

	// 复用同一 id 的新订单会被重新分配
	store.Orders.Put(models.Order{ID: "o1", OrderNo: "ORD-1b", Quantity: 100, AssignedLines: []string{"B"}})
	store.RemoveBlocksForOrder("o1")
	res := s.Reconcile()
	require.Len(t, res.NewBlocks, 1)
	assert.Equal(t, "ORD-1b", res.NewBlocks[0].OrderNo)
}

func TestDeleteOrder_Cascades(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	_, removed, err := s.DeleteOrder("o1")
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.Empty(t, store.BlocksForOrder("o1"))
	assert.False(t, s.IsProcessed("o1"))

	_, _, err = s.DeleteOrder("o1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMoveBlock_PreservesTotal(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	res := s.Reconcile()
	target := res.NewBlocks[2]

	moved, err := s.MoveBlock(target.BlockID, "B", "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, target.BlockID, moved.BlockID)
	assert.Equal(t, "B", moved.LineID)
	assert.Equal(t, "2024-03-10", moved.Date)
	assert.Equal(t, target.AllocatedQuantity, moved.AllocatedQuantity)
	assert.Equal(t, 2500, sumForOrder(store, "o1"))

	others := res.NewBlocks[:2]
	for _, b := range others {
		stored, _ := store.Blocks.Get(b.BlockID)
		assert.Equal(t, b, stored)
	}
}

func TestMoveBlock_Errors(t *testing.T) {
	s, _ := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	_, err := s.MoveBlock("missing", "A", "2024-03-10")
	assert.ErrorIs(t, err, ErrBlockNotFound)

	_, err = s.MoveBlock("b1", "A", "10/03/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestScheduleAndUnscheduleOrder(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	block, err := s.ScheduleOrder("o1", "B", "2024-04-01")
	require.NoError(t, err)
	blocks := store.BlocksForOrder("o1")
	require.Len(t, blocks, 1)
	assert.Equal(t, block, blocks[0])
	assert.Equal(t, 2500, block.AllocatedQuantity)

	removed, err := s.UnscheduleOrder("o1")
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Equal(t, StatusUnscheduled, s.Status("o1"))

	// 手动取消后不会被自动重排
	assert.Empty(t, s.Reconcile().NewBlocks)

	_, err = s.ScheduleOrder("nope", "A", "2024-04-01")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = s.UnscheduleOrder("nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRelease_Reallocates(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()
	s.UnscheduleOrder("o1")

	s.Release("o1")
	res := s.Reconcile()
	assert.Len(t, res.NewBlocks, 3)
	assert.Equal(t, 2500, sumForOrder(store, "o1"))
}

func TestDeleteLine_ReleasesAndReallocates(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	removal, ok := s.DeleteLine("B")
	require.True(t, ok)
	assert.Equal(t, []string{"o1"}, removal.ReleasedOrders)
	assert.Len(t, removal.RemovedBlocks, 3)
	assert.Empty(t, store.BlocksForLine("B"))

	order, _ := store.Orders.Get("o1")
	assert.Equal(t, []string{"A"}, order.AssignedLines)

	res := s.Reconcile()
	require.Len(t, res.NewBlocks, 3)
	for _, b := range res.NewBlocks {
		assert.Equal(t, "A", b.LineID)
	}
	assert.Equal(t, 2500, sumForOrder(store, "o1"))

	_, ok = s.DeleteLine("B")
	assert.False(t, ok)
}

func TestDeleteLine_MovedBlockOnForeignLine(t *testing.T) {
	snap := baseSnapshot()
	snap.Lines = append(snap.Lines, models.Line{ID: "C", UnitID: "u1", DailyCapacity: 100})
	s, store := newTestScheduler(t, snap)
	res := s.Reconcile()

	// 块被拖到一条订单未分配的线上
	_, err := s.MoveBlock(res.NewBlocks[0].BlockID, "C", "2024-03-05")
	require.NoError(t, err)

	removal, ok := s.DeleteLine("C")
	require.True(t, ok)
	assert.Equal(t, []string{"o1"}, removal.ReleasedOrders)
	assert.Empty(t, store.BlocksForOrder("o1"))

	s.Reconcile()
	assert.Equal(t, 2500, sumForOrder(store, "o1"))
}

func TestDeleteUnit_AppliesLineRule(t *testing.T) {
	s, store := newTestScheduler(t, baseSnapshot())
	s.Reconcile()

	_, removals, ok := s.DeleteUnit("u1")
	require.True(t, ok)
	assert.Len(t, removals, 3)
	assert.Equal(t, 0, store.Lines.Len())
	assert.Empty(t, store.Blocks.All())

	order, exists := store.Orders.Get("o1")
	require.True(t, exists)
	assert.Empty(t, order.AssignedLines)

	res := s.Reconcile()
	assert.Equal(t, []string{"o1"}, res.Unschedulable)
}

func TestReleaseUnschedulableForLine(t *testing.T) {
	snap := baseSnapshot()
	snap.Orders = append(snap.Orders, models.Order{ID: "o2", Quantity: 50, AssignedLines: []string{"Z"}})
	s, store := newTestScheduler(t, snap)
	s.Reconcile()

	store.Lines.Update("Z", func(l *models.Line) { l.DailyCapacity = 40 })
	assert.Empty(t, s.ReleaseUnschedulableForLine("A"))
	assert.Equal(t, []string{"o2"}, s.ReleaseUnschedulableForLine("Z"))

	res := s.Reconcile()
	assert.Len(t, res.NewBlocks, 2)
	assert.Equal(t, 50, sumForOrder(store, "o2"))
}

func TestProcessedRecordsRoundTrip(t *testing.T) {
	snap := baseSnapshot()
	snap.Orders = append(snap.Orders, models.Order{ID: "o2", Quantity: 50, AssignedLines: []string{"Z"}})
	s, store := newTestScheduler(t, snap)
	s.Reconcile()

	records := s.ProcessedRecords()
	assert.Equal(t, []models.ProcessedOrder{
		{OrderID: "o1"},
		{OrderID: "o2", Unschedulable: true},
	}, records)

	restored := New(store, allocator.New(), zap.NewNop())
	restored.LoadProcessed(records)
	assert.Equal(t, StatusScheduled, restored.Status("o1"))
	assert.Equal(t, StatusUnschedulable, restored.Status("o2"))
	assert.Empty(t, restored.Reconcile().NewBlocks)
}

func TestWithLocation_StartDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	store := repository.NewEntityStore(baseSnapshot())
	late := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	s := New(store, allocator.New(), zap.NewNop(),
		WithClock(func() time.Time { return late }),
		WithLocation(ist),
	)

	res := s.Reconcile()
	require.NotEmpty(t, res.NewBlocks)
	assert.Equal(t, "2024-03-02", res.NewBlocks[0].Date)
}

func TestUnscheduledOrders(t *testing.T) {
	snap := baseSnapshot()
	snap.Orders = append(snap.Orders, models.Order{ID: "o2", Quantity: 50, AssignedLines: []string{"Z"}})
	s, _ := newTestScheduler(t, snap)

	assert.Len(t, s.UnscheduledOrders(), 2)
	assert.Equal(t, StatusPending, s.Status("o1"))
	s.Reconcile()
	pool := s.UnscheduledOrders()
	require.Len(t, pool, 1)
	assert.Equal(t, "o2", pool[0].ID)
}
