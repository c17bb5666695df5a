package service

import (
	"context"
	"strings"

	"tracktech-scheduler/internal/events"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"
	"tracktech-scheduler/internal/scheduler"
)

// LineRequest 创建/更新生产线
type LineRequest struct {
	Name          string `json:"name"`
	UnitID        string `json:"unitId"`
	DailyCapacity int    `json:"dailyCapacity"`
}

// DeleteLineResponse 删除生产线的级联结果
type DeleteLineResponse struct {
	Line           models.Line `json:"line"`
	RemovedBlocks  int         `json:"removedBlocks"`
	ReleasedOrders []string    `json:"releasedOrders"`
}

// validateLine 校验字段与单元引用（调用方持锁）
func (s *PlannerService) validateLine(req LineRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return invalidf("line name is required")
	}
	if req.DailyCapacity < 0 {
		return invalidf("daily capacity must not be negative")
	}
	if !s.store.Units.Has(req.UnitID) {
		return invalidf("unit %s does not exist", req.UnitID)
	}
	return nil
}

// ListLines 生产线列表，unitID 非空时按单元过滤
func (s *PlannerService) ListLines(ctx context.Context, unitID string) []models.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unitID != "" {
		return s.store.LinesForUnit(unitID)
	}
	return s.store.Lines.All()
}

// GetLine 按 id 查询生产线
func (s *PlannerService) GetLine(ctx context.Context, id string) (models.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.store.Lines.Get(id)
	if !ok {
		return models.Line{}, notFoundf("line %s", id)
	}
	return l, nil
}

// CreateLine 创建生产线
func (s *PlannerService) CreateLine(ctx context.Context, req LineRequest) (models.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateLine(req); err != nil {
		return models.Line{}, err
	}
	l := models.Line{
		ID:            s.newID(),
		Name:          strings.TrimSpace(req.Name),
		UnitID:        req.UnitID,
		DailyCapacity: req.DailyCapacity,
	}
	s.store.Lines.Put(l)
	if err := s.save(ctx, nil, repository.CollectionLines); err != nil {
		return models.Line{}, err
	}
	return l, nil
}

// UpdateLine 更新生产线
// 产能变化时释放引用该线的零产能订单；已排产块不重新分配，超订只做标记
func (s *PlannerService) UpdateLine(ctx context.Context, id string, req LineRequest) (models.Line, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.store.Lines.Get(id)
	if !ok {
		return models.Line{}, notFoundf("line %s", id)
	}
	if err := s.validateLine(req); err != nil {
		return models.Line{}, err
	}
	if req.UnitID != current.UnitID {
		for _, o := range s.store.Orders.All() {
			if o.HasLine(id) {
				return models.Line{}, invalidf("line %s is assigned to order %s and cannot change unit", id, o.OrderNo)
			}
		}
	}

	updated, _ := s.store.Lines.Update(id, func(l *models.Line) {
		l.Name = strings.TrimSpace(req.Name)
		l.UnitID = req.UnitID
		l.DailyCapacity = req.DailyCapacity
	})
	if updated.DailyCapacity != current.DailyCapacity {
		s.sched.ReleaseUnschedulableForLine(id)
	}

	if err := s.commit(ctx, ob, repository.CollectionLines); err != nil {
		return models.Line{}, err
	}
	return updated, nil
}

// DeleteLine 删除生产线：该线上的排产块删除，受影响订单去掉该线后重新排产
func (s *PlannerService) DeleteLine(ctx context.Context, id string) (*DeleteLineResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	removal, ok := s.sched.DeleteLine(id)
	if !ok {
		return nil, notFoundf("line %s", id)
	}
	s.emit(ob, lineDeletedEvent(removal))

	if err := s.commit(ctx, ob, repository.CollectionLines, repository.CollectionOrders); err != nil {
		return nil, err
	}

	resp := &DeleteLineResponse{
		Line:           removal.Line,
		RemovedBlocks:  len(removal.RemovedBlocks),
		ReleasedOrders: removal.ReleasedOrders,
	}
	if resp.ReleasedOrders == nil {
		resp.ReleasedOrders = []string{}
	}
	return resp, nil
}

func lineDeletedEvent(r scheduler.LineRemoval) events.Event {
	return events.Event{
		EventType: events.LineDeleted,
		LineID:    r.Line.ID,
		UnitID:    r.Line.UnitID,
		Metadata:  map[string]interface{}{"removed_blocks": len(r.RemovedBlocks), "released_orders": r.ReleasedOrders},
	}
}
