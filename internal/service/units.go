package service

import (
	"context"
	"strings"

	"tracktech-scheduler/internal/events"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"
)

// UnitRequest 创建/更新单元
type UnitRequest struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// DeleteUnitResponse 删除单元的级联结果
type DeleteUnitResponse struct {
	Unit           models.Unit   `json:"unit"`
	RemovedLines   []models.Line `json:"removedLines"`
	RemovedBlocks  int           `json:"removedBlocks"`
	ReleasedOrders []string      `json:"releasedOrders"`
}

func (r UnitRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalidf("unit name is required")
	}
	return nil
}

// ListUnits 全部单元
func (s *PlannerService) ListUnits(ctx context.Context) []models.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Units.All()
}

// GetUnit 按 id 查询单元
func (s *PlannerService) GetUnit(ctx context.Context, id string) (models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.store.Units.Get(id)
	if !ok {
		return models.Unit{}, notFoundf("unit %s", id)
	}
	return u, nil
}

// CreateUnit 创建单元
func (s *PlannerService) CreateUnit(ctx context.Context, req UnitRequest) (models.Unit, error) {
	if err := req.validate(); err != nil {
		return models.Unit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := models.Unit{
		ID:       s.newID(),
		Name:     strings.TrimSpace(req.Name),
		Location: strings.TrimSpace(req.Location),
	}
	s.store.Units.Put(u)
	if err := s.save(ctx, nil, repository.CollectionUnits); err != nil {
		return models.Unit{}, err
	}
	return u, nil
}

// UpdateUnit 更新单元
func (s *PlannerService) UpdateUnit(ctx context.Context, id string, req UnitRequest) (models.Unit, error) {
	if err := req.validate(); err != nil {
		return models.Unit{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.store.Units.Update(id, func(u *models.Unit) {
		u.Name = strings.TrimSpace(req.Name)
		u.Location = strings.TrimSpace(req.Location)
	})
	if !ok {
		return models.Unit{}, notFoundf("unit %s", id)
	}
	if err := s.save(ctx, nil, repository.CollectionUnits); err != nil {
		return models.Unit{}, err
	}
	return u, nil
}

// DeleteUnit 删除单元，级联删除其生产线；订单保留并按删除生产线的规则重新排产
func (s *PlannerService) DeleteUnit(ctx context.Context, id string) (*DeleteUnitResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	unit, removals, ok := s.sched.DeleteUnit(id)
	if !ok {
		return nil, notFoundf("unit %s", id)
	}

	resp := &DeleteUnitResponse{
		Unit:           unit,
		RemovedLines:   []models.Line{},
		ReleasedOrders: []string{},
	}
	released := make(map[string]bool)
	for _, r := range removals {
		resp.RemovedLines = append(resp.RemovedLines, r.Line)
		resp.RemovedBlocks += len(r.RemovedBlocks)
		for _, o := range r.ReleasedOrders {
			if !released[o] {
				released[o] = true
				resp.ReleasedOrders = append(resp.ReleasedOrders, o)
			}
		}
		s.emit(ob, lineDeletedEvent(r))
	}
	s.emit(ob, events.Event{
		EventType: events.UnitDeleted,
		UnitID:    unit.ID,
		Metadata:  map[string]interface{}{"removed_lines": len(removals)},
	})

	err := s.commit(ctx, ob,
		repository.CollectionUnits,
		repository.CollectionLines,
		repository.CollectionOrders,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
