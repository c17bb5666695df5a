package service

import (
	"context"
	"strings"

	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"
)

// ShiftRequest 创建/更新班次
type ShiftRequest struct {
	Name      string `json:"name"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// ShiftView 班次及其时长
type ShiftView struct {
	models.Shift
	DurationHours float64 `json:"durationHours"`
	Overnight     bool    `json:"overnight"`
}

func newShiftView(sh models.Shift) ShiftView {
	v := ShiftView{Shift: sh, Overnight: sh.Overnight()}
	if d, err := sh.Duration(); err == nil {
		v.DurationHours = d.Hours()
	}
	return v
}

func (r ShiftRequest) toShift(id string) (models.Shift, error) {
	sh := models.Shift{
		ID:        id,
		Name:      strings.TrimSpace(r.Name),
		StartTime: strings.TrimSpace(r.StartTime),
		EndTime:   strings.TrimSpace(r.EndTime),
	}
	if sh.Name == "" {
		return models.Shift{}, invalidf("shift name is required")
	}
	if err := sh.Validate(); err != nil {
		return models.Shift{}, invalidf("%v", err)
	}
	return sh, nil
}

// ListShifts 全部班次
func (s *PlannerService) ListShifts(ctx context.Context) []ShiftView {
	s.mu.Lock()
	defer s.mu.Unlock()
	shifts := s.store.Shifts.All()
	out := make([]ShiftView, 0, len(shifts))
	for _, sh := range shifts {
		out = append(out, newShiftView(sh))
	}
	return out
}

// GetShift 按 id 查询班次
func (s *PlannerService) GetShift(ctx context.Context, id string) (ShiftView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.store.Shifts.Get(id)
	if !ok {
		return ShiftView{}, notFoundf("shift %s", id)
	}
	return newShiftView(sh), nil
}

// CreateShift 创建班次
func (s *PlannerService) CreateShift(ctx context.Context, req ShiftRequest) (ShiftView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, err := req.toShift(s.newID())
	if err != nil {
		return ShiftView{}, err
	}
	s.store.Shifts.Put(sh)
	if err := s.save(ctx, nil, repository.CollectionShifts); err != nil {
		return ShiftView{}, err
	}
	return newShiftView(sh), nil
}

// UpdateShift 更新班次
func (s *PlannerService) UpdateShift(ctx context.Context, id string, req ShiftRequest) (ShiftView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Shifts.Has(id) {
		return ShiftView{}, notFoundf("shift %s", id)
	}
	sh, err := req.toShift(id)
	if err != nil {
		return ShiftView{}, err
	}
	s.store.Shifts.Put(sh)
	if err := s.save(ctx, nil, repository.CollectionShifts); err != nil {
		return ShiftView{}, err
	}
	return newShiftView(sh), nil
}

// DeleteShift 删除班次；引用它的订单保留，显示为 Unknown Shift
func (s *PlannerService) DeleteShift(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.Shifts.Delete(id) {
		return notFoundf("shift %s", id)
	}
	return s.save(ctx, nil, repository.CollectionShifts)
}
