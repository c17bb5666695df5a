package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"tracktech-scheduler/internal/events"
	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/repository"

	"go.uber.org/zap"
)

// OrderRequest 创建/更新订单
type OrderRequest struct {
	OrderNo       string   `json:"orderNo"`
	StyleName     string   `json:"styleName"`
	Quantity      int      `json:"quantity"`
	DeliveryDate  string   `json:"deliveryDate"`
	UnitID        string   `json:"unitId"`
	AssignedLines []string `json:"assignedLines"`
	ShiftID       string   `json:"shiftId"`
}

// OrderView 订单及其排产状态
type OrderView struct {
	models.Order
	Status            string   `json:"status"`
	ScheduledQuantity int      `json:"scheduledQuantity"`
	UnitName          string   `json:"unitName"`
	ShiftName         string   `json:"shiftName"`
	LineNames         []string `json:"lineNames"`
}

// DeleteOrderResponse 删除订单的级联结果
type DeleteOrderResponse struct {
	Order         models.Order `json:"order"`
	RemovedBlocks int          `json:"removedBlocks"`
}

// orderView 组装订单视图（调用方持锁）
func (s *PlannerService) orderView(o models.Order) OrderView {
	v := OrderView{
		Order:     o,
		Status:    s.sched.Status(o.ID),
		UnitName:  s.store.UnitName(o.UnitID),
		ShiftName: s.store.ShiftName(o.ShiftID),
		LineNames: make([]string, 0, len(o.AssignedLines)),
	}
	for _, b := range s.store.BlocksForOrder(o.ID) {
		v.ScheduledQuantity += b.AllocatedQuantity
	}
	for _, id := range o.AssignedLines {
		v.LineNames = append(v.LineNames, s.store.LineName(id))
	}
	return v
}

func (s *PlannerService) orderViews(orders []models.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.orderView(o))
	}
	return out
}

// buildOrder 校验请求并生成订单（调用方持锁）
// 单元、班次、生产线必须存在，且生产线必须属于该单元；订单号唯一
// 更新时 current 为原订单，未改动的引用不再校验，已删除的班次或单元不妨碍修改其他字段
func (s *PlannerService) buildOrder(id string, req OrderRequest, current *models.Order) (models.Order, error) {
	o := models.Order{
		ID:           id,
		OrderNo:      strings.TrimSpace(req.OrderNo),
		StyleName:    strings.TrimSpace(req.StyleName),
		Quantity:     req.Quantity,
		DeliveryDate: strings.TrimSpace(req.DeliveryDate),
		UnitID:       req.UnitID,
		ShiftID:      req.ShiftID,
	}
	if o.StyleName == "" {
		return models.Order{}, invalidf("style name is required")
	}
	if o.Quantity <= 0 {
		return models.Order{}, invalidf("quantity must be positive")
	}
	if _, err := models.ParseDate(o.DeliveryDate); err != nil {
		return models.Order{}, invalidf("%v", err)
	}
	sameUnit := current != nil && current.UnitID == o.UnitID
	if !sameUnit && !s.store.Units.Has(o.UnitID) {
		return models.Order{}, invalidf("unit %s does not exist", o.UnitID)
	}
	if (current == nil || current.ShiftID != o.ShiftID) && !s.store.Shifts.Has(o.ShiftID) {
		return models.Order{}, invalidf("shift %s does not exist", o.ShiftID)
	}
	if len(req.AssignedLines) == 0 && (current == nil || len(current.AssignedLines) > 0) {
		return models.Order{}, invalidf("at least one line must be assigned")
	}
	for _, lineID := range req.AssignedLines {
		if slices.Contains(o.AssignedLines, lineID) {
			continue
		}
		if !(sameUnit && current.HasLine(lineID)) {
			l, ok := s.store.Lines.Get(lineID)
			if !ok {
				return models.Order{}, invalidf("line %s does not exist", lineID)
			}
			if l.UnitID != o.UnitID {
				return models.Order{}, invalidf("line %s does not belong to unit %s", lineID, o.UnitID)
			}
		}
		o.AssignedLines = append(o.AssignedLines, lineID)
	}

	switch {
	case o.OrderNo == "":
		// 同一毫秒内生成的订单号顺延
		for ms := s.now().UnixMilli(); ; ms++ {
			o.OrderNo = fmt.Sprintf("ORD-%d", ms)
			if !s.orderNoTaken(o.OrderNo, id) {
				break
			}
		}
	case current != nil && current.OrderNo == o.OrderNo:
	case s.orderNoTaken(o.OrderNo, id):
		return models.Order{}, invalidf("order number %s already exists", o.OrderNo)
	}
	return o, nil
}

// orderNoTaken 订单号是否已被其他订单使用
func (s *PlannerService) orderNoTaken(orderNo, exceptID string) bool {
	return len(s.store.Orders.Filter(func(o models.Order) bool {
		return o.ID != exceptID && o.OrderNo == orderNo
	})) > 0
}

// ListOrders 全部订单
func (s *PlannerService) ListOrders(ctx context.Context) []OrderView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderViews(s.store.Orders.All())
}

// GetOrder 按 id 查询订单
func (s *PlannerService) GetOrder(ctx context.Context, id string) (OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.store.Orders.Get(id)
	if !ok {
		return OrderView{}, notFoundf("order %s", id)
	}
	return s.orderView(o), nil
}

// UnscheduledOrders 没有排产块的订单
func (s *PlannerService) UnscheduledOrders(ctx context.Context) []OrderView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderViews(s.sched.UnscheduledOrders())
}

// UnschedulableOrders 需人工处理的零产能订单
func (s *PlannerService) UnschedulableOrders(ctx context.Context) []OrderView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderViews(s.sched.UnschedulableOrders())
}

// CreateOrder 创建订单并立即自动排产
func (s *PlannerService) CreateOrder(ctx context.Context, req OrderRequest) (OrderView, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.buildOrder(s.newID(), req, nil)
	if err != nil {
		return OrderView{}, err
	}
	s.store.Orders.Put(o)
	s.emit(ob, events.Event{
		EventType: events.OrderCreated,
		OrderID:   o.ID,
		UnitID:    o.UnitID,
		Quantity:  o.Quantity,
		Metadata:  map[string]interface{}{"order_no": o.OrderNo, "style_name": o.StyleName},
	})

	if err := s.commit(ctx, ob, repository.CollectionOrders); err != nil {
		return OrderView{}, err
	}
	s.logger.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("order_no", o.OrderNo),
		zap.Int("quantity", o.Quantity),
		zap.String("status", s.sched.Status(o.ID)),
	)
	return s.orderView(o), nil
}

// UpdateOrder 更新订单
// 有排产块时不允许修改数量、单元与生产线；描述字段同步到排产块
func (s *PlannerService) UpdateOrder(ctx context.Context, id string, req OrderRequest) (OrderView, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.store.Orders.Get(id)
	if !ok {
		return OrderView{}, notFoundf("order %s", id)
	}
	if strings.TrimSpace(req.OrderNo) == "" {
		req.OrderNo = current.OrderNo
	}
	o, err := s.buildOrder(id, req, &current)
	if err != nil {
		return OrderView{}, err
	}

	inputsChanged := o.Quantity != current.Quantity ||
		o.UnitID != current.UnitID ||
		!slices.Equal(o.AssignedLines, current.AssignedLines)
	if inputsChanged && s.store.HasBlocks(id) {
		return OrderView{}, fmt.Errorf("%w: %s", ErrOrderScheduled, current.OrderNo)
	}

	s.store.Orders.Put(o)
	if o.OrderNo != current.OrderNo || o.StyleName != current.StyleName {
		for _, b := range s.store.BlocksForOrder(id) {
			s.store.Blocks.Update(b.BlockID, func(b *models.ScheduledBlock) {
				b.OrderNo = o.OrderNo
				b.StyleName = o.StyleName
			})
		}
	}
	if inputsChanged {
		s.sched.Release(id)
	}

	if err := s.commit(ctx, ob, repository.CollectionOrders); err != nil {
		return OrderView{}, err
	}
	return s.orderView(o), nil
}

// DeleteOrder 删除订单并级联删除排产块
func (s *PlannerService) DeleteOrder(ctx context.Context, id string) (*DeleteOrderResponse, error) {
	ob := &outbox{}
	defer s.dispatch(ctx, ob)
	s.mu.Lock()
	defer s.mu.Unlock()

	order, removed, err := s.sched.DeleteOrder(id)
	if err != nil {
		return nil, translate(err)
	}
	s.emit(ob, events.Event{
		EventType: events.OrderDeleted,
		OrderID:   id,
		UnitID:    order.UnitID,
		Quantity:  order.Quantity,
		Metadata:  map[string]interface{}{"removed_blocks": len(removed)},
	})

	if err := s.commit(ctx, ob, repository.CollectionOrders); err != nil {
		return nil, err
	}
	return &DeleteOrderResponse{Order: order, RemovedBlocks: len(removed)}, nil
}
