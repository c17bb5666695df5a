package httpapi

import (
	"net/http"

	"tracktech-scheduler/internal/service"
)

// slotRequest 目标槽位
type slotRequest struct {
	LineID string `json:"lineId"`
	Date   string `json:"date"`
}

// Orders 订单 CRUD、待排池查询、单槽位排产
func (h *PlannerHandler) Orders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const base = apiPrefix + "/orders"

	switch {
	case r.URL.Path == base && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.planner.ListOrders(ctx)))
	case r.URL.Path == base && r.Method == http.MethodPost:
		h.createOrder(w, r)
	case r.URL.Path == base+"/unscheduled" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.planner.UnscheduledOrders(ctx)))
	case r.URL.Path == base+"/unschedulable" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, Ok(h.planner.UnschedulableOrders(ctx)))
	default:
		if id, action, ok := pathAction(r.URL.Path, base+"/"); ok {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			switch action {
			case "schedule":
				h.scheduleOrder(w, r, id)
			case "unschedule":
				h.unscheduleOrder(w, r, id)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
			return
		}
		id, ok := pathID(r.URL.Path, base+"/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			view, err := h.planner.GetOrder(ctx, id)
			if err != nil {
				writeError(w, h.logger, "GetOrder", err)
				return
			}
			writeJSON(w, http.StatusOK, Ok(view))
		case http.MethodPut:
			h.updateOrder(w, r, id)
		case http.MethodDelete:
			resp, err := h.planner.DeleteOrder(ctx, id)
			if err != nil {
				writeError(w, h.logger, "DeleteOrder", err)
				return
			}
			writeJSON(w, http.StatusOK, Ok(resp))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (h *PlannerHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	view, err := h.planner.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "CreateOrder", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(view))
}

func (h *PlannerHandler) updateOrder(w http.ResponseWriter, r *http.Request, id string) {
	var req service.OrderRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	view, err := h.planner.UpdateOrder(r.Context(), id, req)
	if err != nil {
		writeError(w, h.logger, "UpdateOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

func (h *PlannerHandler) scheduleOrder(w http.ResponseWriter, r *http.Request, id string) {
	var req slotRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	resp, err := h.planner.ScheduleOrder(r.Context(), id, req.LineID, req.Date)
	if err != nil {
		writeError(w, h.logger, "ScheduleOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

func (h *PlannerHandler) unscheduleOrder(w http.ResponseWriter, r *http.Request, id string) {
	removed, err := h.planner.UnscheduleOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "UnscheduleOrder", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"orderId": id, "removedBlocks": removed}))
}
