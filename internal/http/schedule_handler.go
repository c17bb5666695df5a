package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"tracktech-scheduler/internal/service"

	"go.uber.org/zap"
)

// Blocks 排产块查询与移动
func (h *PlannerHandler) Blocks(w http.ResponseWriter, r *http.Request) {
	const base = apiPrefix + "/blocks"

	if r.URL.Path == base {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		blocks := h.planner.ListBlocks(r.Context(), service.BlockFilter{
			OrderID: q.Get("order_id"),
			LineID:  q.Get("line_id"),
			Date:    q.Get("date"),
		})
		writeJSON(w, http.StatusOK, Ok(blocks))
		return
	}

	id, action, ok := pathAction(r.URL.Path, base+"/")
	if !ok || action != "move" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req slotRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	resp, err := h.planner.MoveBlock(r.Context(), id, req.LineID, req.Date)
	if err != nil {
		writeError(w, h.logger, "MoveBlock", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// Reconcile 立即自动排产
func (h *PlannerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := h.planner.Reconcile(r.Context())
	if err != nil {
		writeError(w, h.logger, "Reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// CapacityUsage GET ?line_id=&date=
func (h *PlannerHandler) CapacityUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	lineID := q.Get("line_id")
	if lineID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("line_id is required"))
		return
	}
	slot, err := h.planner.CapacityUsage(r.Context(), lineID, q.Get("date"))
	if err != nil {
		writeError(w, h.logger, "CapacityUsage", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(slot))
}

// MonthView GET ?line_id=&year=&month=
func (h *PlannerHandler) MonthView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid year"))
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid month"))
		return
	}
	view, err := h.planner.MonthView(r.Context(), year, month, q.Get("line_id"))
	if err != nil {
		writeError(w, h.logger, "MonthView", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// ColorAssignments 订单配色
func (h *PlannerHandler) ColorAssignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.planner.ColorAssignments(r.Context())))
}

// OverbookedSlots 超订槽位
func (h *PlannerHandler) OverbookedSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.planner.OverbookedSlots(r.Context())))
}

// ExportSchedule 下载排产 Excel
func (h *PlannerHandler) ExportSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := h.planner.ExportSchedule(r.Context())
	if err != nil {
		writeError(w, h.logger, "ExportSchedule", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="schedule_%s.xlsx"`, h.planner.Now().Format("20060102")))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("Failed to write export", zap.Error(err))
	}
}
