package httpapi

import (
	"net/http"

	"tracktech-scheduler/internal/service"

	"go.uber.org/zap"
)

// PlannerHandler 排产 API Handler
type PlannerHandler struct {
	planner *service.PlannerService
	logger  *zap.Logger
}

// NewPlannerHandler 创建排产 API Handler
func NewPlannerHandler(planner *service.PlannerService, logger *zap.Logger) *PlannerHandler {
	return &PlannerHandler{
		planner: planner,
		logger:  logger,
	}
}

// Units 单元 CRUD
func (h *PlannerHandler) Units(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const base = apiPrefix + "/units"

	if r.URL.Path == base {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, Ok(h.planner.ListUnits(ctx)))
		case http.MethodPost:
			var req service.UnitRequest
			if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
				return
			}
			unit, err := h.planner.CreateUnit(ctx, req)
			if err != nil {
				writeError(w, h.logger, "CreateUnit", err)
				return
			}
			writeJSON(w, http.StatusCreated, Ok(unit))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
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
		unit, err := h.planner.GetUnit(ctx, id)
		if err != nil {
			writeError(w, h.logger, "GetUnit", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(unit))
	case http.MethodPut:
		var req service.UnitRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		unit, err := h.planner.UpdateUnit(ctx, id, req)
		if err != nil {
			writeError(w, h.logger, "UpdateUnit", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(unit))
	case http.MethodDelete:
		resp, err := h.planner.DeleteUnit(ctx, id)
		if err != nil {
			writeError(w, h.logger, "DeleteUnit", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(resp))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Lines 生产线 CRUD，列表支持 ?unit_id= 过滤
func (h *PlannerHandler) Lines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const base = apiPrefix + "/lines"

	if r.URL.Path == base {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, Ok(h.planner.ListLines(ctx, r.URL.Query().Get("unit_id"))))
		case http.MethodPost:
			var req service.LineRequest
			if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
				return
			}
			line, err := h.planner.CreateLine(ctx, req)
			if err != nil {
				writeError(w, h.logger, "CreateLine", err)
				return
			}
			writeJSON(w, http.StatusCreated, Ok(line))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
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
		line, err := h.planner.GetLine(ctx, id)
		if err != nil {
			writeError(w, h.logger, "GetLine", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(line))
	case http.MethodPut:
		var req service.LineRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		line, err := h.planner.UpdateLine(ctx, id, req)
		if err != nil {
			writeError(w, h.logger, "UpdateLine", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(line))
	case http.MethodDelete:
		resp, err := h.planner.DeleteLine(ctx, id)
		if err != nil {
			writeError(w, h.logger, "DeleteLine", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(resp))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Shifts 班次 CRUD
func (h *PlannerHandler) Shifts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const base = apiPrefix + "/shifts"

	if r.URL.Path == base {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, Ok(h.planner.ListShifts(ctx)))
		case http.MethodPost:
			var req service.ShiftRequest
			if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
				writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
				return
			}
			shift, err := h.planner.CreateShift(ctx, req)
			if err != nil {
				writeError(w, h.logger, "CreateShift", err)
				return
			}
			writeJSON(w, http.StatusCreated, Ok(shift))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
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
		shift, err := h.planner.GetShift(ctx, id)
		if err != nil {
			writeError(w, h.logger, "GetShift", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(shift))
	case http.MethodPut:
		var req service.ShiftRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		shift, err := h.planner.UpdateShift(ctx, id, req)
		if err != nil {
			writeError(w, h.logger, "UpdateShift", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(shift))
	case http.MethodDelete:
		if err := h.planner.DeleteShift(ctx, id); err != nil {
			writeError(w, h.logger, "DeleteShift", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id}))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
