package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterPlannerRoutes 注册排产 API
func (r *Router) RegisterPlannerRoutes(h *PlannerHandler) {
	// master data
	r.Handle(apiPrefix+"/units", h.Units)
	r.Handle(apiPrefix+"/units/", h.Units)
	r.Handle(apiPrefix+"/lines", h.Lines)
	r.Handle(apiPrefix+"/lines/", h.Lines)
	r.Handle(apiPrefix+"/shifts", h.Shifts)
	r.Handle(apiPrefix+"/shifts/", h.Shifts)

	// orders
	r.Handle(apiPrefix+"/orders", h.Orders)
	r.Handle(apiPrefix+"/orders/", h.Orders)

	// scheduling
	r.Handle(apiPrefix+"/blocks", h.Blocks)
	r.Handle(apiPrefix+"/blocks/", h.Blocks)
	r.Handle(apiPrefix+"/schedule/reconcile", h.Reconcile)

	// calendar
	r.Handle(apiPrefix+"/calendar/usage", h.CapacityUsage)
	r.Handle(apiPrefix+"/calendar/month", h.MonthView)
	r.Handle(apiPrefix+"/calendar/colors", h.ColorAssignments)
	r.Handle(apiPrefix+"/calendar/overbooked", h.OverbookedSlots)

	r.Handle(apiPrefix+"/export/schedule", h.ExportSchedule)

	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}
