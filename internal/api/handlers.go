package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"courieropt/internal/dispatch"
	"courieropt/internal/model"
)

// SnapshotProblemID is the default problem id of snapshot assignment solves.
const SnapshotProblemID = "snapshot"

// OptimizeAssignmentsHandler handles POST /v1/assignments/optimize. A body
// carries a snapshot to solve as is; an empty body runs the store-driven
// flow that assigns READY orders and persists the result.
func (s *Server) OptimizeAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	var req model.AssignmentProblem
	hasBody, err := decodeJSON(r, &req)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if !hasBody {
		res, err := s.Service.AssignReadyOrders(r.Context())
		if err != nil {
			writeError(w, r, "Assignment failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err := validateAssignmentProblem(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid assignment problem", err.Error(), r.URL.Path)
		return
	}
	id := r.URL.Query().Get("problemId")
	if id == "" {
		id = SnapshotProblemID
	}
	if dispatch.ReservedProblemID(id) {
		writeProblem(w, http.StatusBadRequest, "Invalid problem id", "problem id "+id+" is reserved", r.URL.Path)
		return
	}
	res, err := s.Planner.OptimizeAssignment(r.Context(), id, req)
	if err != nil {
		writeError(w, r, "Assignment failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OptimizeRouteHandler handles POST /v1/routes/optimize
func (s *Server) OptimizeRouteHandler(w http.ResponseWriter, r *http.Request) {
	var req model.RouteProblem
	hasBody, err := decodeJSON(r, &req)
	if err != nil || !hasBody {
		detail := "body required"
		if err != nil {
			detail = err.Error()
		}
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", detail, r.URL.Path)
		return
	}
	if err := validateRouteProblem(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid route problem", err.Error(), r.URL.Path)
		return
	}
	id := req.Vehicle.PartnerID
	if id == "" {
		id = req.Vehicle.VehicleID
	}
	if dispatch.ReservedProblemID(id) {
		writeProblem(w, http.StatusBadRequest, "Invalid problem id", "problem id "+id+" is reserved", r.URL.Path)
		return
	}
	plan, err := s.Planner.OptimizeRoute(r.Context(), id, req)
	if err != nil {
		writeError(w, r, "Route optimization failed", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PartnerRouteHandler handles POST /v1/partners/{id}/route
func (s *Server) PartnerRouteHandler(w http.ResponseWriter, r *http.Request) {
	plan, err := s.Service.PlanPartnerRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "Route planning failed", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PlanAllRoutesHandler handles POST /v1/routes/plan-all
func (s *Server) PlanAllRoutesHandler(w http.ResponseWriter, r *http.Request) {
	batch, err := s.Service.PlanAllRoutes(r.Context())
	if err != nil {
		writeError(w, r, "Route planning failed", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// JobsHandler handles GET /v1/jobs
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Planner.Jobs())
}

// JobHandler handles GET and DELETE /v1/jobs/{kind}/{id}: polling the best
// solution so far, or cancelling the solve early.
func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) {
	kind, id := r.PathValue("kind"), r.PathValue("id")
	if r.Method == http.MethodDelete {
		if err := s.Planner.CancelJob(kind, id); err != nil {
			writeError(w, r, "Cancel failed", err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	info, best, err := s.Planner.JobStatus(kind, id)
	if err != nil {
		writeError(w, r, "Job not found", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": info, "best": best})
}

// PartnerLocationHandler handles POST /v1/partners/{id}/location
func (s *Server) PartnerLocationHandler(w http.ResponseWriter, r *http.Request) {
	var req model.LocationUpdate
	hasBody, err := decodeJSON(r, &req)
	if err != nil || !hasBody {
		detail := "body required"
		if err != nil {
			detail = err.Error()
		}
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", detail, r.URL.Path)
		return
	}
	if err := validateLocationUpdate(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid location", err.Error(), r.URL.Path)
		return
	}
	sent, err := s.Tracker.UpdateLocation(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, "Location update failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"notified": sent})
}

// RouteInfoHandler handles GET /v1/orders/{id}/route-info
func (s *Server) RouteInfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.Tracker.RouteInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "Route info unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ETAHandler handles GET /v1/orders/{id}/eta
func (s *Server) ETAHandler(w http.ResponseWriter, r *http.Request) {
	eta, err := s.ETA.Estimate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, "ETA unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, eta)
}

// SolveRunsHandler handles GET /v1/admin/solve-runs?kind=&limit=
func (s *Server) SolveRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		limit = n
	}
	runs, err := s.Store.ListSolveRuns(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeError(w, r, "List solve runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the store.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
