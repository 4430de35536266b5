package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/logging"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

const maxBodyBytes = 4 << 20

type Handler struct {
	svc    app.FlowService
	logger *slog.Logger
}

func NewHandler(svc app.FlowService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// NewRouter mounts the flow endpoints. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/flows", func(r chi.Router) {
		r.Post("/validate", h.Validate)
		r.Post("/run", h.Run)
		r.Post("/tests/run", h.RunAll)
		r.Post("/dot", h.DOT)
		r.Post("/edit", h.Edit)
	})
	return r
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var in flowdto.ValidateRequest
	if !h.decode(w, r, &in) {
		return
	}
	g, _, ok := h.resolve(w, in.FlowRequest)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Validate(g))
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var in flowdto.RunRequest
	if !h.decode(w, r, &in) {
		return
	}
	g, _, ok := h.resolve(w, in.FlowRequest)
	if !ok {
		return
	}

	test := in.TestOrDefault()
	report, err := h.svc.RunTest(r.Context(), g, test)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowdto.RunResponse{Report: report, Test: report.Test(test.Input)})
}

func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	var in flowdto.RunAllRequest
	if !h.decode(w, r, &in) {
		return
	}
	g, stored, ok := h.resolve(w, in.FlowRequest)
	if !ok {
		return
	}

	tests := in.Tests
	if len(tests) == 0 {
		tests = stored
	}
	if len(tests) == 0 {
		writeJSON(w, http.StatusBadRequest, flowdto.ErrorBody{Error: "no tests", Details: "tests is empty and the flow has none"})
		return
	}

	reports, err := h.svc.RunAllTests(r.Context(), g, tests)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowdto.NewRunAllResponse(reports))
}

func (h *Handler) DOT(w http.ResponseWriter, r *http.Request) {
	var in flowdto.DOTRequest
	if !h.decode(w, r, &in) {
		return
	}
	g, _, ok := h.resolve(w, in.FlowRequest)
	if !ok {
		return
	}

	name := in.Name
	if name == "" && in.Flow != nil {
		name = in.Flow.Name
	}
	out, err := flow.ToDOT(name, g, in.Overlay)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, flowdto.ErrorBody{Error: "render failed", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, flowdto.DOTResponse{DOT: out})
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var in flowdto.EditRequest
	if !h.decode(w, r, &in) {
		return
	}
	cmds, err := in.EditorCommands()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid command", Details: err.Error()})
		return
	}

	res, err := h.svc.Edit(in.Flow, cmds)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, flowdto.ErrorBody{Error: "edit rejected", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid json", Details: err.Error()})
		return false
	}
	return true
}

func (h *Handler) resolve(w http.ResponseWriter, in flowdto.FlowRequest) (*flow.Graph, []flow.Test, bool) {
	g, tests, err := in.Resolve(h.svc.ParseDOT)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid flow", Details: err.Error()})
		return nil, nil, false
	}
	return g, tests, true
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	var invalid *app.InvalidFlowError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, flowdto.ErrorBody{
			Error:  "flow is invalid",
			Issues: invalid.Report.Errors,
		})
		return
	}
	h.logger.Error("flow run failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, flowdto.ErrorBody{Error: "run failed", Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
