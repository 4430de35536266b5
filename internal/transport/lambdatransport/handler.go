package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/logging"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

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

// Handle routes an API Gateway v2 request by its path suffix, mirroring the
// HTTP transport: /flows/validate, /flows/run, /flows/tests/run, /flows/dot
// and /flows/edit.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if method := req.RequestContext.HTTP.Method; method != "" && method != http.MethodPost {
		return jsonResp(http.StatusMethodNotAllowed, flowdto.ErrorBody{Error: "method not allowed"}), nil
	}

	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid body", Details: err.Error()}), nil
	}

	path := strings.TrimRight(req.RawPath, "/")
	switch {
	case strings.HasSuffix(path, "/flows/validate"):
		return h.validate(body), nil
	case strings.HasSuffix(path, "/flows/tests/run"):
		return h.runAll(ctx, body), nil
	case strings.HasSuffix(path, "/flows/run"):
		return h.run(ctx, body), nil
	case strings.HasSuffix(path, "/flows/dot"):
		return h.dot(body), nil
	case strings.HasSuffix(path, "/flows/edit"):
		return h.edit(body), nil
	}
	return jsonResp(http.StatusNotFound, flowdto.ErrorBody{Error: "not found", Details: req.RawPath}), nil
}

func (h *Handler) validate(body []byte) events.APIGatewayV2HTTPResponse {
	var in flowdto.ValidateRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return invalidJSON(err)
	}
	g, _, err := in.Resolve(h.svc.ParseDOT)
	if err != nil {
		return invalidFlow(err)
	}
	return jsonResp(http.StatusOK, h.svc.Validate(g))
}

func (h *Handler) run(ctx context.Context, body []byte) events.APIGatewayV2HTTPResponse {
	var in flowdto.RunRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return invalidJSON(err)
	}
	g, _, err := in.Resolve(h.svc.ParseDOT)
	if err != nil {
		return invalidFlow(err)
	}

	test := in.TestOrDefault()
	report, err := h.svc.RunTest(ctx, g, test)
	if err != nil {
		return h.runError(err)
	}
	return jsonResp(http.StatusOK, flowdto.RunResponse{Report: report, Test: report.Test(test.Input)})
}

func (h *Handler) runAll(ctx context.Context, body []byte) events.APIGatewayV2HTTPResponse {
	var in flowdto.RunAllRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return invalidJSON(err)
	}
	g, stored, err := in.Resolve(h.svc.ParseDOT)
	if err != nil {
		return invalidFlow(err)
	}

	tests := in.Tests
	if len(tests) == 0 {
		tests = stored
	}
	if len(tests) == 0 {
		return jsonResp(http.StatusBadRequest, flowdto.ErrorBody{Error: "no tests", Details: "tests is empty and the flow has none"})
	}

	reports, err := h.svc.RunAllTests(ctx, g, tests)
	if err != nil {
		return h.runError(err)
	}
	return jsonResp(http.StatusOK, flowdto.NewRunAllResponse(reports))
}

func (h *Handler) dot(body []byte) events.APIGatewayV2HTTPResponse {
	var in flowdto.DOTRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return invalidJSON(err)
	}
	g, _, err := in.Resolve(h.svc.ParseDOT)
	if err != nil {
		return invalidFlow(err)
	}

	name := in.Name
	if name == "" && in.Flow != nil {
		name = in.Flow.Name
	}
	out, err := flow.ToDOT(name, g, in.Overlay)
	if err != nil {
		return jsonResp(http.StatusInternalServerError, flowdto.ErrorBody{Error: "render failed", Details: err.Error()})
	}
	return jsonResp(http.StatusOK, flowdto.DOTResponse{DOT: out})
}

func (h *Handler) edit(body []byte) events.APIGatewayV2HTTPResponse {
	var in flowdto.EditRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return invalidJSON(err)
	}
	cmds, err := in.EditorCommands()
	if err != nil {
		return jsonResp(http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid command", Details: err.Error()})
	}

	res, err := h.svc.Edit(in.Flow, cmds)
	if err != nil {
		return jsonResp(http.StatusUnprocessableEntity, flowdto.ErrorBody{Error: "edit rejected", Details: err.Error()})
	}
	return jsonResp(http.StatusOK, res)
}

func (h *Handler) runError(err error) events.APIGatewayV2HTTPResponse {
	var invalid *app.InvalidFlowError
	if errors.As(err, &invalid) {
		return jsonResp(http.StatusUnprocessableEntity, flowdto.ErrorBody{Error: "flow is invalid", Issues: invalid.Report.Errors})
	}
	h.logger.Error("flow run failed", "error", err)
	return jsonResp(http.StatusInternalServerError, flowdto.ErrorBody{Error: "run failed", Details: err.Error()})
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func invalidJSON(err error) events.APIGatewayV2HTTPResponse {
	return jsonResp(http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid json", Details: err.Error()})
}

func invalidFlow(err error) events.APIGatewayV2HTTPResponse {
	return jsonResp(http.StatusBadRequest, flowdto.ErrorBody{Error: "invalid flow", Details: err.Error()})
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
