package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/config"
	"github.com/awmpietro/policy-flow/internal/logging"
	"github.com/awmpietro/policy-flow/internal/transport/lambdatransport"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	stack, err := app.NewStack(cfg, logger)
	if err != nil {
		logger.Error("failed to wire service", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	h := lambdatransport.NewHandler(stack.Service, logger)

	lambda.Start(h.Handle)
}
