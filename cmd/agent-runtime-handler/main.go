// Command agent-runtime-handler is the Lambda entrypoint for the agent
// runtime custom resource. All logic lives in internal/runtimeresource;
// this binary only wires it to the Lambda runtime API.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/jobsearchai/agent-runtime-resource/internal/runtimeresource"
)

func main() {
	h, err := runtimeresource.NewHandler(context.Background())
	if err != nil {
		// Initialization failures happen before any event arrives, so there
		// is no ResponseURL to report to yet. Exiting lets Lambda retry the
		// init on the next invocation.
		log.WithError(err).Error("handler initialization failed")
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}
