// Command cfn-local replays a recorded CloudFormation custom resource
// event against the real handler without a stack. It captures the
// response the handler would deliver to the pre-signed ResponseURL and
// prints it, which makes lifecycle changes testable from a workstation
// before deploying the Lambda.
//
// The handler reads the same environment variables as in Lambda
// (KNOWLEDGE_BASE_ID, AWS_REGION, ...) and talks to the real control
// plane with the ambient AWS credentials.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/jobsearchai/agent-runtime-resource/internal/runtimeresource"
)

type options struct {
	EventFile string        `short:"e" long:"event" required:"true" description:"Path to a JSON file containing the lifecycle event"`
	Timeout   time.Duration `short:"t" long:"timeout" default:"15m" description:"Overall budget for the replayed invocation"`
	LogLevel  string        `short:"l" long:"log-level" default:"info" description:"Log level (trace, debug, info, warn, error)"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.WithError(err).Error("replay failed")
		os.Exit(1)
	}
}

func run(opts options) error {
	if level, err := log.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(level)
	}

	raw, err := os.ReadFile(opts.EventFile)
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	var ev runtimeresource.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("parse event file: %w", err)
	}

	capture, shutdown, err := startResponseCapture()
	if err != nil {
		return err
	}
	defer shutdown()

	// Point the handler at the local listener instead of the pre-signed
	// S3 URL a real stack would supply.
	ev.ResponseURL = capture.url

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	h, err := runtimeresource.NewHandler(ctx)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}

	log.WithFields(log.Fields{
		"request_type": ev.RequestType,
		"runtime":      ev.ResourceProperties.AgentRuntimeName,
	}).Info("replaying lifecycle event")

	if err := h.Handle(ctx, ev); err != nil {
		return fmt.Errorf("handle event: %w", err)
	}

	select {
	case body := <-capture.received:
		fmt.Println(string(body))
	case <-time.After(5 * time.Second):
		return errors.New("handler finished but no response was captured")
	}
	return nil
}

// responseCapture receives the single response PUT the handler emits.
type responseCapture struct {
	url      string
	received chan []byte
}

// startResponseCapture starts a loopback HTTP server that accepts the
// response PUT and hands the body to the caller.
func startResponseCapture() (*responseCapture, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("listen for response capture: %w", err)
	}

	capture := &responseCapture{
		url:      fmt.Sprintf("http://%s/response", ln.Addr().String()),
		received: make(chan []byte, 1),
	}

	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				http.Error(w, readErr.Error(), http.StatusBadRequest)
				return
			}
			select {
			case capture.received <- body:
			default:
			}
			w.WriteHeader(http.StatusOK)
		}),
	}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.WithError(serveErr).Error("response capture server stopped")
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return capture, shutdown, nil
}
