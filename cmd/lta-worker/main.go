// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// The lta-worker command runs a single LTA worker component. The
// LTA_COMPONENT_TYPE environment variable selects the stage handler
// (picker, bundler, stager, ...); everything else comes from the
// environment per the stage's expected configuration.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/metrics"
	"github.com/wipac/lta/stages"
	"github.com/wipac/lta/worker"
)

func fatal(message string) {
	slog.Error(message)
	os.Exit(1)
}

func main() {
	componentType := os.Getenv("LTA_COMPONENT_TYPE")
	if componentType == "" {
		fatal("Missing expected configuration parameter: 'LTA_COMPONENT_TYPE'")
	}

	stageConfig, err := stages.ConfigFor(componentType)
	if err != nil {
		fatal(err.Error())
	}
	conf, err := config.FromEnvironment(config.Merge(worker.CommonConfig, stageConfig))
	if err != nil {
		fatal(err.Error())
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(conf["LOG_LEVEL"]),
	})))

	handler, err := stages.New(componentType, conf)
	if err != nil {
		fatal(err.Error())
	}
	if closer, ok := handler.(io.Closer); ok {
		defer closer.Close()
	}
	w, err := worker.New(componentType, handler, conf)
	if err != nil {
		fatal(err.Error())
	}

	metricsPort, err := config.Int(conf, "PROMETHEUS_METRICS_PORT")
	if err != nil {
		fatal(err.Error())
	}
	metrics.Register()
	go func() {
		if err := metrics.Serve(metricsPort); err != nil {
			slog.Error(fmt.Sprintf("Metrics server failed: %s", err.Error()))
		}
	}()

	// run until drained, done, or signaled
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		fatal(err.Error())
	}
	slog.Info("Shutting down")
}

// logLevel maps the LOG_LEVEL configuration string onto slog's levels.
func logLevel(name string) slog.Level {
	switch name {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
