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

// The lta-db command runs the LTA DB REST service, the bookkeeping server
// every worker component polls for work. Configuration comes from the
// environment; see config.Spec below for the parameters.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wipac/lta/config"
	"github.com/wipac/lta/metrics"
	"github.com/wipac/lta/services"
	"github.com/wipac/lta/store"
)

var serviceConfig = config.Spec{
	"LTA_DATABASE_PATH":       config.Def("lta.db"),
	"LTA_MAX_BODY_SIZE":       config.Def("16777216"),
	"LTA_MAX_CONNECTIONS":     config.Def("100"),
	"LTA_REST_HOST":           config.Def("localhost"),
	"LTA_REST_PORT":           config.Def("8080"),
	"LOG_LEVEL":               config.Def("INFO"),
	"PROMETHEUS_METRICS_PORT": config.Def("8090"),
}

func fatal(message string) {
	slog.Error(message)
	os.Exit(1)
}

func main() {
	conf, err := config.FromEnvironment(serviceConfig)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(conf["LOG_LEVEL"]),
	})))
	slog.Info("LTA DB is configured:")
	config.Log(conf)

	port, err := config.Int(conf, "LTA_REST_PORT")
	if err != nil {
		fatal(err.Error())
	}
	maxConnections, err := config.Int(conf, "LTA_MAX_CONNECTIONS")
	if err != nil {
		fatal(err.Error())
	}
	maxBodyBytes, err := config.Int(conf, "LTA_MAX_BODY_SIZE")
	if err != nil {
		fatal(err.Error())
	}
	metricsPort, err := config.Int(conf, "PROMETHEUS_METRICS_PORT")
	if err != nil {
		fatal(err.Error())
	}

	db, err := store.Open(conf["LTA_DATABASE_PATH"])
	if err != nil {
		fatal(fmt.Sprintf("Couldn't open the LTA DB at %s: %s", conf["LTA_DATABASE_PATH"], err.Error()))
	}
	defer db.Close()

	metrics.Register()
	go func() {
		if err := metrics.Serve(metricsPort); err != nil {
			slog.Error(fmt.Sprintf("Metrics server failed: %s", err.Error()))
		}
	}()

	// start the service in a goroutine so it doesn't block
	service := services.New(db, maxConnections, int64(maxBodyBytes))
	go func() {
		if err := service.Start(conf["LTA_REST_HOST"], port); err != nil {
			slog.Error(err.Error())
		}
	}()

	// shut down as gracefully as possible on the usual signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	service.Shutdown(ctx)
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
