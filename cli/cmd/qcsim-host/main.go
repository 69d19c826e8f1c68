// Command qcsim-host runs one simulation described by a configuration
// file: it spawns the configured plugins, drives a single start/wait
// cycle with the argument given on the command line, and prints the
// result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qcsim/qcsim"
	"github.com/qcsim/qcsim/arbdata"
	"github.com/qcsim/qcsim/config"
	"github.com/qcsim/qcsim/telemetry/logging"
	"github.com/qcsim/qcsim/telemetry/metrics"
)

func main() {
	var (
		configPath  string
		argJSON     string
		metricsAddr string
		healthAddr  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the simulation config YAML file")
	flag.StringVar(&argJSON, "arg", "{}", "JSON object passed to the frontend's run callback")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose a health endpoint on address (e.g. :9091)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("qcsim-host – pluggable quantum simulation runtime")
		return
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "no -config given")
		os.Exit(1)
	}

	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := mgr.Current()

	logger := logging.New("qcsim-host", nil)

	var provider metrics.Provider
	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		provider = metrics.NewPromProvider(reg)
	}

	sim, err := qcsim.New(cfg, qcsim.Options{Logger: logger, MetricsProvider: provider})
	if err != nil {
		log.Fatalf("build simulation: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; stopping endpoints")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go serveUntilDone(ctx, metricsAddr, mux)
	}
	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(sim.Snapshot())
		})
		go serveUntilDone(ctx, healthAddr, mux)
	}

	if err := sim.Open(ctx); err != nil {
		log.Fatalf("open pipeline: %v", err)
	}
	defer func() {
		if err := sim.Close(context.Background()); err != nil {
			log.Printf("close pipeline: %v", err)
		}
	}()

	var rawArg map[string]any
	if err := json.Unmarshal([]byte(argJSON), &rawArg); err != nil {
		log.Fatalf("parse -arg: %v", err)
	}
	arg := arbdata.NewWithJSON(rawArg, nil)

	if err := sim.Start(ctx, arg); err != nil {
		log.Fatalf("start run: %v", err)
	}
	result, err := sim.Wait(ctx)
	if err != nil {
		log.Fatalf("wait for run: %v", err)
	}

	b, err := json.MarshalIndent(result.Json(), "", "  ")
	if err != nil {
		log.Fatalf("encode result: %v", err)
	}
	fmt.Println(string(b))
}

func serveUntilDone(ctx context.Context, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("serve %s: %v", addr, err)
	}
}
