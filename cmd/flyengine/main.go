/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package main is the entry point for flyengine, the per-partition
execution engine process.

Startup flow:

 1. Parse flags via cobra/pflag.
 2. Resolve configuration (internal/config: flags > env > file > defaults).
 3. Configure logging (internal/logging) and start the Prometheus
    /metrics endpoint (internal/metrics).
 4. Accept coordinator connections, constructing one engine.EngineState
    for the configured partition id per connection and handing each to
    internal/wire.Serve.

Command-line flags mirror flydb/cmd/flydb's shape (explicit flags that
default from, and override, a loaded config file) narrowed to this
process's much smaller configuration surface.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"flyengine/internal/config"
	"flyengine/internal/engine"
	"flyengine/internal/logging"
	"flyengine/internal/metrics"
	"flyengine/internal/wire"
)

var (
	flagConfigFile  string
	flagListenAddr  string
	flagMetricsAddr string
	flagLogLevel    string
	flagLogJSON     bool
	flagPartition   int64
)

func main() {
	root := &cobra.Command{
		Use:   "flyengine",
		Short: "Per-partition SQL execution engine",
		RunE:  run,
	}

	root.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML configuration file")
	root.Flags().StringVar(&flagListenAddr, "listen-addr", "", "address the command surface listens on")
	root.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address the Prometheus /metrics endpoint listens on")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	root.Flags().BoolVar(&flagLogJSON, "log-json", false, "sets log_json in the resolved config (logs are JSON either way)")
	root.Flags().Int64Var(&flagPartition, "partition-id", -1, "this process's partition id")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	overrides := map[string]any{}
	applyFlagOverride(cmd, "listen-addr", "listen_addr", flagListenAddr, overrides)
	applyFlagOverride(cmd, "metrics-addr", "metrics_addr", flagMetricsAddr, overrides)
	applyFlagOverride(cmd, "log-level", "log_level", flagLogLevel, overrides)
	if cmd.Flags().Changed("log-json") {
		overrides["log_json"] = flagLogJSON
	}
	if cmd.Flags().Changed("partition-id") {
		overrides["partition_id"] = flagPartition
	}

	cfg, err := config.Load(flagConfigFile, overrides)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	log := logging.NewLogger("main")
	log.Info("flyengine starting", "partition", cfg.PartitionID, "listen_addr", cfg.ListenAddr)

	go serveMetrics(cfg.MetricsAddr, log)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	defer ln.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("command surface listening", "addr", ln.Addr().String())
	return acceptLoop(ln, cfg.PartitionID, log)
}

// acceptLoop mirrors flydb/internal/server.Server's accept loop, stripped
// of auth and TLS. Each connection gets its own EngineState: an engine
// belongs to exactly one partition coordinator connection at a time.
func acceptLoop(ln net.Listener, partitionID int64, log *logging.Logger) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			top := wire.NewWireTopend(conn)
			e := engine.New(partitionID, top)
			if err := wire.Serve(conn, e); err != nil {
				log.Warn("connection closed with error", "error", err)
			}
		}()
	}
}

func serveMetrics(addr string, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	log.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics endpoint stopped", "error", err)
	}
}

func applyFlagOverride(cmd *cobra.Command, flagName, key, value string, overrides map[string]any) {
	if cmd.Flags().Changed(flagName) {
		overrides[key] = value
	}
}
