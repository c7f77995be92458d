// Package main runs idbcoordinatord, a process that owns exactly one
// database's Coordinator and exposes it for in-process use.
//
// There is deliberately no wire protocol here: see DESIGN.md's dropped
// dependency entry for why gRPC/protobuf were left out. This binary
// wires the Coordinator to a demo ClientConnection that drives the
// same open/upgrade/transaction lifecycle a real client would, so the
// process is a runnable, observable demonstration of the coordinator
// rather than a no-op daemon.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/idbcoordinator/internal/backingstore"
	"github.com/cuemby/idbcoordinator/internal/config"
	"github.com/cuemby/idbcoordinator/internal/coordinator"
	"github.com/cuemby/idbcoordinator/internal/idberr"
	"github.com/cuemby/idbcoordinator/internal/log"
	"github.com/cuemby/idbcoordinator/internal/metrics"
	"github.com/cuemby/idbcoordinator/internal/model"
	"github.com/cuemby/idbcoordinator/internal/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Version, Commit and BuildTime are overridden at build time via
// -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "idbcoordinatord",
	Short: "idbcoordinatord - per-database IndexedDB-style transaction coordinator",
	Long: `idbcoordinatord runs a single Coordinator that owns one database: its
schema, its open connections, and the single-writer-per-scope transaction
scheduler that arbitrates between them.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("idbcoordinatord %s (commit %s, built %s)\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (overrides the flags below)")
	rootCmd.PersistentFlags().String("database", "default", "Logical database name")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for the BoltDB-backed backing store")
	rootCmd.PersistentFlags().String("metrics-addr", ":9090", "Listen address for the Prometheus /metrics endpoint")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Database, _ = cmd.Flags().GetString("database")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := backingstore.NewBoltStore(cfg.DataDir, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening backing store: %w", err)
	}

	c := coordinator.New(coordinator.DatabaseIdentifier(cfg.Database), store)
	defer c.Close()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}

	log.Logger.Info().Str("database", cfg.Database).Str("dataDir", cfg.DataDir).Msg("idbcoordinatord started")

	newDemoClient(c).openAndExercise()

	select {}
}

// demoClient implements coordinator.ClientConnection by driving the
// Coordinator through an open/upgrade/put/commit cycle itself; it stands
// in for the wire-protocol client a real deployment would attach here.
// See the dropped dependency entry in DESIGN.md for why there is no
// such protocol yet.
type demoClient struct {
	c *coordinator.Coordinator
}

func newDemoClient(c *coordinator.Coordinator) *demoClient {
	return &demoClient{c: c}
}

func (d *demoClient) openAndExercise() {
	d.c.OpenDatabaseConnection(d, 0)
}

func (d *demoClient) DidOpenDatabase(_ coordinator.RequestIdentifier, result coordinator.ResultData) {
	switch result.Kind {
	case coordinator.ResultError:
		log.Logger.Error().Str("kind", string(result.Err.Kind)).Msg("demo: open failed")
	case coordinator.ResultUpgradeNeeded:
		log.Logger.Info().Msg("demo: upgrade needed, creating initial schema")
		d.upgradeSchema(result.Transaction.ID, result.Connection.ID)
	case coordinator.ResultOpenSuccess:
		log.Logger.Info().Msg("demo: opened at current schema version")
		go d.exerciseConnection(result.Connection.ID)
	}
}

func (d *demoClient) FireVersionChangeEvent(requestedVersion uint64) {
	log.Logger.Info().Uint64("requestedVersion", requestedVersion).Msg("demo: version change requested by another connection")
}

func (d *demoClient) upgradeSchema(txID txn.ID, connID txn.ConnectionID) {
	info := model.ObjectStoreInfo{
		ID:            1,
		Name:          "widgets",
		AutoIncrement: true,
		Indexes:       map[model.IndexID]model.IndexInfo{},
	}
	d.c.CreateObjectStore(txID, info, func(err idberr.Error) {
		if !err.IsNull() {
			log.Logger.Error().Str("kind", string(err.Kind)).Msg("demo: create object store failed")
		}
		d.c.CommitTransaction(txID, func(err idberr.Error) {
			if !err.IsNull() {
				log.Logger.Error().Str("kind", string(err.Kind)).Msg("demo: commit failed")
				return
			}
			log.Logger.Info().Msg("demo: schema committed")
			go d.exerciseConnection(connID)
		})
	})
}

// exerciseConnection runs on its own goroutine: CreateTransaction waits
// for the coordinator's main context, so it cannot be called from a
// callback that the main context is running.
func (d *demoClient) exerciseConnection(connID txn.ConnectionID) {
	txID, err := d.c.CreateTransaction(connID, txn.ReadWrite, []model.ObjectStoreID{1})
	if !err.IsNull() {
		log.Logger.Error().Str("kind", string(err.Kind)).Msg("demo: create transaction failed")
		return
	}
	go d.waitAndPut(txID)
}

// waitAndPut gives the scheduler a moment to activate txID before
// issuing the put. A real client would instead issue the operation
// immediately and retry on InvalidStateError; this demo has no retry
// loop, so it just waits.
func (d *demoClient) waitAndPut(txID txn.ID) {
	time.Sleep(10 * time.Millisecond)
	d.c.PutRecord(txID, 1, model.KeyData{}, []byte("hello"), coordinator.Overwrite, func(err idberr.Error, key model.KeyData) {
		if !err.IsNull() {
			log.Logger.Error().Str("kind", string(err.Kind)).Msg("demo: put failed")
			return
		}
		log.Logger.Info().Interface("key", key).Msg("demo: put succeeded")
		d.c.CommitTransaction(txID, func(err idberr.Error) {
			if !err.IsNull() {
				log.Logger.Error().Str("kind", string(err.Kind)).Msg("demo: commit failed")
				return
			}
			log.Logger.Info().Msg("demo: record committed")
		})
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
