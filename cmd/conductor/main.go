package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cuemby/conductor/pkg/agent"
	"github.com/cuemby/conductor/pkg/clock"
	"github.com/cuemby/conductor/pkg/conductor"
	"github.com/cuemby/conductor/pkg/config"
	"github.com/cuemby/conductor/pkg/driver"
	"github.com/cuemby/conductor/pkg/log"
	"github.com/cuemby/conductor/pkg/logbuffers"
	"github.com/cuemby/conductor/pkg/loopdriver"
	"github.com/cuemby/conductor/pkg/metrics"
	"github.com/cuemby/conductor/pkg/rafttransport"
	"github.com/cuemby/conductor/pkg/sequencer"
	"github.com/cuemby/conductor/pkg/timer"
	"github.com/cuemby/conductor/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "conductor",
	Short:   "Conductor runs a client conductor or cluster sequencer agent",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("conductor version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(sequencerCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Client conductor operations",
}

var clientRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a client conductor against an embedded loopback driver",
	Long: `Run starts a client conductor agent paired with an in-process
stand-in for the media driver, since the wire-level driver protocol is out
of scope for this module. Useful for exercising the registration API and
its timeout/lingering behavior as a single binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadClient(configPath)
		if err != nil {
			return err
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}

		clk := clock.NewSystem()
		cmdPub, cmdSub := transport.NewChannelPair(64)
		eventsPub, eventsSub := transport.NewChannelPair(64)

		drv := loopdriver.New(clk, cmdSub, eventsPub)
		driverRunner := agent.NewRunner(drv, clock.NewBackoffIdleStrategy(), nil)
		driverRunner.Start()
		defer driverRunner.Close()

		proxy := driver.NewProxy(cmdPub)
		events := driver.NewEventsAdapter(eventsSub)
		logCache := logbuffers.NewCache(loopdriver.BufferFactory{})

		cc := conductor.New(cfg.ToConductorConfig(), clk, &sync.Mutex{}, proxy, events, drv, logCache, func(err error) {
			log.WithComponent("client").Error().Err(err).Msg("conductor error")
		})
		conductorRunner := agent.NewRunner(cc, clock.NewBackoffIdleStrategy(), nil)
		conductorRunner.Start()

		collector := metrics.NewCollector(nil, cc.LogBufferCache(), nil, nil)
		collector.Start()
		metrics.SetVersion(Version)
		metrics.RegisterComponent("conductor", true, "running")

		stop := serveMetrics(cfg.MetricsAddr)
		defer stop()

		fmt.Printf("client conductor running, metrics at http://%s/metrics\n", cfg.MetricsAddr)
		waitForSignal()

		fmt.Println("shutting down client conductor...")
		collector.Stop()
		conductorRunner.Close()
		return cc.Close()
	},
}

func init() {
	clientCmd.AddCommand(clientRunCmd)
	clientRunCmd.Flags().String("config", "", "Path to a client YAML config file")
	clientRunCmd.Flags().String("metrics-addr", "", "Override the config's metrics listen address")
}

var sequencerCmd = &cobra.Command{
	Use:   "sequencer",
	Short: "Cluster sequencer operations",
}

var sequencerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single-node cluster sequencer backed by raft",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadSequencer(configPath)
		if err != nil {
			return err
		}
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}

		clk := clock.NewSystem()
		fsm := sequencer.NewLogFSM()
		raftNode, closer, err := rafttransport.NewRaftNode(cfg.ToRaftConfig(), fsm)
		if err != nil {
			return fmt.Errorf("bootstrap raft node: %w", err)
		}
		defer closer.Close()

		logPub := rafttransport.NewRaftLogPublication(raftNode, cfg.RaftApplyTimeout())
		timers := timer.NewService()
		_, ingressSub := transport.NewChannelPair(128)

		seqAgent := sequencer.New(cfg.ToSequencerConfig(), clk, ingressSub, logPub, timers, nil)
		seqRunner := agent.NewRunner(seqAgent, clock.NewBackoffIdleStrategy(), nil)
		seqRunner.Start()

		collector := metrics.NewCollector(nil, nil, raftNode, nil)
		collector.Start()
		metrics.SetVersion(Version)
		metrics.RegisterComponent("sequencer", true, "running")
		metrics.RegisterComponent("raft", true, "bootstrapped")

		stop := serveMetrics(cfg.MetricsAddr)
		defer stop()

		fmt.Printf("cluster sequencer %s running, metrics at http://%s/metrics\n", cfg.NodeID, cfg.MetricsAddr)
		waitForSignal()

		fmt.Println("shutting down cluster sequencer...")
		collector.Stop()
		seqRunner.Close()
		return nil
	},
}

func init() {
	sequencerCmd.AddCommand(sequencerRunCmd)
	sequencerRunCmd.Flags().String("config", "", "Path to a sequencer YAML config file")
	sequencerRunCmd.Flags().String("metrics-addr", "", "Override the config's metrics listen address")
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server error")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
