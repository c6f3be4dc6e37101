// synvm: interpreter for the Synacor challenge virtual machine.
//
// This is the main entry point for synvm. It loads a binary program
// image, attaches the host terminal, and executes the program to
// completion, with optional Prometheus metrics for long sessions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fortiblox/synacor-vm/pkg/console"
	"github.com/fortiblox/synacor-vm/pkg/metrics"
	"github.com/fortiblox/synacor-vm/pkg/program"
	"github.com/fortiblox/synacor-vm/pkg/vm"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "dev"
	BuildTime = "unknown"
)

// Configuration flags
var (
	configFile    = flag.String("config", "synvm.json", "Path to JSON configuration file")
	programPath   = flag.String("program", "", "Path to the program image")
	checksum      = flag.String("checksum", "", "Expected base58 image checksum (empty = skip verification)")
	logFile       = flag.String("log-file", "", "Append log output to a file (default stderr)")
	logLevel      = flag.String("log-level", "", "Log level: debug, info")
	showVersion   = flag.Bool("version", false, "Print version and exit")
	showStats     = flag.Bool("stats", false, "Show statistics periodically")
	statsInterval = flag.Duration("stats-interval", 0, "Statistics reporting interval")
	enableMetrics = flag.Bool("enable-metrics", false, "Enable Prometheus metrics server")
	metricsAddr   = flag.String("metrics-addr", "", "Metrics server listen address")
	dumpDashboard = flag.Bool("dump-dashboard", false, "Print the Grafana dashboard JSON and exit")
)

// Config represents the JSON configuration file structure.
type Config struct {
	Program ProgramConfig `json:"program"`
	Metrics MetricsConfig `json:"metrics"`
	General GeneralConfig `json:"general"`
}

// ProgramConfig holds program image settings.
type ProgramConfig struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// GeneralConfig holds general application settings.
type GeneralConfig struct {
	LogFile         string `json:"log_file"`
	LogLevel        string `json:"log_level"`
	Stats           bool   `json:"stats"`
	StatsIntervalMs int    `json:"stats_interval_ms"`
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Program: ProgramConfig{
			Path:     "challenge.bin",
			Checksum: "",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		General: GeneralConfig{
			LogFile:         "",
			LogLevel:        "info",
			Stats:           false,
			StatsIntervalMs: 30000,
		},
	}
}

// loadConfig loads configuration from the specified JSON file.
// If the file doesn't exist, it returns the default configuration.
// CLI flags override config file values when explicitly set.
func loadConfig(configPath string) (Config, error) {
	cfg := defaultConfig()

	// Try to read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	log.Printf("Loaded configuration from %s", configPath)
	return cfg, nil
}

// applyConfigWithCLIOverrides applies config values and lets CLI flags override them.
// This function checks if CLI flags were explicitly set and uses those values,
// otherwise it uses values from the config file.
func applyConfigWithCLIOverrides(cfg Config) {
	// Helper to check if a flag was explicitly set on command line
	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagSet[f.Name] = true
	})

	// Program settings
	if !flagSet["program"] {
		*programPath = cfg.Program.Path
	}
	if !flagSet["checksum"] {
		*checksum = cfg.Program.Checksum
	}

	// Metrics settings
	if !flagSet["enable-metrics"] {
		*enableMetrics = cfg.Metrics.Enabled
	}
	if !flagSet["metrics-addr"] {
		*metricsAddr = cfg.Metrics.Addr
	}

	// General settings
	if !flagSet["log-file"] {
		*logFile = cfg.General.LogFile
	}
	if !flagSet["log-level"] {
		*logLevel = cfg.General.LogLevel
	}
	if !flagSet["stats"] {
		*showStats = cfg.General.Stats
	}
	if !flagSet["stats-interval"] {
		*statsInterval = time.Duration(cfg.General.StatsIntervalMs) * time.Millisecond
	}
}

// measuredTerminal decorates a Terminal with I/O accounting.
type measuredTerminal struct {
	inner   vm.Terminal
	metrics *metrics.Metrics

	outputChars atomic.Uint64
	inputChars  atomic.Uint64
	inputLines  atomic.Uint64
	inputWaitNs atomic.Int64
}

func (mt *measuredTerminal) WriteChar(c byte) error {
	if err := mt.inner.WriteChar(c); err != nil {
		return err
	}
	mt.outputChars.Add(1)
	if mt.metrics != nil {
		mt.metrics.RecordOutput()
	}
	return nil
}

func (mt *measuredTerminal) ReadLine() ([]byte, error) {
	start := time.Now()
	line, err := mt.inner.ReadLine()
	if err != nil {
		return nil, err
	}

	wait := time.Since(start)
	mt.inputLines.Add(1)
	mt.inputChars.Add(uint64(len(line)))
	mt.inputWaitNs.Add(int64(wait))
	if mt.metrics != nil {
		mt.metrics.RecordInputLine(len(line), wait)
	}
	return line, nil
}

// Runner ties together the loaded image, the machine and the host terminal.
type Runner struct {
	image     *program.Image
	machine   *vm.VM
	console   *console.Console
	term      *measuredTerminal
	metrics   *metrics.Metrics
	startTime time.Time
}

// RunnerStats is a point-in-time snapshot of run statistics.
type RunnerStats struct {
	Steps       uint64
	OutputChars uint64
	InputChars  uint64
	InputLines  uint64
	InputWait   time.Duration
	StackDepth  int
	PC          uint16
	Halted      bool
	StartTime   time.Time
}

// NewRunner creates a runner for the given image, wired to the host's
// standard streams.
func NewRunner(img *program.Image) (*Runner, error) {
	machine, err := vm.NewVM(img.Words)
	if err != nil {
		return nil, err
	}

	cons := console.New(os.Stdin, os.Stdout)
	term := &measuredTerminal{inner: cons}
	machine.SetTerminal(term)

	return &Runner{
		image:     img,
		machine:   machine,
		console:   cons,
		term:      term,
		startTime: time.Now(),
	}, nil
}

// SetMetrics attaches the metrics set fed during the run.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
	r.term.metrics = m
	if m != nil {
		m.SetProgramSize(len(r.image.Words))
	}
}

// Run executes the program to completion, a fault, or cancellation.
// Buffered guest output is flushed before returning.
func (r *Runner) Run(ctx context.Context) error {
	defer r.console.Flush()
	return r.machine.Run(ctx)
}

// Status reports interpreter progress for the status endpoint.
func (r *Runner) Status() metrics.Status {
	return metrics.Status{
		Program:       r.image.Path,
		ProgramWords:  len(r.image.Words),
		Steps:         r.machine.GetStepCount(),
		PC:            r.machine.GetPC(),
		StackDepth:    r.machine.GetStackDepth(),
		PendingInput:  r.machine.PendingInput(),
		Halted:        r.machine.Halted(),
		UptimeSeconds: time.Since(r.startTime).Seconds(),
	}
}

// Stats returns the current run statistics.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Steps:       r.machine.GetStepCount(),
		OutputChars: r.term.outputChars.Load(),
		InputChars:  r.term.inputChars.Load(),
		InputLines:  r.term.inputLines.Load(),
		InputWait:   time.Duration(r.term.inputWaitNs.Load()),
		StackDepth:  r.machine.GetStackDepth(),
		PC:          r.machine.GetPC(),
		Halted:      r.machine.Halted(),
		StartTime:   r.startTime,
	}
}

// printStats logs a statistics block.
func printStats(title string, stats RunnerStats) {
	elapsed := time.Since(stats.StartTime)
	log.Println()
	log.Printf("=== %s ===", title)
	log.Printf("  Runtime:          %s", elapsed.Round(time.Millisecond))
	log.Printf("  Instructions:     %d", stats.Steps)
	if elapsed.Seconds() > 0 && stats.Steps > 0 {
		log.Printf("  Instructions/sec: %.0f", float64(stats.Steps)/elapsed.Seconds())
	}
	log.Printf("  Output chars:     %d", stats.OutputChars)
	log.Printf("  Input lines:      %d (%d chars)", stats.InputLines, stats.InputChars)
	log.Printf("  Input wait:       %s", stats.InputWait.Round(time.Millisecond))
	log.Printf("  Stack depth:      %d", stats.StackDepth)
	log.Printf("  Final pc:         %d", stats.PC)
	log.Printf("  Halted:           %v", stats.Halted)
	log.Println("==========================")
	log.Println()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("synvm %s (%s)\n", Version, GitCommit)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Println()
		fmt.Println("Interpreter for the Synacor challenge virtual machine")
		fmt.Println("https://github.com/fortiblox/synacor-vm")
		os.Exit(0)
	}

	if *dumpDashboard {
		jsonStr, err := metrics.GenerateDashboardJSON(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate dashboard: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(jsonStr)
		os.Exit(0)
	}

	// Setup logging. Guest output owns stdout; all logging goes to
	// stderr or the configured log file.
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Load configuration from file
	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply config values, allowing CLI flags to override
	applyConfigWithCLIOverrides(cfg)

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Printf("Starting synvm %s", Version)
	log.Println()
	log.Println(" ==============================")
	log.Println("  synvm - Synacor challenge VM")
	log.Println(" ==============================")
	log.Println()

	// Open the program image
	img, err := program.Open(*programPath)
	if err != nil {
		log.Fatalf("Failed to load program image: %v", err)
	}

	compressed := ""
	if img.Compressed {
		compressed = " (zstd)"
	}
	log.Printf("Loaded %s: %d words, %d bytes%s", img.Path, len(img.Words), img.SizeBytes, compressed)
	log.Printf("Image checksum: %s", img.Checksum.String())

	// Verify the image against a pinned checksum
	if *checksum != "" {
		if err := img.VerifyChecksum(*checksum); err != nil {
			log.Fatalf("Image verification failed: %v", err)
		}
		log.Println("Image checksum verified")
	}

	// Create the runner
	runner, err := NewRunner(img)
	if err != nil {
		log.Fatalf("Failed to create machine: %v", err)
	}

	// Log configuration
	if *logLevel == "debug" {
		log.Println()
		log.Println("Configuration:")
		log.Printf("  Config file:    %s", *configFile)
		log.Printf("  Program:        %s", *programPath)
		log.Printf("  Checksum:       %s", *checksum)
		log.Printf("  Metrics:        %v", *enableMetrics)
		if *enableMetrics {
			log.Printf("  Metrics addr:   %s", *metricsAddr)
		}
		log.Printf("  Stats:          %v (every %s)", *showStats, *statsInterval)
		log.Println()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start metrics server if enabled
	var metricsServer *metrics.Server
	var collectors *metrics.CollectorManager
	if *enableMetrics {
		m := metrics.NewMetrics()
		runner.SetMetrics(m)

		metricsServer = metrics.NewServer(
			metrics.WithAddr(*metricsAddr),
			metrics.WithMetrics(m),
			metrics.WithStatusFunc(runner.Status),
		)
		if err := metricsServer.Start(); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
		log.Printf("Prometheus metrics server listening on %s", metricsServer.Addr())

		collectors = metrics.NewCollectorManager()
		collectors.Add(metrics.NewRuntimeCollector(m, 15*time.Second))
		collectors.Add(metrics.NewVMCollector(m, runner.machine, 5*time.Second))
		collectors.Start()
	}

	// Stats ticker
	var statsTicker *time.Ticker
	if *showStats {
		interval := *statsInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		statsTicker = time.NewTicker(interval)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-statsTicker.C:
					printStats("Run Statistics", runner.Stats())
				}
			}
		}()
	}

	// Run the machine
	log.Println("Starting execution...")
	runDone := make(chan error, 1)
	go func() {
		runDone <- runner.Run(ctx)
	}()

	// Wait for shutdown signal or completion
	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()

		// The engine notices cancellation at the next instruction
		// boundary. A machine blocked in a terminal read never reaches
		// one, so don't wait forever.
		select {
		case runErr = <-runDone:
		case <-time.After(2 * time.Second):
			runErr = context.Canceled
			log.Println("Machine blocked on input, abandoning run")
		}

	case runErr = <-runDone:
	}

	fault := runErr != nil && !errors.Is(runErr, context.Canceled)
	if fault && runner.metrics != nil {
		runner.metrics.RecordFault()
	}

	// Stop stats ticker
	if statsTicker != nil {
		statsTicker.Stop()
	}

	// Stop collectors and metrics server
	if collectors != nil {
		collectors.CollectAll()
		collectors.Stop()
	}
	if metricsServer != nil {
		log.Println("Stopping metrics server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
		shutdownCancel()
	}

	// Print final stats
	printStats("Final Statistics", runner.Stats())

	switch {
	case fault:
		log.Printf("Machine fault: %v", runErr)
		os.Exit(1)
	case errors.Is(runErr, context.Canceled):
		log.Println("Run interrupted")
		os.Exit(1)
	default:
		log.Println("Machine halted cleanly")
	}
}
