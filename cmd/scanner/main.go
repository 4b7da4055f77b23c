// Command scanner is the entry point for the network fingerprinter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scanline/fingerprinter/internal/admission"
	"github.com/scanline/fingerprinter/internal/checkpoint"
	"github.com/scanline/fingerprinter/internal/config"
	"github.com/scanline/fingerprinter/internal/ingest"
	"github.com/scanline/fingerprinter/internal/latency"
	"github.com/scanline/fingerprinter/internal/model"
	"github.com/scanline/fingerprinter/internal/pipeline"
	"github.com/scanline/fingerprinter/internal/probe"
	"github.com/scanline/fingerprinter/internal/resolve"
	"github.com/scanline/fingerprinter/internal/schedule"
	"github.com/scanline/fingerprinter/internal/session"
	"github.com/scanline/fingerprinter/internal/status"
	"github.com/scanline/fingerprinter/internal/vendor"
)

type cliFlags struct {
	scan    bool
	dnsTest bool

	domains string
	cfgPath string
	output  string
	format  string

	ioThreads  int
	cpuThreads int
	threads    int

	protocols string
	noSMTP    bool
	noPOP3    bool
	noIMAP    bool
	noFTP     bool
	enableHTTP   bool
	enableFTP    bool
	enableTelnet bool
	enableSSH    bool

	timeoutMs     int
	batchSize     int
	onlySuccess   bool
	scanAllPorts  bool
	vendorFile    string
	verbose       bool
	quiet         bool

	statusAddr   string
	amqpURL      string
	amqpExchange string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.scan, "scan", false, "run a fingerprint scan")
	flag.BoolVar(&f.dnsTest, "dns-test", false, "resolve --domains and exit")

	flag.StringVar(&f.domains, "domains", "", "path to the input target file (required)")
	flag.StringVar(&f.cfgPath, "config", "", "path to the JSON config file (default ./config/scanner_config.json)")
	flag.StringVar(&f.output, "output", "", "output directory (default ./result)")
	flag.StringVar(&f.format, "format", "", "output format: text|json|csv|report|required")

	flag.IntVar(&f.ioThreads, "io-threads", 0, "reactor pool size")
	flag.IntVar(&f.cpuThreads, "cpu-threads", 0, "orchestration pool size")
	flag.IntVar(&f.threads, "threads", 0, "legacy: sets io-threads, cpu-threads = max(1, value/4)")

	flag.StringVar(&f.protocols, "protocols", "", "comma-separated list of protocols to enable exclusively")
	flag.BoolVar(&f.noSMTP, "no-smtp", false, "disable SMTP probing")
	flag.BoolVar(&f.noPOP3, "no-pop3", false, "disable POP3 probing")
	flag.BoolVar(&f.noIMAP, "no-imap", false, "disable IMAP probing")
	flag.BoolVar(&f.noFTP, "no-ftp", false, "disable FTP probing")
	flag.BoolVar(&f.enableHTTP, "enable-http", false, "enable HTTP probing")
	flag.BoolVar(&f.enableFTP, "enable-ftp", false, "enable FTP probing")
	flag.BoolVar(&f.enableTelnet, "enable-telnet", false, "enable Telnet probing")
	flag.BoolVar(&f.enableSSH, "enable-ssh", false, "enable SSH probing")

	flag.IntVar(&f.timeoutMs, "timeout", 0, "probe timeout in ms; 0 means adaptive")
	flag.IntVar(&f.batchSize, "batch-size", 0, "ingest batch size")
	flag.BoolVar(&f.onlySuccess, "only-success", false, "report only accessible protocol results")
	flag.BoolVar(&f.scanAllPorts, "scan-all-ports", false, "probe every available port for every enabled protocol")
	flag.StringVar(&f.vendorFile, "vendor-file", "", "path to the vendor pattern file")
	flag.BoolVar(&f.verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&f.quiet, "quiet", false, "quiet logging")

	flag.StringVar(&f.statusAddr, "status-addr", "", "host:port to serve the read-only admin API on")
	flag.StringVar(&f.amqpURL, "amqp-url", "", "RabbitMQ URL for the optional result AMQP sink")
	flag.StringVar(&f.amqpExchange, "amqp-exchange", "", "RabbitMQ exchange for the optional result AMQP sink")

	flag.Parse()
	return f
}

func main() {
	flags := parseFlags()

	if !flags.scan && !flags.dnsTest {
		fmt.Fprintln(os.Stderr, "one of --scan or --dns-test is required")
		os.Exit(1)
	}
	if flags.domains == "" {
		fmt.Fprintln(os.Stderr, "--domains is required")
		os.Exit(1)
	}

	logger := buildLogger(flags)
	defer logger.Sync()

	cfgPath := flags.cfgPath
	if cfgPath == "" {
		cfgPath = "./config/scanner_config.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorw("failed to load configuration", "error", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, flags)

	if flags.dnsTest {
		runDNSTest(flags.domains, cfg, logger)
		return
	}

	if err := runScan(flags, cfg, logger); err != nil {
		logger.Errorw("scan failed", "error", err)
		os.Exit(1)
	}
}

func buildLogger(flags cliFlags) *zap.SugaredLogger {
	zapCfg := zap.NewProductionConfig()
	switch {
	case flags.verbose:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case flags.quiet:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

// applyFlagOverrides layers CLI flags over the loaded config, matching
// spec.md §6.1's precedence (flags win) and the legacy --threads
// derivation rule.
func applyFlagOverrides(cfg *config.Config, f cliFlags) {
	if f.threads > 0 && f.ioThreads == 0 && f.cpuThreads == 0 {
		cfg.Scanner.IOThreadCount = f.threads
		cfg.Scanner.CPUThreadCount = maxInt(1, f.threads/4)
	}
	if f.ioThreads > 0 {
		cfg.Scanner.IOThreadCount = f.ioThreads
	}
	if f.cpuThreads > 0 {
		cfg.Scanner.CPUThreadCount = f.cpuThreads
	}
	if f.batchSize > 0 {
		cfg.Scanner.BatchSize = f.batchSize
	}
	if f.timeoutMs > 0 {
		cfg.Scanner.ProbeTimeoutMs = f.timeoutMs
	}
	if f.onlySuccess {
		cfg.Scanner.OnlySuccess = true
	}
	if f.scanAllPorts {
		cfg.Scanner.ScanAllPorts = true
	}
	if f.output != "" {
		cfg.Output.Directory = f.output
	}
	if f.format != "" {
		cfg.Output.Format = f.format
	}
	if f.vendorFile != "" {
		cfg.Vendor.PatternFile = f.vendorFile
		cfg.Vendor.Enabled = true
	}
	if f.amqpURL != "" {
		cfg.Output.AMQP.Enabled = true
		cfg.Output.AMQP.URL = f.amqpURL
	}
	if f.amqpExchange != "" {
		cfg.Output.AMQP.Exchange = f.amqpExchange
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// enabledProtocols resolves the effective protocol set from
// --protocols (exclusive override), --no-*/--enable-* flags, and the
// registry defaults (spec.md §6.1).
func enabledProtocols(f cliFlags) []probe.Protocol {
	if f.protocols != "" {
		set := make(map[string]bool)
		for _, name := range strings.Split(f.protocols, ",") {
			name = strings.TrimSpace(name)
			if p, ok := probe.ByName(name); ok {
				set[p.Name] = true
			}
		}
		return probe.Enabled(set)
	}

	enabled := probe.DefaultEnabled()
	if f.noSMTP {
		enabled["SMTP"] = false
	}
	if f.noPOP3 {
		enabled["POP3"] = false
	}
	if f.noIMAP {
		enabled["IMAP"] = false
	}
	if f.noFTP {
		enabled["FTP"] = false
	}
	if f.enableHTTP {
		enabled["HTTP"] = true
	}
	if f.enableFTP {
		enabled["FTP"] = true
	}
	if f.enableTelnet {
		enabled["Telnet"] = true
	}
	if f.enableSSH {
		enabled["SSH"] = true
	}
	return probe.Enabled(enabled)
}

func runDNSTest(domainsPath string, cfg *config.Config, logger *zap.SugaredLogger) {
	resolver := resolve.New()
	timeoutMs := cfg.Scanner.DNSTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = cfg.DNS.TimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx := context.Background()
	targets := make(chan model.Target, 64)
	ing := ingest.New("", logger)

	go func() {
		defer close(targets)
		if err := ing.Run(ctx, domainsPath, targets); err != nil {
			logger.Errorw("dns-test ingest failed", "error", err)
		}
	}()

	for t := range targets {
		if t.Kind == model.KindIP {
			fmt.Printf("%s -> (literal IP)\n", t.InputValue)
			continue
		}
		result := resolver.Resolve(ctx, t.HostName, timeout)
		if result.Success {
			fmt.Printf("%s -> %s\n", t.HostName, result.IP)
		} else {
			fmt.Printf("%s -> FAILED: %s\n", t.HostName, result.Error)
		}
	}
}

func runScan(f cliFlags, cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admit := admission.New(cfg.Scanner.MaxWorkCount, logger)
	resolver := resolve.New()
	lat := latency.New()

	enabled := enabledProtocols(f)
	if len(enabled) == 0 {
		return fmt.Errorf("no protocols enabled")
	}

	probeMode := session.ProtocolDefaults
	if cfg.Scanner.ScanAllPorts {
		probeMode = session.AllAvailable
	}

	probeTimeout := time.Duration(cfg.Scanner.ProbeTimeoutMs) * time.Millisecond
	adaptive := cfg.Scanner.ProbeTimeoutMs <= 0
	if adaptive {
		probeTimeout = 4 * time.Second
	}
	dnsTimeout := time.Duration(cfg.Scanner.DNSTimeoutMs) * time.Millisecond
	if dnsTimeout <= 0 {
		dnsTimeout = 3 * time.Second
	}

	var detector *vendor.Detector
	if cfg.Vendor.Enabled && cfg.Vendor.PatternFile != "" {
		detector = vendor.New(cfg.Vendor.SimilarityThreshold)
		if err := detector.LoadPatternFile(cfg.Vendor.PatternFile); err != nil {
			logger.Warnw("vendor pattern file failed to load, continuing without it", "error", err)
			detector = nil
		}
	}

	ckpt, err := checkpoint.New(cfg.Output.Directory, f.domains)
	if err != nil {
		return fmt.Errorf("checkpoint setup: %w", err)
	}

	resumeIP := ""
	if prior, err := ckpt.Load(); err != nil {
		logger.Warnw("checkpoint load failed, starting fresh", "error", err)
	} else if prior != nil {
		resumeIP = prior.LastIP
		logger.Infow("resuming from checkpoint", "last_ip", resumeIP, "processed", prior.ProcessedCount)
	}

	amqpURL := ""
	if cfg.Output.AMQP.Enabled {
		amqpURL = cfg.Output.AMQP.URL
	}

	writer, err := pipeline.New(pipeline.Options{
		Formats:            cfg.OutputFormats(),
		Directory:          cfg.Output.Directory,
		Mode:               pipeline.ParseMode(cfg.Output.WriteMode),
		OnlySuccess:        cfg.Scanner.OnlySuccess,
		ToConsole:          cfg.Output.ToConsole,
		FlushInterval:      time.Duration(cfg.Output.FlushIntervalMs) * time.Millisecond,
		CheckpointInterval: cfg.Output.CheckpointInterval,
		AMQPURL:            amqpURL,
		AMQPExchange:       cfg.Output.AMQP.Exchange,
	}, ckpt, logger)
	if err != nil {
		return fmt.Errorf("pipeline setup: %w", err)
	}

	sched := schedule.New(schedule.Options{
		Reactors:        cfg.Scanner.IOThreadCount,
		ProbeTimeout:    probeTimeout,
		DNSTimeout:      dnsTimeout,
		ProbeMode:       probeMode,
		Enabled:         enabled,
		OnlySuccess:     cfg.Scanner.OnlySuccess,
		AdaptiveTimeout: adaptive,
		Vendor:          detector,
		RateLimitPPS:    cfg.Scanner.RateLimitPPS,
	}, admit, resolver, lat, logger)

	if f.statusAddr != "" {
		admin := status.New(func() status.Snapshot {
			return status.Snapshot{
				ActiveSessions: sched.ActiveCount(),
				Processed:      writer.Processed(),
				Successful:     writer.Successful(),
				AdmissionCap:   admit.Cap(),
			}
		}, logger)
		go func() {
			if err := admin.ListenAndServe(f.statusAddr); err != nil {
				logger.Fatalw("admin API failed to start", "error", err, "addr", f.statusAddr)
			}
		}()
	}

	targets := make(chan model.Target, cfg.Scanner.TargetsMaxSize)
	ing := ingest.New(resumeIP, logger)

	go func() {
		defer close(targets)
		if err := ing.Run(ctx, f.domains, targets); err != nil {
			logger.Errorw("ingest failed", "error", err)
		}
	}()

	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(ctx, sched.Reports) }()

	sched.Run(ctx, targets)

	return <-writerDone
}
