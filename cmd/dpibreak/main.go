// Command dpibreak intercepts outbound TLS ClientHello segments and
// resegments (and optionally decoys) them so DPI middleboxes that read SNI
// from the first captured TCP segment cannot recover the destination
// hostname.
package main

import (
	"flag"
	"fmt"
	"os"

	"dpibreak/internal/core"
)

var (
	version = "dev"
	commit  = "unknown"
)

const banner = `dpibreak %s (%s)
SNI fragmentation daemon — fragment and decoy defenses against passive DPI
`

func main() {
	fs := flag.NewFlagSet("dpibreak", flag.ExitOnError)

	cfg := core.DefaultConfig()

	daemon := fs.Bool("D", false, "run detached as a daemon (Linux only)")
	fs.BoolVar(daemon, "daemon", false, "run detached as a daemon (Linux only)")
	fs.Bool("service", false, "run as a Windows Service (set by the SCM, not meant for interactive use)")
	delayMS := fs.Uint64("delay-ms", cfg.DelayMS, "pause between emitted replacement buffers, in milliseconds")
	fake := fs.Bool("fake", cfg.Fake, "inject decoy ClientHello packets ahead of each fragment")
	fakeTTL := fs.Uint("fake-ttl", uint(cfg.FakeTTL), "TTL/hop-limit for decoy packets")
	fakeAutoTTL := fs.Bool("fake-autottl", cfg.FakeAutoTTL, "derive decoy TTL from observed peer hop count (HopTab)")
	fakeBadSum := fs.Bool("fake-badsum", cfg.FakeBadSum, "corrupt the TCP checksum of decoy packets")
	queueNum := fs.Uint("queue-num", uint(cfg.QueueNum), "NFQUEUE number to bind (Linux)")
	nftCommand := fs.String("nft-command", cfg.NFTCommand, "override path to the nft binary")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warning, error (aliases warn, err accepted)")
	noSplash := fs.Bool("no-splash", false, "suppress the startup banner")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus /metrics on, e.g. 127.0.0.1:9540 (disabled if empty)")
	showVersion := fs.Bool("version", false, "print version and exit")

	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("dpibreak %s (%s)\n", version, commit)
		return
	}

	cfg.Daemon = *daemon
	cfg.DelayMS = *delayMS
	cfg.Fake = *fake
	cfg.FakeTTL = uint8(*fakeTTL)
	cfg.FakeAutoTTL = *fakeAutoTTL
	cfg.FakeBadSum = *fakeBadSum
	cfg.QueueNum = uint16(*queueNum)
	cfg.NFTCommand = *nftCommand
	cfg.LogLevel = *logLevel
	cfg.NoSplash = *noSplash
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dpibreak: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	core.Log = core.NewLogger(core.LogConfig{Level: cfg.LogLevel})

	if !cfg.NoSplash {
		fmt.Printf(banner, version, commit)
	}

	if err := run(cfg); err != nil {
		core.Log.Errorf("main", "fatal: %v", err)
		os.Exit(1)
	}
}
