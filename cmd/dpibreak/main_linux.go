//go:build linux

package main

import (
	"context"
	"fmt"
	"time"

	"dpibreak/internal/core"
	"dpibreak/internal/diverter"
	"dpibreak/internal/hoptab"
	"dpibreak/internal/metrics"
	"dpibreak/internal/packetview"
	"dpibreak/internal/rulemanager"
	"dpibreak/internal/supervisor"
)

func run(cfg core.Config) error {
	if cfg.Daemon && !supervisor.AlreadyDaemonized() {
		return supervisor.Daemonize(cfg.LogFilePath)
	}
	if supervisor.AlreadyDaemonized() {
		core.Log.EnableFileSink(cfg.LogFilePath, cfg.LogMaxSizeMB, cfg.LogMaxAgeDays, cfg.LogMaxBackups)
	}

	lock := supervisor.NewFileLock(cfg.PIDFilePath)
	rm := rulemanager.NewLinux(cfg.NFTCommand, cfg.QueueNum)

	var sink *metrics.Sink
	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	defer metricsCancel()
	if cfg.MetricsAddr != "" {
		sink = metrics.NewSink()
		go func() {
			if err := sink.Serve(metricsCtx, cfg.MetricsAddr); err != nil {
				core.Log.Warnf("metrics", "metrics server exited: %v", err)
			}
		}()
	}

	return supervisor.Run(lock, rm, func() error {
		d := diverter.NewLinux()
		if err := d.Open(cfg.QueueNum); err != nil {
			return fmt.Errorf("open diverter: %w", err)
		}
		defer d.Close()

		hops := hoptab.New()
		delay := time.Duration(cfg.DelayMS) * time.Millisecond

		classify := func(raw []byte) diverter.Verdict {
			pv := packetview.New()
			if err := pv.Parse(raw); err != nil {
				return diverter.Verdict{Kind: diverter.Accept}
			}
			if pv.IsTCP() && pv.SrcPort() == 443 {
				diverter.ObserveSYNACK(hops, pv)
				if sink != nil {
					sink.SetHopTabOccupancy(hops.Len())
				}
			}
			v := diverter.Decide(cfg, pv, hops)
			if sink != nil {
				sink.Observe(core.Event{
					Type: core.EventVerdictIssued,
					Payload: core.VerdictPayload{
						Kind:          core.VerdictKind(v.Kind),
						FragmentCount: v.FragmentCount,
						FakeCount:     v.FakeCount,
					},
				})
			}
			return v
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			supervisor.WaitForShutdown(nil)
			cancel()
			close(done)
		}()

		runErr := d.Run(ctx, classify, delay)
		<-done
		return runErr
	})
}
