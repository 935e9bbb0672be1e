//go:build windows

package main

import (
	"context"
	"fmt"
	"time"

	"dpibreak/internal/core"
	"dpibreak/internal/diverter"
	"dpibreak/internal/hoptab"
	"dpibreak/internal/packetview"
	"dpibreak/internal/rulemanager"
	"dpibreak/internal/supervisor"
)

func run(cfg core.Config) error {
	runFunc := func() error {
		return runDiverter(cfg, nil)
	}

	if supervisor.IsWindowsService() {
		stopCh := make(chan struct{})
		stopFunc := func() { close(stopCh) }
		return supervisor.RunAsService(func() error {
			return runDiverter(cfg, stopCh)
		}, stopFunc)
	}

	return runFunc()
}

func runDiverter(cfg core.Config, stop <-chan struct{}) error {
	lock := supervisor.NewWindowsLock()
	rm := rulemanager.NewWindows()

	return supervisor.Run(lock, rm, func() error {
		d := diverter.NewWindows()
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
			}
			return diverter.Decide(cfg, pv, hops)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			supervisor.WaitForShutdown(stop)
			cancel()
			close(done)
		}()

		runErr := d.Run(ctx, classify, delay)
		<-done
		return runErr
	})
}
