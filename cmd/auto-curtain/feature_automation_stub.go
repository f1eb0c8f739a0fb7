//go:build no_automation

package main

import (
	"log/slog"

	"github.com/wakky-alcedo/auto-curtain/internal/device"
	"github.com/wakky-alcedo/auto-curtain/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *device.Device, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
