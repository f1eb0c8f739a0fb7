//go:build no_mqtt

package main

import (
	"log/slog"

	"github.com/wakky-alcedo/auto-curtain/internal/device"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *device.Device, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
