// Package telemetry feeds TLM frames from the host's sensors.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

const (
	// refreshInterval is how often Run reads the sensors.
	refreshInterval = time.Second
	// readTimeout bounds one sensor read.
	readTimeout = 200 * time.Millisecond
)

// ReadFunc returns the host temperature sensors.
type ReadFunc func(ctx context.Context) ([]sensors.TemperatureStat, error)

// Source implements slot.TelemetrySource. Sensors are read by Run in the
// background; the TLM accessors only return the cached reading and never
// block the event loop.
type Source struct {
	read      ReadFunc
	sensorKey string // substring of the sensor to use; "" takes the first
	batteryMV uint16 // 0 = not supported

	temp atomic.Int32 // 8.8 fixed point, valid once have is set
	have atomic.Bool
}

// NewSource returns a source reading sensorKey through gopsutil, and
// advertising a fixed battery voltage.
func NewSource(sensorKey string, batteryMV uint16) *Source {
	return newSource(sensors.TemperaturesWithContext, sensorKey, batteryMV)
}

func newSource(read ReadFunc, sensorKey string, batteryMV uint16) *Source {
	return &Source{read: read, sensorKey: sensorKey, batteryMV: batteryMV}
}

// Run refreshes the cached temperature every second until ctx is done.
// It blocks; run it in a goroutine.
func (s *Source) Run(ctx context.Context) error {
	s.refresh(ctx)
	t := time.NewTicker(refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.refresh(ctx)
		}
	}
}

// refresh reads the sensors once. When they cannot be read the cached
// value is kept.
func (s *Source) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// gopsutil returns partial results alongside warnings.
	stats, err := s.read(ctx)
	if len(stats) == 0 {
		if err != nil {
			slog.Debug("[TLM] temperature read failed", "error", err)
		}
		return
	}
	for _, st := range stats {
		if s.sensorKey == "" || strings.Contains(st.SensorKey, s.sensorKey) {
			s.temp.Store(int32(protocol.FixedTemperature(st.Temperature)))
			s.have.Store(true)
			return
		}
	}
}

// BatteryVoltage returns the configured battery voltage in millivolts.
func (s *Source) BatteryVoltage(prev uint16) uint16 {
	return s.batteryMV
}

// BeaconTemperature returns the last sensor reading in 8.8 fixed point,
// or prev before the first successful read.
func (s *Source) BeaconTemperature(prev int16) int16 {
	if !s.have.Load() {
		return prev
	}
	return int16(s.temp.Load())
}
