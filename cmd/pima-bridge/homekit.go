package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	pima "github.com/caarlos0/pima-bridge"
)

const manufacturer = "PIMA"

type homeKit struct {
	server  *hap.Server
	alarm   *SecuritySystem
	sensors AlarmSensors
}

func (h *homeKit) PublishStatus(state pima.AlarmState) {
	h.alarm.PublishStatus(state)
	h.sensors.PublishStatus(state)
}

func (h *homeKit) PublishAvailability(online bool) {
	h.alarm.PublishAvailability(online)
	h.sensors.PublishAvailability(online)
}

func (h *homeKit) ListenAndServe(ctx context.Context) error {
	log.Info("starting homekit server", "addr", h.server.Addr)
	if err := h.server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setupHomeKit(cfg Config, alarm Alarm, serial string) (*homeKit, error) {
	log.Info(
		"loading accessories",
		"partitions", cfg.HomeKitPartitions,
		"zones", cfg.allZones().String(),
	)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	system := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: serial,
		Manufacturer: manufacturer,
		Model:        "Hunter Pro",
		Firmware:     version,
	}, cfg, alarm)
	system.Id = 2

	sensors := setupZones(cfg)

	if state, ok := alarm.Last(); ok {
		system.Update(state)
		sensors.PublishStatus(state)
	}

	accessories := []*accessory.A{system.A}
	for _, s := range sensors {
		accessories = append(accessories, s.A)
	}

	server, err := hap.NewServer(hap.NewFsStore(cfg.HomeKitDB), bridge.A, accessories...)
	if err != nil {
		return nil, err
	}
	server.Pin = cfg.HomeKitPIN
	server.Addr = cfg.HomeKitAddress

	return &homeKit{
		server:  server,
		alarm:   system,
		sensors: sensors,
	}, nil
}
