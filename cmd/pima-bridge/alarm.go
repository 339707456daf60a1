package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	pima "github.com/caarlos0/pima-bridge"
)

const armTimeout = 30 * time.Second

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Fault          *characteristic.StatusFault
	Tampered       *characteristic.StatusTampered
	LowBattery     *characteristic.StatusLowBattery

	cfg   Config
	alarm Alarm
}

func NewSecuritySystem(info accessory.Info, cfg Config, alarm Alarm) *SecuritySystem {
	a := &SecuritySystem{
		cfg:   cfg,
		alarm: alarm,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.Tampered = characteristic.NewStatusTampered()
	a.SecuritySystem.AddC(a.Tampered.C)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.SecuritySystem.AddC(a.LowBattery.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(state pima.AlarmState) {
	if v := a.cfg.getAlarmState(state); v >= 0 && a.SecuritySystem.SecuritySystemCurrentState.Value() != v {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(v)
		log.Info("set current state", "state", v, "err", err)
		if v != characteristic.SecuritySystemCurrentStateAlarmTriggered {
			_ = a.SecuritySystem.SecuritySystemTargetState.SetValue(v)
		}
	}

	if v := boolToInt(len(state.Failures) > 0); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "failures", state.Failures)
	}

	if v := boolToInt(anyFailure(state.Failures, "Tamper")); a.Tampered.Value() != v {
		_ = a.Tampered.SetValue(v)
		log.Info("alarm status", "tamper", v == 1)
	}

	if v := boolToInt(anyFailure(state.Failures, "Low Battery", "Low Power")); a.LowBattery.Value() != v {
		_ = a.LowBattery.SetValue(v)
		log.Info("alarm status", "low-battery", v == 1)
	}
}

func (a *SecuritySystem) PublishStatus(state pima.AlarmState) {
	a.Update(state)
}

func (a *SecuritySystem) PublishAvailability(online bool) {
	if !online {
		log.Warn("panel is offline")
		_ = a.Fault.SetValue(1)
		return
	}
	if state, ok := a.alarm.Last(); ok {
		_ = a.Fault.SetValue(boolToInt(len(state.Failures) > 0))
		a.Update(state)
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	target, ok := v.(int)
	if !ok {
		return nil, hap.JsonStatusInvalidValueInRequest
	}
	mode, ok := targetModes[target]
	if !ok {
		return nil, hap.JsonStatusResourceDoesNotExist
	}
	if mode == pima.ModeDisarm && a.cfg.DisableDisarm {
		log.Warn("disarm requested from homekit, but it is disabled")
		return nil, hap.JsonStatusInvalidValueInRequest
	}

	ctx, cancel := context.WithTimeout(context.Background(), armTimeout)
	defer cancel()

	log.Info("set arm mode", "mode", mode, "partitions", a.cfg.HomeKitPartitions)
	state, err := a.alarm.SetArmMode(ctx, mode, a.cfg.HomeKitPartitions)
	if err != nil {
		log.Error("could not set arm mode", "mode", mode, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	a.Update(state)
	return nil, hap.JsonStatusSuccess
}

var targetModes = map[int]pima.Mode{
	characteristic.SecuritySystemTargetStateStayArm:  pima.ModeHome1,
	characteristic.SecuritySystemTargetStateAwayArm:  pima.ModeFullArm,
	characteristic.SecuritySystemTargetStateNightArm: pima.ModeHome2,
	characteristic.SecuritySystemTargetStateDisarm:   pima.ModeDisarm,
}

// getAlarmState maps the HomeKit partitions to a current state, or -1 when
// they are not all in the same mode.
func (c Config) getAlarmState(state pima.AlarmState) int {
	if len(c.HomeKitPartitions) == 0 {
		return -1
	}
	mode, ok := state.Partitions[c.HomeKitPartitions[0]]
	if !ok {
		return -1
	}
	for _, p := range c.HomeKitPartitions[1:] {
		if state.Partitions[p] != mode {
			return -1
		}
	}

	if mode != pima.ModeDisarm && len(state.AlarmedZones) > 0 {
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	}

	switch mode {
	case pima.ModeDisarm:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case pima.ModeFullArm:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case pima.ModeHome1:
		return characteristic.SecuritySystemCurrentStateStayArm
	case pima.ModeHome2:
		return characteristic.SecuritySystemCurrentStateNightArm
	default:
		return -1
	}
}

func anyFailure(failures []string, substrs ...string) bool {
	for _, f := range failures {
		for _, s := range substrs {
			if strings.Contains(f, s) {
				return true
			}
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
