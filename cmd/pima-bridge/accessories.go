package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	pima "github.com/caarlos0/pima-bridge"
	"golang.org/x/exp/slices"
)

type AlarmSensors []*AlarmSensor

func (sensors AlarmSensors) PublishStatus(state pima.AlarmState) {
	for _, sensor := range sensors {
		sensor.Update(state)
	}
}

func (sensors AlarmSensors) PublishAvailability(bool) {}

type AlarmSensor struct {
	*accessory.A
	Number  int
	Kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Fault   *characteristic.StatusFault
	Active  *characteristic.StatusActive
}

func (sensor *AlarmSensor) Update(state pima.AlarmState) {
	failed := boolToInt(slices.Contains(state.FailedZones, sensor.Number))
	if sensor.Fault.Value() != failed {
		log.Info("zone failure", "zone", sensor.Number, "status", failed == 1)
		_ = sensor.Fault.SetValue(failed)
	}

	active := !slices.Contains(state.BypassedZones, sensor.Number)
	if sensor.Active.Value() != active {
		log.Info("bypass", "zone", sensor.Number, "status", !active)
		sensor.Active.SetValue(active)
	}

	open := slices.Contains(state.OpenZones, sensor.Number)
	switch sensor.Kind {
	case kindContact:
		current := boolToInt(open)
		if v := sensor.Contact.ContactSensorState.Value(); v == current {
			return
		}
		_ = sensor.Contact.ContactSensorState.SetValue(current)
		log.Info("contact", "zone", sensor.Number, "open", open)
	case kindMotion:
		if v := sensor.Motion.MotionDetected.Value(); v == open {
			return
		}
		sensor.Motion.MotionDetected.SetValue(open)
		log.Info("motion", "zone", sensor.Number, "open", open)
	}
}

func newAlarmSensor(info accessory.Info, zone zoneConfig) *AlarmSensor {
	a := AlarmSensor{
		Number: zone.number,
		Kind:   zone.kind,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Fault = characteristic.NewStatusFault()
	a.Active = characteristic.NewStatusActive()
	a.Active.SetValue(true)

	switch zone.kind {
	case kindContact:
		a.Contact = service.NewContactSensor()
		a.Contact.AddC(a.Fault.C)
		a.Contact.AddC(a.Active.C)
		a.AddS(a.Contact.S)
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.Motion.AddC(a.Fault.C)
		a.Motion.AddC(a.Active.C)
		a.AddS(a.Motion.S)
	}

	return &a
}

func setupZones(cfg Config) AlarmSensors {
	var sensors AlarmSensors
	for _, zone := range cfg.allZones() {
		sensors = append(sensors, newAlarmSensor(accessory.Info{
			Name:         zone.name,
			Manufacturer: manufacturer,
		}, zone))
	}
	return sensors
}
