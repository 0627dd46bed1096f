package bridair

import (
	"github.com/brutella/hap"
	"github.com/brutella/hap/characteristic"

	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
)

var ErrNoModeCharacteristic = fmt.Errorf("mode characteristic not bound")

// mode picked when the purifier is switched on from HomeKit
const modeAuto = 2

// Operating mode of the purifier. This is the only writable binding.
type ModeSensor struct {
	*sensor

	// serializes writes, so the cached mode is always the last one written
	writeMu sync.Mutex
}

// Sets the purifier mode, given either a mode number or label.
// The write is sent to the accessory, and on success the new mode is
// reflected immediately without waiting for the accessory to confirm it.
func (m *ModeSensor) SetMode(ctx context.Context, mode any) error {
	v, err := m.translator.ToCharacteristicValue(mode)
	if err != nil {
		return fmt.Errorf("invalid mode %v: %w", mode, err)
	}

	iid, ok := m.Iid(UUIDBridMode)
	if !ok {
		return ErrNoModeCharacteristic
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err = m.acc.PutCharacteristics(ctx, []CharacteristicWrite{{Aid: m.acc.Aid, Iid: iid, Value: v}})
	if err != nil {
		return err
	}

	m.ApplyUpdate(UUIDBridMode, v)
	return nil
}

// Returns the raw mode number, if one is known
func (m *ModeSensor) Mode() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasRaw {
		return 0, false
	}
	return valToInt(m.raw)
}

// Mirrors the mode as a custom characteristic on the purifier service, with
// Active and CurrentAirPurifierState derived from it.
func (m *ModeSensor) mirrorService(ma *mirrorAccessory) *mirroredChar {
	p := ma.purifierService()
	c := newBridModeCharacteristic()
	p.AddC(c.C)

	setMode := func(mode any) (any, int) {
		if err := ma.setMode(m, mode); err != nil {
			log.Printf("error setting mode of %s: %s", m.EntityID(), err)
			return nil, hap.JsonStatusServiceCommunicationFailure
		}
		return nil, 0
	}

	c.SetValueRequestFunc = func(newVal any, req *http.Request) (any, int) {
		// handle remote value updates only
		if req != nil {
			return setMode(newVal)
		}
		return nil, 0
	}

	// switching the purifier on from the Home app picks Auto
	p.Active.SetValueRequestFunc = func(newVal any, req *http.Request) (any, int) {
		if req != nil {
			target := 0
			if v, ok := valToInt(newVal); ok && v == characteristic.ActiveActive {
				target = modeAuto
			}
			return setMode(target)
		}
		return nil, 0
	}

	return &mirroredChar{
		C: c.C,
		Synced: func() {
			// unrepresented modes count as off
			active, state := characteristic.ActiveInactive, characteristic.CurrentAirPurifierStateInactive
			if v, ok := m.Mode(); ok && v != 0 && m.DisplayState() != nil {
				active, state = characteristic.ActiveActive, characteristic.CurrentAirPurifierStatePurifyingAir
			}
			p.Active.SetValue(active)
			p.CurrentAirPurifierState.SetValue(state)
		},
	}
}

func newBridModeCharacteristic() *characteristic.Int {
	c := characteristic.NewInt(UUIDBridMode)
	c.Format = characteristic.FormatUInt8
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionWrite, characteristic.PermissionEvents}
	c.SetMinValue(0)
	c.SetMaxValue(len(BridModes) - 1)
	c.SetStepValue(1)
	return c
}

func newBridModuleCountCharacteristic() *characteristic.Int {
	c := characteristic.NewInt(UUIDBridNumberOfModules)
	c.Format = characteristic.FormatUInt8
	c.Permissions = []string{characteristic.PermissionRead, characteristic.PermissionEvents}
	return c
}

func createAirPurifierSensors(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	mode := &ModeSensor{sensor: newSensor(acc, sensorOpts{
		suffix:     "Mode",
		kind:       "mode",
		icon:       IconBridMode,
		places:     DisplayPlacesVerbatim,
		watched:    []string{UUIDBridMode},
		translator: &EnumTranslator{BridModes},
	})}
	mode.mirror = mode.mirrorService
	if err := mode.setup(rec.Iid); err != nil {
		return nil, err
	}

	modules := newSensor(acc, sensorOpts{
		suffix:     "Module Count",
		kind:       "module_count",
		icon:       IconBridModuleCount,
		places:     DisplayPlacesVerbatim,
		watched:    []string{UUIDBridNumberOfModules},
		translator: &IntTranslator{},

		mirror: func(m *mirrorAccessory) *mirroredChar {
			c := newBridModuleCountCharacteristic()
			m.purifierService().AddC(c.C)
			return &mirroredChar{C: c.C}
		},
	})
	if err := modules.setup(rec.Iid); err != nil {
		return nil, err
	}

	return []Binding{mode, modules}, nil
}

func init() {
	RegisterCreateBindingHandler("air-purifier", createAirPurifierSensors)
}
