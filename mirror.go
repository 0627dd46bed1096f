package bridair

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"regexp"
)

// Called when HomeKit writes a new mode to a mirrored purifier
type setModeFunc func(m *ModeSensor, mode any) error

// Creates the HAP service for a binding, adding it to the mirror accessory,
// and returns the characteristic that carries the binding's raw value.
// These functions are set by the create handlers in sensorOpts.mirror
type mirrorFunc func(m *mirrorAccessory) *mirroredChar

// A HAP characteristic mirroring a Binding
type mirroredChar struct {
	C *characteristic.C

	// value shown while the binding has no display state; if nil, the
	// characteristic keeps its last value
	Unknown any

	// called after every sync
	Synced func()
}

// A HAP accessory mirroring the bindings of one Device.
type mirrorAccessory struct {
	A     *accessory.A
	chars map[Binding]*mirroredChar

	setMode setModeFunc
	accTyp  byte
	svcs    []*service.S

	// purifier service, shared by the mode and module count bindings
	purifier *service.AirPurifier
}

// Derives a stable HAP accessory id from the serial.
// Id 1 is reserved for the bridge itself.
func mirrorAccessoryID(serial string) uint64 {
	h := fnv.New32a()
	h.Write([]byte(serial))
	return uint64(h.Sum32()) + 2
}

func newMirrorAccessory(dev *Device, setMode setModeFunc) *mirrorAccessory {
	name := dev.Serial
	if len(dev.Bindings) > 0 {
		name = dev.Bindings[0].Accessory().Name()
	}

	m := &mirrorAccessory{
		chars:   make(map[Binding]*mirroredChar),
		setMode: setMode,
		accTyp:  accessory.TypeSensor,
	}

	for _, b := range dev.Bindings {
		if mirror := b.hapMirror(); mirror != nil {
			if mc := mirror(m); mc != nil {
				m.chars[b] = mc
			}
		}
	}

	if m.purifier != nil {
		m.svcs = append([]*service.S{m.purifier.S}, m.svcs...)
	}

	m.A = accessory.New(accessory.Info{
		Name:         name,
		SerialNumber: dev.Serial,
		Manufacturer: "Brid",
		Model:        "Air Purifier",
	}, m.accTyp)
	m.A.Id = mirrorAccessoryID(dev.Serial)

	for _, s := range m.svcs {
		m.A.AddS(s)
	}

	for b := range m.chars {
		m.sync(b)
	}

	return m
}

func (m *mirrorAccessory) addService(s *service.S) { m.svcs = append(m.svcs, s) }

func (m *mirrorAccessory) purifierService() *service.AirPurifier {
	if m.purifier == nil {
		m.purifier = service.NewAirPurifier()
		m.accTyp = accessory.TypeAirPurifier
	}
	return m.purifier
}

// Copies the binding's raw value into its HAP characteristic.
// Values without a display state are never mirrored, since HAP would clamp
// them into some other valid value.
func (m *mirrorAccessory) sync(b Binding) {
	mc, ok := m.chars[b]
	if !ok {
		return
	}

	if b.DisplayState() == nil {
		if mc.Unknown != nil {
			mc.C.SetValueRequest(mc.Unknown, nil)
		}
	} else {
		for _, raw := range b.RawValues() {
			v, ok := toCharacteristicFormat(raw, mc.C.Format)
			if !ok {
				continue
			}
			if _, errCode := mc.C.SetValueRequest(v, nil); errCode != 0 {
				log.Printf("unable to mirror %s value %v: %d", b.EntityID(), raw, errCode)
			}
		}
	}

	if mc.Synced != nil {
		mc.Synced()
	}
}

func toCharacteristicFormat(v any, cfmt string) (any, bool) {
	if cfmt == characteristic.FormatFloat {
		return valToFloat64(v)
	}
	return valToInt(v)
}

var (
	accPermsFormattingRE = regexp.MustCompile(`(?isU)"perms":\s*\[.*\]`)
	accPermsWhitespaceRE = regexp.MustCompile(`( \[|,)?\s*(\S)(\])?`)
)

// Renders the Accessory structure as indented JSON
func dumpAccessory(acc *accessory.A) ([]byte, error) {
	s, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return nil, err
	}

	// performs some formatting to keep "perms" on a single-line to reduce space
	s = accPermsFormattingRE.ReplaceAllFunc(s, func(s []byte) []byte {
		return accPermsWhitespaceRE.ReplaceAll(s, []byte("$1$2$3"))
	})
	return s, nil
}

func (m *mirrorAccessory) String() string {
	return fmt.Sprintf("{aid %d, %d bindings}", m.A.Id, len(m.chars))
}
