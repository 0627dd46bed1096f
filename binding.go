package bridair

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Discovery record naming an accessory and the kind of sensor(s) to create.
// Iid optionally scopes the binding to a single service of the accessory.
type DiscoveryRecord struct {
	Serial     string `json:"serial"`
	DeviceType string `json:"device-type"`
	Aid        uint64 `json:"aid,omitempty"`
	Iid        uint64 `json:"iid,omitempty"`
}

// A sensor entity bound to one or more characteristics of an Accessory.
// The displayed state is always derived from the latest raw value received.
type Binding interface {
	Name() string
	UniqueID() string
	EntityID() string
	Accessory() *Accessory

	// characteristic types the binding is interested in
	WatchedCharacteristics() []string

	// Applies a raw value pushed for a characteristic type.
	// Returns false if the binding doesn't watch that type.
	ApplyUpdate(ctype string, raw any) bool

	// Returns the instance id of a watched characteristic
	Iid(ctype string) (uint64, bool)

	// Returns the latest raw values, keyed by characteristic type
	RawValues() map[string]any

	DisplayState() any
	DisplayUnit() string
	DisplayIcon() string
	DeviceClass() string

	// number of decimal places for numeric states, or DisplayPlacesVerbatim
	DisplayPrecision() int

	// builds the HAP side of the binding, nil if it isn't mirrored
	hapMirror() mirrorFunc

	assignEntityID(id string)
}

// Describes the fixed parts of a sensor binding
type sensorOpts struct {
	suffix      string
	kind        string
	icon        string
	unit        string
	deviceClass string
	places      int
	watched     []string
	translator  ValueTranslator
	mirror      mirrorFunc
}

// Common implementation of Binding for single-characteristic sensors
type sensor struct {
	sensorOpts

	acc      *Accessory
	entityID string
	iids     map[string]uint64

	// called for each watched characteristic found during setup
	onSetup func(c *Characteristic)

	// guards raw; a push and a write-back may race, last one wins
	mu     sync.RWMutex
	raw    any
	hasRaw bool
}

func newSensor(acc *Accessory, opts sensorOpts) *sensor {
	if opts.translator == nil {
		opts.translator = defaultTranslator
	}
	return &sensor{
		sensorOpts: opts,
		acc:        acc,
		iids:       make(map[string]uint64),
	}
}

// Resolves instance ids of the watched characteristics within the given
// service (0 for any), seeding the raw value from the accessory database.
func (s *sensor) setup(serviceIid uint64) error {
	for _, c := range s.acc.Characteristics(serviceIid) {
		if !slices.Contains(s.watched, c.Type) {
			continue
		}
		if _, dup := s.iids[c.Type]; dup {
			continue
		}

		s.iids[c.Type] = c.Iid
		if s.onSetup != nil {
			s.onSetup(c)
		}
		if c.Value != nil {
			s.ApplyUpdate(c.Type, c.Value)
		}
	}

	if len(s.iids) == 0 {
		return fmt.Errorf("%w: no %s characteristic on accessory %s",
			ErrMissingCharacteristic, s.kind, s.acc.Serial)
	}
	return nil
}

var ErrMissingCharacteristic = fmt.Errorf("characteristic not found")

func (s *sensor) Name() string          { return s.acc.Name() + " " + s.suffix }
func (s *sensor) UniqueID() string      { return s.acc.Serial + "_" + s.kind }
func (s *sensor) EntityID() string      { return s.entityID }
func (s *sensor) Accessory() *Accessory { return s.acc }
func (s *sensor) DisplayUnit() string   { return s.unit }
func (s *sensor) DisplayIcon() string   { return s.icon }
func (s *sensor) DeviceClass() string   { return s.deviceClass }
func (s *sensor) DisplayPrecision() int { return s.places }

func (s *sensor) WatchedCharacteristics() []string { return slices.Clone(s.watched) }

func (s *sensor) assignEntityID(id string) { s.entityID = id }
func (s *sensor) hapMirror() mirrorFunc    { return s.mirror }

func (s *sensor) Iid(ctype string) (uint64, bool) {
	iid, ok := s.iids[ctype]
	return iid, ok
}

func (s *sensor) ApplyUpdate(ctype string, raw any) bool {
	if !slices.Contains(s.watched, ctype) {
		return false
	}

	s.mu.Lock()
	s.raw, s.hasRaw = raw, true
	s.mu.Unlock()
	return true
}

func (s *sensor) RawValues() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasRaw {
		return nil
	}
	return map[string]any{s.watched[0]: s.raw}
}

// Returns the display value, or nil if there is none.
// Values that cannot be translated (e.g. out-of-range enums) are nil too.
func (s *sensor) DisplayState() any {
	s.mu.RLock()
	raw, ok := s.raw, s.hasRaw
	s.mu.RUnlock()

	if !ok || raw == nil {
		return nil
	}

	v, err := s.translator.ToDisplayValue(raw)
	if err != nil {
		return nil
	}
	return v
}

// Formats the binding's display state for publishing.
// Unrepresented states are an empty string.
func StateString(b Binding) string {
	v := b.DisplayState()
	if v == nil {
		return ""
	}

	if places := b.DisplayPrecision(); places >= 0 {
		if f, ok := valToFloat64(v); ok {
			return strconv.FormatFloat(f, 'f', places, 64)
		}
	}

	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Converts a name to an entity id slug, e.g. "Brid Air Purifier Mode" -> "brid_air_purifier_mode"
func slugify(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

//////////////////////////////

// Function that creates bindings from an accessory and its discovery record.
// These functions are registered using RegisterCreateBindingHandler()
type CreateBindingFunc func(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error)

// registered createBinding handlers, keyed by device type
var createBindingHandlers = make(map[string]CreateBindingFunc)

// Registers a CreateBindingFunc for a device type
func RegisterCreateBindingHandler(deviceType string, f CreateBindingFunc) {
	createBindingHandlers[deviceType] = f
}

// Returns the device types that have a registered handler
func SupportedDeviceTypes() []string {
	var types []string
	for t := range createBindingHandlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
