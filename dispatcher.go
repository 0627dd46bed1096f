package bridair

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

var (
	ErrUnknownDeviceType = fmt.Errorf("unknown device type")
	ErrBindingExists     = fmt.Errorf("bindings already exist")
)

// Bindings created for a single accessory serial
type Device struct {
	Serial   string
	Bindings []Binding

	discovered map[DiscoveryRecord]bool
}

// Turns discovery records into bindings, routes pushed characteristic values
// to them, and owns the set_mode entity registry.
type Dispatcher struct {
	registry *Registry
	putter   Putter

	mu          sync.RWMutex
	accessories map[string][]*Accessory
	devices     map[string]*Device
	pending     map[string][]DiscoveryRecord
	entityIDs   map[string]bool
}

// Creates a Dispatcher that writes back to accessories through p.
func NewDispatcher(p Putter) *Dispatcher {
	return &Dispatcher{
		registry:    NewRegistry(),
		putter:      p,
		accessories: make(map[string][]*Accessory),
		devices:     make(map[string]*Device),
		pending:     make(map[string][]DiscoveryRecord),
		entityIDs:   make(map[string]bool),
	}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Records the accessory database for a serial.
// Discovery records that were waiting on it are resolved, and the bindings
// they created are returned.
func (d *Dispatcher) AddAccessories(serial string, accs []*Accessory) ([]Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range accs {
		a.Serial = serial
		a.putter = d.putter
	}
	d.accessories[serial] = accs

	pending := d.pending[serial]
	delete(d.pending, serial)

	var created []Binding
	var firstErr error
	for _, rec := range pending {
		bindings, err := d.discover(rec)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		created = append(created, bindings...)
	}
	return created, firstErr
}

// Creates the bindings for a discovery record.
// If the accessory database for the serial hasn't been seen, the record is
// kept and ErrUnknownAccessory is returned; AddAccessories will resolve it.
func (d *Dispatcher) Discover(rec DiscoveryRecord) ([]Binding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, known := d.accessories[rec.Serial]; !known {
		if _, ok := createBindingHandlers[rec.DeviceType]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, rec.DeviceType)
		}
		d.pending[rec.Serial] = append(d.pending[rec.Serial], rec)
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccessory, rec.Serial)
	}
	return d.discover(rec)
}

// must be called with d.mu held
func (d *Dispatcher) discover(rec DiscoveryRecord) ([]Binding, error) {
	createFunc, ok := createBindingHandlers[rec.DeviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, rec.DeviceType)
	}

	acc := findAccessory(d.accessories[rec.Serial], rec.Aid)
	if acc == nil {
		return nil, fmt.Errorf("%w: %s aid %d", ErrUnknownAccessory, rec.Serial, rec.Aid)
	}

	dev := d.devices[rec.Serial]
	if dev == nil {
		dev = &Device{Serial: rec.Serial, discovered: make(map[DiscoveryRecord]bool)}
	}
	if dev.discovered[rec] {
		return nil, fmt.Errorf("%w: %s %s", ErrBindingExists, rec.Serial, rec.DeviceType)
	}

	bindings, err := createFunc(acc, &rec)
	if err != nil {
		return nil, fmt.Errorf("creating %s bindings for %s: %w", rec.DeviceType, rec.Serial, err)
	}

	for _, b := range bindings {
		b.assignEntityID(d.uniqueEntityID(b.Name()))

		if m, isMode := b.(*ModeSensor); isMode {
			if err := d.registry.Add(m.EntityID(), m); err != nil {
				return nil, err
			}
		}
	}

	dev.discovered[rec] = true
	dev.Bindings = append(dev.Bindings, bindings...)
	d.devices[rec.Serial] = dev

	return bindings, nil
}

// must be called with d.mu held
func (d *Dispatcher) uniqueEntityID(name string) string {
	base := "sensor." + slugify(name)
	id := base
	for i := 2; d.entityIDs[id]; i++ {
		id = base + "_" + strconv.Itoa(i)
	}
	d.entityIDs[id] = true
	return id
}

// Destroys all bindings of a device, including its registry entries.
// Returns the bindings that were removed.
func (d *Dispatcher) Remove(serial string) []Binding {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.accessories, serial)
	delete(d.pending, serial)

	dev := d.devices[serial]
	if dev == nil {
		return nil
	}
	delete(d.devices, serial)

	for _, b := range dev.Bindings {
		delete(d.entityIDs, b.EntityID())
		if _, isMode := b.(*ModeSensor); isMode {
			d.registry.Remove(b.EntityID())
		}
	}
	return dev.Bindings
}

// Applies pushed characteristic values to the bindings watching them.
// Characteristics are matched on (aid, iid). Returns the bindings that were
// updated, each at most once.
func (d *Dispatcher) HandleEvent(serial string, chars []*Characteristic) []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dev := d.devices[serial]
	if dev == nil {
		return nil
	}

	var updated []Binding
	seen := make(map[Binding]bool)
	for _, c := range chars {
		for _, b := range dev.Bindings {
			if c.Aid != 0 && c.Aid != b.Accessory().Aid {
				continue
			}
			for _, ctype := range b.WatchedCharacteristics() {
				if iid, ok := b.Iid(ctype); !ok || iid != c.Iid {
					continue
				}
				if b.ApplyUpdate(ctype, c.Value) && !seen[b] {
					seen[b] = true
					updated = append(updated, b)
				}
			}
		}
	}
	return updated
}

// Sets the mode of the purifier registered under entityID
func (d *Dispatcher) SetMode(ctx context.Context, entityID string, mode any) (*ModeSensor, error) {
	m, err := d.registry.Lookup(entityID)
	if err != nil {
		return nil, err
	}
	return m, m.SetMode(ctx, mode)
}

// Returns the device for a serial, or nil
func (d *Dispatcher) Device(serial string) *Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.devices[serial]
}

// Returns all devices with bindings
func (d *Dispatcher) Devices() []*Device {
	d.mu.RLock()
	defer d.mu.RUnlock()

	devs := make([]*Device, 0, len(d.devices))
	for _, dev := range d.devices {
		devs = append(devs, dev)
	}
	return devs
}

// Number of records waiting on an accessory database
func (d *Dispatcher) NumPending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, recs := range d.pending {
		n += len(recs)
	}
	return n
}
