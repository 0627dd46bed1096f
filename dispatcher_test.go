package bridair

import (
	"context"
	"errors"
	"testing"
)

func TestDiscoverAirPurifierRegistersMode(t *testing.T) {
	d, _ := testDispatcher(t)
	bindings := discover(t, d, "air-purifier", 0)

	if len(bindings) != 2 {
		t.Fatalf("want exactly 2 bindings, got %d", len(bindings))
	}

	mode := bindings[0]
	if mode.EntityID() != "sensor.brid_air_mode" {
		t.Fatalf("unexpected entity id %q", mode.EntityID())
	}
	if bindings[1].EntityID() != "sensor.brid_air_module_count" {
		t.Fatalf("unexpected entity id %q", bindings[1].EntityID())
	}

	m, err := d.Registry().Lookup(mode.EntityID())
	if err != nil {
		t.Fatalf("mode binding not registered: %v", err)
	}
	if Binding(m) != mode {
		t.Fatalf("registry returned a different binding")
	}

	// only the mode is a set_mode target
	if d.Registry().Len() != 1 {
		t.Fatalf("want 1 registry entry, got %v", d.Registry().EntityIDs())
	}
}

func TestDiscoverUnknownDeviceType(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: "light"})
	if !errors.Is(err, ErrUnknownDeviceType) {
		t.Fatalf("want ErrUnknownDeviceType, got %v", err)
	}

	// unknown types aren't queued either
	_, err = d.Discover(DiscoveryRecord{Serial: "OTHER", DeviceType: "light"})
	if !errors.Is(err, ErrUnknownDeviceType) || d.NumPending() != 0 {
		t.Fatalf("want ErrUnknownDeviceType and no pending records, got %v, %d", err, d.NumPending())
	}
}

func TestDiscoverDuplicate(t *testing.T) {
	d, _ := testDispatcher(t)
	discover(t, d, "humidity", 0)

	_, err := d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: "humidity"})
	if !errors.Is(err, ErrBindingExists) {
		t.Fatalf("want ErrBindingExists, got %v", err)
	}
}

func TestDiscoverBeforeAccessories(t *testing.T) {
	d := NewDispatcher(&fakePutter{})

	_, err := d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: "temperature"})
	if !errors.Is(err, ErrUnknownAccessory) {
		t.Fatalf("want ErrUnknownAccessory, got %v", err)
	}
	_, err = d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: "air-purifier"})
	if !errors.Is(err, ErrUnknownAccessory) {
		t.Fatalf("want ErrUnknownAccessory, got %v", err)
	}
	if d.NumPending() != 2 {
		t.Fatalf("want 2 pending records, got %d", d.NumPending())
	}

	bindings, err := d.AddAccessories(TestSerial, testAccessories(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 3 {
		t.Fatalf("want 3 bindings from pending records, got %d", len(bindings))
	}
	if d.NumPending() != 0 {
		t.Fatalf("pending records not cleared")
	}
	if d.Registry().Len() != 1 {
		t.Fatalf("mode binding not registered")
	}
}

func TestUniqueEntityIDs(t *testing.T) {
	d, _ := testDispatcher(t)

	// same device type on both filter services
	a := discover(t, d, "filter-maintenance", 20)[0]
	b := discover(t, d, "filter-maintenance", 22)[0]
	if a.EntityID() == b.EntityID() {
		t.Fatalf("entity ids collide: %s", a.EntityID())
	}

	accs, err := ParseAccessories("BRID0002", []byte(BridAccessories))
	if err != nil {
		t.Fatal(err)
	}
	d.AddAccessories("BRID0002", accs)

	first := discover(t, d, "humidity", 0)[0]
	second, err := d.Discover(DiscoveryRecord{Serial: "BRID0002", DeviceType: "humidity"})
	if err != nil {
		t.Fatal(err)
	}

	if first.EntityID() != "sensor.brid_air_humidity" || second[0].EntityID() != "sensor.brid_air_humidity_2" {
		t.Fatalf("unexpected entity ids %q %q", first.EntityID(), second[0].EntityID())
	}
}

func TestHandleEvent(t *testing.T) {
	d, _ := testDispatcher(t)
	temp := discover(t, d, "temperature", 0)[0]
	mode := discover(t, d, "air-purifier", 0)[0]

	chars, err := ParseCharacteristicEvent([]byte(`{"characteristics": [
		{"aid": 1, "iid": 13, "value": 22.26},
		{"aid": 1, "iid": 31, "value": 4},
		{"aid": 1, "iid": 99, "value": 1},
		{"aid": 2, "iid": 13, "value": 0}
	]}`))
	if err != nil {
		t.Fatal(err)
	}

	updated := d.HandleEvent(TestSerial, chars)
	if len(updated) != 2 {
		t.Fatalf("want 2 updated bindings, got %d", len(updated))
	}

	if StateString(temp) != "22.3" {
		t.Errorf("temperature: want 22.3, got %s", StateString(temp))
	}
	if mode.DisplayState() != "Night" {
		t.Errorf("mode: want Night, got %v", mode.DisplayState())
	}

	// pushed modes outside the table degrade, and don't fail
	chars[1].Value = 9.0
	d.HandleEvent(TestSerial, chars[1:2])
	if mode.DisplayState() != nil {
		t.Errorf("mode 9: want unrepresented, got %v", mode.DisplayState())
	}

	if updated := d.HandleEvent("UNKNOWN", chars); updated != nil {
		t.Fatalf("unknown serial should not update anything")
	}
}

func TestRemoveDevice(t *testing.T) {
	d, _ := testDispatcher(t)
	discover(t, d, "humidity", 0)
	mode := discover(t, d, "air-purifier", 0)[0]

	removed := d.Remove(TestSerial)
	if len(removed) != 3 {
		t.Fatalf("want 3 removed bindings, got %d", len(removed))
	}

	if _, err := d.Registry().Lookup(mode.EntityID()); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("mode still registered after removal: %v", err)
	}
	if d.Device(TestSerial) != nil {
		t.Fatalf("device still present after removal")
	}

	// the accessory database went with it
	_, err := d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: "humidity"})
	if !errors.Is(err, ErrUnknownAccessory) {
		t.Fatalf("want ErrUnknownAccessory after removal, got %v", err)
	}

	// entity ids can be reused
	d.AddAccessories(TestSerial, testAccessories(t))
	again := discover(t, d, "air-purifier", 0)[0]
	if again.EntityID() != mode.EntityID() {
		t.Fatalf("want entity id %s reused, got %s", mode.EntityID(), again.EntityID())
	}
}

func TestDispatcherSetMode(t *testing.T) {
	d, p := testDispatcher(t)
	mode := discover(t, d, "air-purifier", 0)[0]

	m, err := d.SetMode(context.Background(), mode.EntityID(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if m.DisplayState() != "Boost" || len(p.Writes()) != 1 {
		t.Fatalf("unexpected state %v after %d writes", m.DisplayState(), len(p.Writes()))
	}

	if _, err := d.SetMode(context.Background(), "sensor.nope", 3); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("want ErrUnknownEntity, got %v", err)
	}
	if len(p.Writes()) != 1 {
		t.Fatalf("unknown entity should not write")
	}
}
