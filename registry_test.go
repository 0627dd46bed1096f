package bridair

import (
	"errors"
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := &ModeSensor{sensor: newSensor(&Accessory{Serial: TestSerial}, sensorOpts{kind: "mode"})}

	if _, err := r.Lookup("sensor.a"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("want ErrUnknownEntity on empty registry, got %v", err)
	}

	if err := r.Add("sensor.b", m); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("sensor.a", m); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("sensor.a", m); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("want ErrEntityExists, got %v", err)
	}

	if got, err := r.Lookup("sensor.a"); err != nil || got != m {
		t.Fatalf("lookup failed: %v", err)
	}
	if ids := r.EntityIDs(); !slices.Equal(ids, []string{"sensor.a", "sensor.b"}) {
		t.Fatalf("unexpected ids %v", ids)
	}

	if !r.Remove("sensor.a") || r.Remove("sensor.a") {
		t.Fatalf("remove should report whether the entity existed")
	}
	if r.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", r.Len())
	}
}
