package bridair

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/brutella/hap/characteristic"
)

func testDevice(t *testing.T) *Device {
	t.Helper()

	d, _ := testDispatcher(t)
	for _, dt := range []string{"humidity", "temperature", "air-quality", "carbon-monoxide", "air-purifier"} {
		discover(t, d, dt, 0)
	}
	discover(t, d, "filter-maintenance", 20)
	discover(t, d, "filter-maintenance", 22)

	return d.Device(TestSerial)
}

func TestMirrorAccessory(t *testing.T) {
	dev := testDevice(t)

	m := newMirrorAccessory(dev, func(*ModeSensor, any) error { return nil })
	if m.A.Id != mirrorAccessoryID(TestSerial) || m.A.Id < 2 {
		t.Fatalf("unexpected accessory id %d", m.A.Id)
	}
	if len(m.chars) != len(dev.Bindings) {
		t.Fatalf("want %d mirrored bindings, got %d", len(dev.Bindings), len(m.chars))
	}
	if m.purifier == nil {
		t.Fatalf("purifier service not created")
	}

	for _, b := range dev.Bindings {
		switch b.UniqueID() {
		case TestSerial + "_mode":
			if v, _ := valToInt(m.chars[b].C.Val); v != 1 {
				t.Errorf("mode: want 1, got %v", m.chars[b].C.Val)
			}
		case TestSerial + "_module_count", TestSerial + "_air_quality":
			if v, _ := valToInt(m.chars[b].C.Val); v != 2 {
				t.Errorf("%s: want 2, got %v", b.UniqueID(), m.chars[b].C.Val)
			}
		}
	}

	if m.purifier.Active.Value() != characteristic.ActiveActive {
		t.Errorf("purifier should be active in mode 1")
	}
	if m.purifier.CurrentAirPurifierState.Value() != characteristic.CurrentAirPurifierStatePurifyingAir {
		t.Errorf("purifier should be purifying in mode 1")
	}
}

func TestMirrorSync(t *testing.T) {
	dev := testDevice(t)
	m := newMirrorAccessory(dev, func(*ModeSensor, any) error { return nil })

	var mode *ModeSensor
	for _, b := range dev.Bindings {
		if ms, ok := b.(*ModeSensor); ok {
			mode = ms
		}
	}

	// a push of Off turns the purifier off
	mode.ApplyUpdate(UUIDBridMode, 0.0)
	m.sync(mode)

	if v, ok := valToInt(m.chars[mode].C.Val); !ok || v != 0 {
		t.Fatalf("mode not synced, got %v", m.chars[mode].C.Val)
	}
	if m.purifier.Active.Value() != characteristic.ActiveInactive {
		t.Errorf("purifier should be inactive in mode 0")
	}
	if m.purifier.CurrentAirPurifierState.Value() != characteristic.CurrentAirPurifierStateInactive {
		t.Errorf("purifier state should be inactive in mode 0")
	}

	// bindings of other devices are ignored
	other := &ModeSensor{sensor: newSensor(&Accessory{Serial: "OTHER"}, sensorOpts{kind: "mode", watched: []string{UUIDBridMode}})}
	m.sync(other)
}

func TestMirrorHomeKitWrites(t *testing.T) {
	dev := testDevice(t)

	var (
		gotMode *ModeSensor
		gotVals []int
		fail    error
	)
	m := newMirrorAccessory(dev, func(ms *ModeSensor, v any) error {
		gotMode = ms
		i, _ := valToInt(v)
		gotVals = append(gotVals, i)
		return fail
	})

	var modeC *characteristic.C
	for b, c := range m.chars {
		if _, ok := b.(*ModeSensor); ok {
			modeC = c.C
		}
	}

	req := &http.Request{}

	modeC.SetValueRequest(3, req)
	if gotMode == nil || len(gotVals) != 1 || gotVals[0] != 3 {
		t.Fatalf("mode write not forwarded: %v", gotVals)
	}

	m.purifier.Active.SetValueRequest(characteristic.ActiveInactive, req)
	m.purifier.Active.SetValueRequest(characteristic.ActiveActive, req)
	if len(gotVals) != 3 || gotVals[1] != 0 || gotVals[2] != 2 {
		t.Fatalf("active writes should map to Off and Auto, got %v", gotVals)
	}

	// local updates are not written back
	modeC.SetValueRequest(1, nil)
	if len(gotVals) != 3 {
		t.Fatalf("local update was written back")
	}

	fail = errors.New("link down")
	if _, code := modeC.SetValueRequest(4, req); code == 0 {
		t.Fatalf("failed write should report an error status")
	}
}

func TestMirrorUnmappedValues(t *testing.T) {
	dev := testDevice(t)
	m := newMirrorAccessory(dev, func(*ModeSensor, any) error { return nil })

	var mode, aq Binding
	for _, b := range dev.Bindings {
		switch b.UniqueID() {
		case TestSerial + "_mode":
			mode = b
		case TestSerial + "_air_quality":
			aq = b
		}
	}

	// mode 3 first, so a clamped 7 would show up as 4
	mode.ApplyUpdate(UUIDBridMode, 3.0)
	m.sync(mode)

	for _, test := range []struct {
		b    Binding
		raw  any
		want int
	}{
		{mode, 7.0, 3},
		{aq, 6.0, characteristic.AirQualityUnknown},
		{aq, -1.0, characteristic.AirQualityUnknown},
	} {
		test.b.ApplyUpdate(test.b.WatchedCharacteristics()[0], test.raw)
		m.sync(test.b)

		if test.b.DisplayState() != nil {
			t.Fatalf("%s %v: expected no display state", test.b.UniqueID(), test.raw)
		}
		if v, _ := valToInt(m.chars[test.b].C.Val); v != test.want {
			t.Errorf("%s %v: want HomeKit value %d, got %v", test.b.UniqueID(), test.raw, test.want, m.chars[test.b].C.Val)
		}
	}

	// an unrepresented mode isn't shown as running
	if m.purifier.Active.Value() != characteristic.ActiveInactive {
		t.Errorf("purifier should be inactive in mode 7")
	}

	// mapped values are mirrored again
	aq.ApplyUpdate(UUIDAirQuality, 4.0)
	m.sync(aq)
	if v, _ := valToInt(m.chars[aq].C.Val); v != 4 {
		t.Errorf("air quality: want 4, got %v", m.chars[aq].C.Val)
	}
}

var multilinePermsRE = regexp.MustCompile(`"perms":\s*\[\s*\n`)

func TestDumpAccessory(t *testing.T) {
	m := newMirrorAccessory(testDevice(t), func(*ModeSensor, any) error { return nil })

	s, err := dumpAccessory(m.A)
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(s) {
		t.Fatalf("dump is not valid JSON: %s", s)
	}
	if multilinePermsRE.Match(s) {
		t.Errorf("perms should be on a single line: %s", s)
	}
}
