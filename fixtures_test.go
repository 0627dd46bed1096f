package bridair

import (
	"context"
	"sync"
	"testing"
)

const TestSerial = "BRID0001"

// accessory database of a Brid purifier with two filters
const BridAccessories = `{
  "accessories": [
    {
      "aid": 1,
      "services": [
        {
          "iid": 1,
          "type": "3E",
          "characteristics": [
            {"iid": 2, "type": "23", "perms": ["pr"], "format": "string", "value": "Brid Air", "description": "Name"},
            {"iid": 3, "type": "30", "perms": ["pr"], "format": "string", "value": "BRID0001", "description": "Serial Number"}
          ]
        },
        {
          "iid": 10,
          "type": "82",
          "characteristics": [
            {"iid": 11, "type": "10", "perms": ["pr", "ev"], "format": "float", "value": 45.5, "description": "Current Relative Humidity"}
          ]
        },
        {
          "iid": 12,
          "type": "8A",
          "characteristics": [
            {"iid": 13, "type": "11", "perms": ["pr", "ev"], "format": "float", "value": 21.264, "description": "Current Temperature"}
          ]
        },
        {
          "iid": 14,
          "type": "8D",
          "characteristics": [
            {"iid": 15, "type": "95", "perms": ["pr", "ev"], "format": "uint8", "value": 2, "description": "Air Quality"}
          ]
        },
        {
          "iid": 16,
          "type": "7F",
          "characteristics": [
            {"iid": 17, "type": "90", "perms": ["pr", "ev"], "format": "float", "value": 3.5, "description": "Carbon Monoxide Level"}
          ]
        },
        {
          "iid": 20,
          "type": "BA",
          "characteristics": [
            {"iid": 21, "type": "AB", "perms": ["pr", "ev"], "format": "float", "value": 48.0, "description": "NWF Filter Life Level"},
            {"iid": 24, "type": "AC", "perms": ["pr", "ev"], "format": "uint8", "value": 0, "description": "Filter Change Indication"}
          ]
        },
        {
          "iid": 22,
          "type": "BA",
          "characteristics": [
            {"iid": 23, "type": "AB", "perms": ["pr", "ev"], "format": "float", "value": 73.25, "description": "Honeycomb Filter"}
          ]
        },
        {
          "iid": 30,
          "type": "BB",
          "characteristics": [
            {"iid": 31, "type": "34ACFBA1-D9FB-11E7-8F1A-0800200C9A66", "perms": ["pr", "pw", "ev"], "format": "uint8", "value": 1, "description": "Mode"},
            {"iid": 32, "type": "65dfba32-ebd2-11e7-8f1a-0800200c9a66", "perms": ["pr", "ev"], "format": "uint8", "value": 2, "description": "Number of Modules"}
          ]
        }
      ]
    }
  ]
}`

// records characteristic writes instead of sending them
type fakePutter struct {
	mu     sync.Mutex
	writes []CharacteristicWrite
	err    error
}

func (p *fakePutter) PutCharacteristics(_ context.Context, _ string, writes []CharacteristicWrite) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.writes = append(p.writes, writes...)
	return nil
}

func (p *fakePutter) Writes() []CharacteristicWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CharacteristicWrite(nil), p.writes...)
}

func testAccessories(t *testing.T) []*Accessory {
	t.Helper()

	accs, err := ParseAccessories(TestSerial, []byte(BridAccessories))
	if err != nil {
		t.Fatalf("cannot parse accessories: %v", err)
	}
	return accs
}

// Returns a dispatcher that knows the test accessory
func testDispatcher(t *testing.T) (*Dispatcher, *fakePutter) {
	t.Helper()

	p := &fakePutter{}
	d := NewDispatcher(p)
	if _, err := d.AddAccessories(TestSerial, testAccessories(t)); err != nil {
		t.Fatalf("cannot add accessories: %v", err)
	}
	return d, p
}

func discover(t *testing.T, d *Dispatcher, deviceType string, iid uint64) []Binding {
	t.Helper()

	bindings, err := d.Discover(DiscoveryRecord{Serial: TestSerial, DeviceType: deviceType, Iid: iid})
	if err != nil {
		t.Fatalf("discover %s failed: %v", deviceType, err)
	}
	return bindings
}
