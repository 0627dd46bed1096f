package bridair

import (
	"context"
	"encoding/json"
	"fmt"
)

var (
	ErrUnknownAccessory = fmt.Errorf("accessory is unknown")
	ErrNoPutter         = fmt.Errorf("accessory has no write path")
)

// Sends characteristic writes to the accessory with the given serial.
// Implementations own any timeout or retry behaviour.
type Putter interface {
	PutCharacteristics(ctx context.Context, serial string, writes []CharacteristicWrite) error
}

// A remote HomeKit accessory, as described by its accessory database.
// The Serial is assigned by whoever delivered the database, and is the key
// used by discovery records.
type Accessory struct {
	Serial   string     `json:"-"`
	Aid      uint64     `json:"aid"`
	Services []*Service `json:"services"`

	putter Putter
}

type Service struct {
	Iid             uint64            `json:"iid"`
	Type            string            `json:"type"`
	Characteristics []*Characteristic `json:"characteristics"`
}

// A single characteristic of an Accessory.
// Value is the raw value as decoded from JSON, so numbers are float64.
type Characteristic struct {
	Aid         uint64   `json:"aid,omitempty"`
	Iid         uint64   `json:"iid"`
	Type        string   `json:"type,omitempty"`
	Perms       []string `json:"perms,omitempty"`
	Format      string   `json:"format,omitempty"`
	Description string   `json:"description,omitempty"`
	Value       any      `json:"value,omitempty"`
}

// Outbound write of a single characteristic value.
// Serialized in the same shape as a HAP PUT /characteristics entry.
type CharacteristicWrite struct {
	Aid   uint64 `json:"aid"`
	Iid   uint64 `json:"iid"`
	Value any    `json:"value"`
}

// HAP wire envelope for characteristic lists, used for events and writes
type characteristicsEnvelope[T any] struct {
	Characteristics []T `json:"characteristics"`
}

// Parses a HAP accessory database ({"accessories": [...]}).
// Characteristic types are canonicalized, and each characteristic is tagged
// with its accessory's aid.
func ParseAccessories(serial string, db []byte) ([]*Accessory, error) {
	var env struct {
		Accessories []*Accessory `json:"accessories"`
	}
	if err := json.Unmarshal(db, &env); err != nil {
		return nil, err
	}

	for _, acc := range env.Accessories {
		acc.Serial = serial
		for _, svc := range acc.Services {
			svc.Type = canonicalTypeOrRaw(svc.Type)
			for _, c := range svc.Characteristics {
				c.Aid = acc.Aid
				c.Type = canonicalTypeOrRaw(c.Type)
			}
		}
	}

	return env.Accessories, nil
}

// Parses a HAP event body ({"characteristics": [...]}).
func ParseCharacteristicEvent(payload []byte) ([]*Characteristic, error) {
	var env characteristicsEnvelope[*Characteristic]
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return env.Characteristics, nil
}

// Writes characteristic values back to the accessory
func (a *Accessory) PutCharacteristics(ctx context.Context, writes []CharacteristicWrite) error {
	if a.putter == nil {
		return ErrNoPutter
	}
	return a.putter.PutCharacteristics(ctx, a.Serial, writes)
}

// Returns the accessory name from the Accessory Information service
func (a *Accessory) Name() string {
	for _, svc := range a.Services {
		for _, c := range svc.Characteristics {
			if c.Type == UUIDAccessoryInformationName {
				if s, ok := c.Value.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return a.Serial
}

// Returns the characteristics of the service with the given iid.
// An iid of 0 returns characteristics across all services.
func (a *Accessory) Characteristics(serviceIid uint64) []*Characteristic {
	var chars []*Characteristic
	for _, svc := range a.Services {
		if serviceIid != 0 && svc.Iid != serviceIid {
			continue
		}
		chars = append(chars, svc.Characteristics...)
	}
	return chars
}

// Picks the accessory by aid from a list. An aid of 0 picks the first one.
func findAccessory(accs []*Accessory, aid uint64) *Accessory {
	for _, a := range accs {
		if aid == 0 || a.Aid == aid {
			return a
		}
	}
	return nil
}
