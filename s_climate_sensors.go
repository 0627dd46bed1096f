package bridair

import (
	"github.com/brutella/hap/service"
)

func createHumiditySensor(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	s := newSensor(acc, sensorOpts{
		suffix:      "Humidity",
		kind:        "humidity",
		icon:        IconHumidity,
		unit:        UnitPercent,
		deviceClass: DeviceClassHumidity,
		places:      DisplayPlacesVerbatim,
		watched:     []string{UUIDRelativeHumidity},

		mirror: func(m *mirrorAccessory) *mirroredChar {
			s := service.NewHumiditySensor()
			s.CurrentRelativeHumidity.SetStepValue(0.1)
			m.addService(s.S)
			return &mirroredChar{C: s.CurrentRelativeHumidity.C}
		},
	})
	if err := s.setup(rec.Iid); err != nil {
		return nil, err
	}
	return []Binding{s}, nil
}

func createTemperatureSensor(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	s := newSensor(acc, sensorOpts{
		suffix:      "Temperature",
		kind:        "temperature",
		icon:        IconTemperature,
		unit:        UnitCelsius,
		deviceClass: DeviceClassTemp,
		places:      DisplayPlacesRounded,
		watched:     []string{UUIDTemperatureCurrent},
		translator:  &RoundingTranslator{DisplayPlacesRounded},

		mirror: func(m *mirrorAccessory) *mirroredChar {
			s := service.NewTemperatureSensor()
			s.CurrentTemperature.SetMinValue(-40)
			s.CurrentTemperature.SetStepValue(0.1)
			m.addService(s.S)
			return &mirroredChar{C: s.CurrentTemperature.C}
		},
	})
	if err := s.setup(rec.Iid); err != nil {
		return nil, err
	}
	return []Binding{s}, nil
}

func init() {
	RegisterCreateBindingHandler("humidity", createHumiditySensor)
	RegisterCreateBindingHandler("temperature", createTemperatureSensor)
}
