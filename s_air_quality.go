package bridair

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

// air quality levels outside AirQualityLevels display as unrepresented,
// and are mirrored to HomeKit as unknown
func createAirQualitySensor(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	s := newSensor(acc, sensorOpts{
		suffix:     "Air Quality",
		kind:       "air_quality",
		icon:       IconAirQuality,
		places:     DisplayPlacesVerbatim,
		watched:    []string{UUIDAirQuality},
		translator: &EnumTranslator{AirQualityLevels},

		mirror: func(m *mirrorAccessory) *mirroredChar {
			s := service.NewAirQualitySensor()
			m.addService(s.S)
			return &mirroredChar{C: s.AirQuality.C, Unknown: characteristic.AirQualityUnknown}
		},
	})
	if err := s.setup(rec.Iid); err != nil {
		return nil, err
	}
	return []Binding{s}, nil
}

func createCarbonMonoxideSensor(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	s := newSensor(acc, sensorOpts{
		suffix:      "Carbon Monoxide",
		kind:        "carbon_monoxide",
		icon:        IconCarbonMonoxide,
		unit:        UnitPPM,
		deviceClass: DeviceClassCO,
		places:      DisplayPlacesVerbatim,
		watched:     []string{UUIDCarbonMonoxideLevel},

		mirror: func(m *mirrorAccessory) *mirroredChar {
			s := service.NewCarbonMonoxideSensor()
			lvl := characteristic.NewCarbonMonoxideLevel()
			s.AddC(lvl.C)
			m.addService(s.S)
			return &mirroredChar{C: lvl.C}
		},
	})
	if err := s.setup(rec.Iid); err != nil {
		return nil, err
	}
	return []Binding{s}, nil
}

func init() {
	RegisterCreateBindingHandler("air-quality", createAirQualitySensor)
	RegisterCreateBindingHandler("carbon-monoxide", createCarbonMonoxideSensor)
}
