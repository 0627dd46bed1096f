package bridair

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

// Filter life sensor. The purifier reports one filter-maintenance service per
// filter, distinguished only by the characteristic description.
type FilterSensor struct {
	*sensor
	filterType string
}

func createFilterSensor(acc *Accessory, rec *DiscoveryRecord) ([]Binding, error) {
	f := &FilterSensor{
		sensor: newSensor(acc, sensorOpts{
			suffix:     "Filter Change",
			kind:       "filter",
			unit:       UnitPercent,
			places:     DisplayPlacesRounded,
			watched:    []string{UUIDFilterLifeLevel},
			translator: &RoundingTranslator{DisplayPlacesRounded},
		}),
	}
	f.onSetup = func(c *Characteristic) { f.filterType = c.Description }
	f.mirror = f.mirrorService

	if err := f.setup(rec.Iid); err != nil {
		return nil, err
	}
	return []Binding{f}, nil
}

func (f *FilterSensor) mirrorService(m *mirrorAccessory) *mirroredChar {
	s := service.NewFilterMaintenance()
	life := characteristic.NewFilterLifeLevel()
	s.AddC(life.C)

	// label the filter, since a purifier can have several
	if f.filterType != "" {
		n := characteristic.NewName()
		n.SetValue(f.filterType)
		s.AddC(n.C)
	}

	m.addService(s.S)
	return &mirroredChar{C: life.C}
}

func (f *FilterSensor) FilterType() string { return f.filterType }

func (f *FilterSensor) Name() string {
	if f.filterType == "" {
		return f.sensor.Name()
	}
	return f.acc.Name() + " " + f.filterType + " " + f.suffix
}

func (f *FilterSensor) UniqueID() string {
	if slug := slugify(f.filterType); slug != "" {
		return f.acc.Serial + "_" + slug
	}
	return f.sensor.UniqueID()
}

// Only the NWF filter is matched exactly; anything else, including the
// honeycomb filter, gets the honeycomb icon.
func (f *FilterSensor) DisplayIcon() string {
	if f.filterType == NWFFilterDescription {
		return IconBridNWFFilter
	}
	return IconBridHoneycomb
}

func init() {
	RegisterCreateBindingHandler("filter-maintenance", createFilterSensor)
}
