package bridair

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Characteristic types, in canonical (upper-case, full UUID) form.
// These are the wire contract with the purifier and must not change.
const (
	UUIDRelativeHumidity         = "00000010-0000-1000-8000-0026BB765291"
	UUIDAirQuality               = "00000095-0000-1000-8000-0026BB765291"
	UUIDFilterChangeIndication   = "000000AC-0000-1000-8000-0026BB765291"
	UUIDFilterLifeLevel          = "000000AB-0000-1000-8000-0026BB765291"
	UUIDCarbonMonoxideLevel      = "00000090-0000-1000-8000-0026BB765291"
	UUIDCarbonMonoxideDetected   = "00000069-0000-1000-8000-0026BB765291"
	UUIDTemperatureCurrent       = "00000011-0000-1000-8000-0026BB765291"
	UUIDBridMode                 = "34ACFBA1-D9FB-11E7-8F1A-0800200C9A66"
	UUIDBridNumberOfModules      = "65DFBA32-EBD2-11E7-8F1A-0800200C9A66"
	UUIDAccessoryInformationName = "00000023-0000-1000-8000-0026BB765291"
)

// suffix shared by all Apple-defined HAP types
const hapBaseUUIDSuffix = "-0000-1000-8000-0026BB765291"

const (
	IconAirQuality        = "mdi:air-purifier"
	IconBridMode          = "mdi:dip-switch"
	IconBridNWFFilter     = "mdi:air-filter"
	IconBridHoneycomb     = "mdi:hexagon-multiple"
	IconBridModuleCount   = "mdi:database"
	IconTemperature       = "mdi:thermometer"
	IconHumidity          = "mdi:water-percent"
	IconCarbonMonoxide    = "mdi:skull-crossbones"
	NWFFilterDescription  = "NWF Filter Life Level"
	UnitPercent           = "%"
	UnitPPM               = "ppm"
	UnitCelsius           = "°C"
	DeviceClassHumidity   = "humidity"
	DeviceClassTemp       = "temperature"
	DeviceClassCO         = "co"
	DisplayPlacesRounded  = 1
	DisplayPlacesVerbatim = -1
)

// Brid purifier operating modes
var BridModes = map[int]string{
	0: "Off",
	1: "Smart",
	2: "Auto",
	3: "Boost",
	4: "Night",
}

// HomeKit air quality levels
var AirQualityLevels = map[int]string{
	0: "Unknown",
	1: "Excellent",
	2: "Good",
	3: "Fair",
	4: "Inferior",
	5: "Poor",
}

// Converts a characteristic type into canonical form.
// Accepts both the HAP short form ("AB", "10") used by Apple-defined types
// and full UUIDs in any case.
func CanonicalType(t string) (string, error) {
	t = strings.TrimSpace(t)
	if l := len(t); l > 0 && l <= 8 && !strings.Contains(t, "-") {
		t = strings.Repeat("0", 8-l) + t + hapBaseUUIDSuffix
	}

	u, err := uuid.Parse(t)
	if err != nil {
		return "", fmt.Errorf("invalid characteristic type %q: %w", t, err)
	}
	return strings.ToUpper(u.String()), nil
}

// Like CanonicalType, but returns the input untouched if it cannot be parsed.
func canonicalTypeOrRaw(t string) string {
	if c, err := CanonicalType(t); err == nil {
		return c
	}
	return t
}
