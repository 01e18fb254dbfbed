package rflink

import (
	"fmt"
	"strconv"
)

// packetFields maps the gateway's abbreviated field names to the normalized
// long names used in decoded packets and event ids.
var packetFields = map[string]string{
	"awinsp":    "average_windspeed",
	"baro":      "barometric_pressure",
	"bat":       "battery",
	"bforecast": "weather_forecast",
	"chime":     "doorbell_melody",
	"cmd":       "command",
	"co2":       "co2_air_quality",
	"current":   "current_phase_1",
	"current2":  "current_phase_2",
	"current3":  "current_phase_3",
	"dist":      "distance",
	"fw":        "firmware",
	"hstatus":   "humidity_status",
	"hum":       "humidity",
	"hw":        "hardware",
	"kwatt":     "kilowatt",
	"lux":       "light_intensity",
	"meter":     "meter_value",
	"rain":      "total_rain",
	"rainrate":  "rain_rate",
	"raintot":   "total_rain",
	"rev":       "revision",
	"sound":     "noise_level",
	"temp":      "temperature",
	"uv":        "uv_intensity",
	"ver":       "version",
	"volt":      "voltage",
	"watt":      "watt",
	"winchl":    "windchill",
	"windir":    "winddirection",
	"wings":     "windgusts",
	"winsp":     "windspeed",
	"wintmp":    "windtemp",
}

// fieldAbbrev is the reverse of packetFields, used to build event id
// suffixes. Where two abbreviations share a long name (rain/raintot) the
// lexicographically smallest abbreviation wins, keeping ids deterministic.
var fieldAbbrev = func() map[string]string {
	m := make(map[string]string, len(packetFields))
	for abbrev, name := range packetFields {
		if existing, ok := m[name]; !ok || abbrev < existing {
			m[name] = abbrev
		}
	}
	return m
}()

// fieldUnits maps abbreviated field names to their fixed measurement unit.
// Fields whose unit depends on the sensor (baro, dist, meter) have none.
var fieldUnits = map[string]string{
	"awinsp":   "km/h",
	"current":  "A",
	"current2": "A",
	"current3": "A",
	"hum":      "%",
	"kwatt":    "kW",
	"lux":      "lux",
	"rain":     "mm",
	"rainrate": "mm",
	"raintot":  "mm",
	"temp":     "°C",
	"volt":     "v",
	"watt":     "w",
	"winchl":   "°C",
	"windir":   "°",
	"wings":    "km/h",
	"winsp":    "km/h",
	"wintmp":   "°C",
}

// humidityStatus decodes the HSTATUS enumeration.
var humidityStatus = map[string]string{
	"0": "normal",
	"1": "comfortable",
	"2": "dry",
	"3": "wet",
}

// weatherForecast decodes the BFORECAST enumeration.
var weatherForecast = map[string]string{
	"0": "no_info",
	"1": "sunny",
	"2": "partly_cloudy",
	"3": "cloudy",
	"4": "rain",
}

// windDirectionStep is the angular resolution of the WINDIR field: the
// gateway reports a 0-15 compass index, 360/16 degrees per step.
const windDirectionStep = 22.5

// signedHexToFloat converts the gateway's signed fixed-point hex encoding
// to a float: unsigned magnitude in the low 15 bits, sign flag in bit 15,
// scale factor 0.1. Example: "00f1" is 24.1, "800d" is -1.3.
func signedHexToFloat(s string) (float64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse signed hex %q: %w", s, err)
	}
	if v&0x8000 != 0 {
		return -float64(v&0x7FFF) / 10, nil
	}
	return float64(v) / 10, nil
}

// hexToFloatTenth converts an unsigned hex field scaled by 0.1.
func hexToFloatTenth(s string) (any, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("parse hex %q: %w", s, err)
	}
	return float64(v) / 10, nil
}

// hexToInt converts a plain unsigned hex field.
func hexToInt(s string) (any, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("parse hex %q: %w", s, err)
	}
	return int(v), nil
}

// decToInt converts a plain decimal field.
func decToInt(s string) (any, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v, nil
}

// signedTenth adapts signedHexToFloat to the translation signature.
func signedTenth(s string) (any, error) {
	v, err := signedHexToFloat(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// windDirection converts the decimal compass index to degrees.
func windDirection(s string) (any, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("parse wind direction %q: %w", s, err)
	}
	return float64(v) * windDirectionStep, nil
}

// enumLookup builds a translation that maps through an enumeration table,
// falling back to "Unknown" for unlisted values (never an error).
func enumLookup(table map[string]string) func(string) (any, error) {
	return func(s string) (any, error) {
		if v, ok := table[s]; ok {
			return v, nil
		}
		return "Unknown", nil
	}
}

// valueTranslations maps abbreviated field names to their value decoders.
// Fields not listed keep their raw (lowercased) string value. A decoder
// error causes that single field to be skipped, never a decode failure.
var valueTranslations = map[string]func(string) (any, error){
	"awinsp":    hexToFloatTenth,
	"baro":      hexToInt,
	"bforecast": enumLookup(weatherForecast),
	"chime":     decToInt,
	"co2":       decToInt,
	"current":   decToInt,
	"current2":  decToInt,
	"current3":  decToInt,
	"dist":      decToInt,
	"hstatus":   enumLookup(humidityStatus),
	"hum":       decToInt,
	"kwatt":     hexToInt,
	"lux":       hexToInt,
	"meter":     decToInt,
	"rain":      hexToFloatTenth,
	"rainrate":  hexToFloatTenth,
	"raintot":   hexToFloatTenth,
	"sound":     decToInt,
	"temp":      signedTenth,
	"uv":        hexToInt,
	"volt":      decToInt,
	"watt":      hexToInt,
	"winchl":    signedTenth,
	"windir":    windDirection,
	"wings":     hexToFloatTenth,
	"winsp":     hexToFloatTenth,
	"wintmp":    signedTenth,
}
