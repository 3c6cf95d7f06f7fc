package air

import "github.com/mklimuk/fanmon/sensor"

const MeasurementAirQuality = "air_quality"

// TVOC is a total volatile organic compounds reading.
type TVOC struct {
	PPB   float64
	Valid bool
}

func FormatTVOC(r TVOC) sensor.Fields {
	f := sensor.Fields{}
	f.SetFloatIf(r.Valid, "tvoc_ppb", r.PPB)
	return f
}

// Ozone is an outdoor air quality reading.
type Ozone struct {
	AQI      float64
	OzonePPB float64
	NO2PPB   float64
	Valid    bool
	// Compensation inputs, reported when the algorithm used them.
	TempC       float64
	Humidity    float64
	Compensated bool
}

func FormatOzone(r Ozone) sensor.Fields {
	f := sensor.Fields{}
	if !r.Valid {
		return f
	}
	f.SetFloat("aqi", r.AQI)
	f.SetFloat("ozone_ppb", r.OzonePPB)
	f.SetFloat("no2_ppb", r.NO2PPB)
	f.SetFloatIf(r.Compensated, "temp_c", r.TempC)
	f.SetFloatIf(r.Compensated, "humidity", r.Humidity)
	return f
}
