package geo

import (
	"fmt"
	"math"
)

// FormatDD renders a coordinate pair as plain decimal degrees,
// e.g. "40.7128, -74.0060".
func FormatDD(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}

// FormatDMS renders a coordinate pair in degrees-minutes-seconds notation,
// e.g. `40°42'46.1"N 74°0'21.6"W`.
func FormatDMS(lat, lon float64) string {
	return fmt.Sprintf(`%s %s`, dmsAxis(lat, "N", "S"), dmsAxis(lon, "E", "W"))
}

// FormatDDM renders a coordinate pair in degrees-decimal-minutes notation,
// e.g. "40°42.768'N 74°0.360'W".
func FormatDDM(lat, lon float64) string {
	return fmt.Sprintf("%s %s", ddmAxis(lat, "N", "S"), ddmAxis(lon, "E", "W"))
}

func dmsAxis(value float64, pos, neg string) string {
	hemi := pos
	if value < 0 {
		hemi = neg
		value = -value
	}
	deg := math.Floor(value)
	minutes := (value - deg) * 60
	minWhole := math.Floor(minutes)
	seconds := (minutes - minWhole) * 60
	return fmt.Sprintf(`%d°%d'%.1f"%s`, int(deg), int(minWhole), seconds, hemi)
}

func ddmAxis(value float64, pos, neg string) string {
	hemi := pos
	if value < 0 {
		hemi = neg
		value = -value
	}
	deg := math.Floor(value)
	minutes := (value - deg) * 60
	return fmt.Sprintf("%d°%.3f'%s", int(deg), minutes, hemi)
}
