package geo

import (
	"fmt"
	"math"
)

// WGS84 ellipsoid and Transverse Mercator constants.
const (
	wgs84A = 6378137.0           // semi-major axis, metres
	wgs84F = 1.0 / 298.257223563 // flattening
	utmK0  = 0.9996              // central meridian scale factor
	utmFE  = 500000.0            // false easting, metres
	utmFNS = 10000000.0          // false northing, southern hemisphere
)

var (
	e2  = wgs84F * (2 - wgs84F) // first eccentricity squared
	ep2 = e2 / (1 - e2)         // second eccentricity squared
	e1  = (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
)

// UTMToLatLon converts a UTM grid position to geographic coordinates in
// decimal degrees. The inverse Transverse Mercator expansion follows the
// standard series (Snyder, "Map Projections: A Working Manual", eq. 8-17 ff.)
// and is accurate to well under a metre inside a zone.
func UTMToLatLon(zone int, north bool, easting, northing float64) (lat, lon float64, err error) {
	if zone < 1 || zone > 60 {
		return 0, 0, fmt.Errorf("utm zone %d out of range 1-60", zone)
	}

	y := northing
	if !north {
		y -= utmFNS
	}
	x := easting - utmFE

	m := y / utmK0
	mu := m / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)
	tanPhi1 := math.Tan(phi1)

	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	n1 := wgs84A / math.Sqrt(1-e2*sinPhi1*sinPhi1)
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sinPhi1*sinPhi1, 1.5)
	d := x / (n1 * utmK0)

	latRad := phi1 - (n1*tanPhi1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d*d*d*d/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d*d*d*d*d*d/720)

	lonRad := (d -
		(1+2*t1+c1)*d*d*d/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d*d*d*d*d/120) / cosPhi1

	lon0 := centralMeridian(zone)
	lat = latRad * 180 / math.Pi
	lon = lon0 + lonRad*180/math.Pi

	return lat, lon, nil
}

// LatLonToUTM converts geographic coordinates in decimal degrees to a UTM
// grid position. The forward Transverse Mercator series is the counterpart of
// UTMToLatLon and is used when formatting coordinates back into UTM notation.
func LatLonToUTM(lat, lon float64) (zone int, band byte, easting, northing float64, err error) {
	if lat < -80 || lat > 84 {
		return 0, 0, 0, 0, fmt.Errorf("latitude %.4f outside UTM coverage [-80, 84]", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, 0, 0, fmt.Errorf("longitude %.4f out of range", lon)
	}

	zone = int((lon+180)/6) + 1
	if zone > 60 {
		zone = 60
	}
	band = latitudeBand(lat)

	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	lon0 := centralMeridian(zone) * math.Pi / 180

	sinLat := math.Sin(latRad)
	cosLat := math.Cos(latRad)
	tanLat := math.Tan(latRad)

	n := wgs84A / math.Sqrt(1-e2*sinLat*sinLat)
	t := tanLat * tanLat
	c := ep2 * cosLat * cosLat
	a := (lonRad - lon0) * cosLat

	m := wgs84A * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*latRad -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*latRad) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*latRad) -
		(35*e2*e2*e2/3072)*math.Sin(6*latRad))

	easting = utmFE + utmK0*n*(a+
		(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120)

	northing = utmK0 * (m + n*tanLat*(a*a/2+
		(5-t+9*c+4*c*c)*a*a*a*a/24+
		(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
	if lat < 0 {
		northing += utmFNS
	}

	return zone, band, easting, northing, nil
}

// FormatUTM renders a coordinate pair in UTM notation, e.g. "18T 583959 4507349".
func FormatUTM(lat, lon float64) (string, error) {
	zone, band, easting, northing, err := LatLonToUTM(lat, lon)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%c %d %d", zone, band, int(math.Round(easting)), int(math.Round(northing))), nil
}

// centralMeridian returns the central meridian of a UTM zone in degrees.
func centralMeridian(zone int) float64 {
	return float64((zone-1)*6 - 180 + 3)
}

// latitudeBand returns the UTM latitude band letter (C through X, skipping I
// and O) for a latitude within UTM coverage.
func latitudeBand(lat float64) byte {
	bands := "CDEFGHJKLMNPQRSTUVWX"
	i := int((lat + 80) / 8)
	if i < 0 {
		i = 0
	}
	if i >= len(bands) {
		i = len(bands) - 1
	}
	return bands[i]
}
