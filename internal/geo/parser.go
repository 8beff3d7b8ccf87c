package geo

import (
	"regexp"
	"strconv"
	"strings"
)

// Notation identifies the coordinate text format a candidate was parsed from.
type Notation string

const (
	NotationUTM Notation = "utm"
	NotationDMS Notation = "dms"
	NotationDDM Notation = "ddm"
	NotationDD  Notation = "dd"
)

// Certainty factors per notation. Structurally distinctive notations get a
// higher factor; a bare decimal pair is the easiest to match by accident and
// gets the lowest. A match that isolates only one axis is halved.
const (
	certaintyUTM = 0.95
	certaintyDMS = 0.90
	certaintyDDM = 0.80
	certaintyDD  = 0.60

	singleAxisPenalty = 0.5
)

// Candidate is a coordinate pair normalized to decimal degrees.
type Candidate struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Notation  Notation `json:"notation"`
	Certainty float64  `json:"certainty"`
}

var (
	// Zone number, band letter (I and O are not used), easting, northing.
	utmRe = regexp.MustCompile(`\b(\d{1,2})\s*([C-HJ-NP-X])\s+(\d{1,7})\s*M?E?[\s,]+(\d{1,8})\s*M?N?\b`)

	// 40°42'46.1"N — degrees, minutes, seconds, hemisphere letter.
	dmsRe = regexp.MustCompile(`(\d{1,3})\s*[°º]\s*(\d{1,2})\s*['′]\s*(\d{1,2}(?:\.\d+)?)\s*["″]\s*([NSEW])`)

	// 40°42.768'N — degrees, decimal minutes, hemisphere letter.
	ddmRe = regexp.MustCompile(`(\d{1,3})\s*[°º]\s*(\d{1,2}(?:\.\d+)?)\s*['′]\s*([NSEW])`)

	// 40.7128°N 74.0060°W — decimal degrees with hemisphere letters.
	ddHemiRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*[°º]?\s*([NS])[\s,;]+(\d{1,3}(?:\.\d+)?)\s*[°º]?\s*([EW])`)

	// 40.7128, -74.0060 — a bare decimal pair. Both numbers must carry a
	// fractional part so UTM grid integers never match here.
	ddPairRe = regexp.MustCompile(`(-?\d{1,3}\.\d+)[,;\s]+(-?\d{1,3}\.\d+)`)
)

// Parse attempts to recognize one coordinate pair in text.
//
// Notations are tried most specific first: UTM, then DMS, then degrees with
// decimal minutes, then plain decimal degrees. The first notation that matches
// wins. Candidates whose latitude falls outside [-90, 90] or longitude outside
// [-180, 180] are rejected, as are strings from which neither axis can be
// isolated.
func Parse(text string) (Candidate, bool) {
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return Candidate{}, false
	}

	for _, parse := range []func(string) (Candidate, bool){
		parseUTM,
		parseDMS,
		parseDDM,
		parseDD,
	} {
		if c, ok := parse(text); ok {
			return c, true
		}
	}
	return Candidate{}, false
}

func parseUTM(text string) (Candidate, bool) {
	m := utmRe.FindStringSubmatch(text)
	if m == nil {
		return Candidate{}, false
	}

	zone, _ := strconv.Atoi(m[1])
	band := m[2][0]
	easting, _ := strconv.ParseFloat(m[3], 64)
	northing, _ := strconv.ParseFloat(m[4], 64)

	if zone < 1 || zone > 60 {
		return Candidate{}, false
	}
	if easting < 0 || easting >= 1000000 || northing < 0 || northing > 10000000 {
		return Candidate{}, false
	}

	lat, lon, err := UTMToLatLon(zone, band >= 'N', easting, northing)
	if err != nil {
		return Candidate{}, false
	}
	if !inRange(lat, lon) {
		return Candidate{}, false
	}

	return Candidate{Lat: lat, Lon: lon, Notation: NotationUTM, Certainty: certaintyUTM}, true
}

func parseDMS(text string) (Candidate, bool) {
	var (
		lat, lon       float64
		latSet, lonSet bool
	)

	for _, m := range dmsRe.FindAllStringSubmatch(text, -1) {
		deg, _ := strconv.ParseFloat(m[1], 64)
		minV, _ := strconv.ParseFloat(m[2], 64)
		secV, _ := strconv.ParseFloat(m[3], 64)
		if minV >= 60 || secV >= 60 {
			continue
		}

		value := deg + minV/60 + secV/3600
		switch m[4] {
		case "S":
			value = -value
			fallthrough
		case "N":
			if !latSet {
				lat, latSet = value, true
			}
		case "W":
			value = -value
			fallthrough
		case "E":
			if !lonSet {
				lon, lonSet = value, true
			}
		}
	}

	return axesCandidate(lat, lon, latSet, lonSet, NotationDMS, certaintyDMS)
}

func parseDDM(text string) (Candidate, bool) {
	var (
		lat, lon       float64
		latSet, lonSet bool
	)

	for _, m := range ddmRe.FindAllStringSubmatch(text, -1) {
		deg, _ := strconv.ParseFloat(m[1], 64)
		minV, _ := strconv.ParseFloat(m[2], 64)
		if minV >= 60 {
			continue
		}

		value := deg + minV/60
		switch m[3] {
		case "S":
			value = -value
			fallthrough
		case "N":
			if !latSet {
				lat, latSet = value, true
			}
		case "W":
			value = -value
			fallthrough
		case "E":
			if !lonSet {
				lon, lonSet = value, true
			}
		}
	}

	return axesCandidate(lat, lon, latSet, lonSet, NotationDDM, certaintyDDM)
}

func parseDD(text string) (Candidate, bool) {
	if m := ddHemiRe.FindStringSubmatch(text); m != nil {
		lat, _ := strconv.ParseFloat(m[1], 64)
		lon, _ := strconv.ParseFloat(m[3], 64)
		if m[2] == "S" {
			lat = -lat
		}
		if m[4] == "W" {
			lon = -lon
		}
		if inRange(lat, lon) {
			return Candidate{Lat: lat, Lon: lon, Notation: NotationDD, Certainty: certaintyDD}, true
		}
		return Candidate{}, false
	}

	m := ddPairRe.FindStringSubmatch(text)
	if m == nil {
		return Candidate{}, false
	}
	lat, _ := strconv.ParseFloat(m[1], 64)
	lon, _ := strconv.ParseFloat(m[2], 64)
	if !inRange(lat, lon) {
		return Candidate{}, false
	}
	return Candidate{Lat: lat, Lon: lon, Notation: NotationDD, Certainty: certaintyDD}, true
}

// axesCandidate builds a candidate from whichever axes a structured notation
// isolated. A single hemisphere-tagged axis is still a usable fix (map margins
// frequently label one axis per tick), but its certainty is halved and the
// missing axis stays zero.
func axesCandidate(lat, lon float64, latSet, lonSet bool, n Notation, certainty float64) (Candidate, bool) {
	if !latSet && !lonSet {
		return Candidate{}, false
	}
	if !latSet || !lonSet {
		certainty *= singleAxisPenalty
	}
	if !inRange(lat, lon) {
		return Candidate{}, false
	}
	return Candidate{Lat: lat, Lon: lon, Notation: n, Certainty: certainty}, true
}

func inRange(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
