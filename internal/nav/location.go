// Package nav holds vehicle navigation types: locations on the WGS84
// ellipsoid with local north/east/depth offsets, poses, and the raw
// navigation states read from survey logs.
package nav

import "math"

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84E2 = 0.00669437999013
)

// Location is a reference latitude/longitude plus metric offsets.
// Offsets are north and east in metres; depth is positive down.
type Location struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	North  float64 `json:"north"`
	East   float64 `json:"east"`
	Depth  float64 `json:"depth"`
}

// radii returns the meridional and prime-vertical radii of curvature at lat.
func radii(latRad float64) (m, n float64) {
	s := math.Sin(latRad)
	w := 1 - wgs84E2*s*s
	n = wgs84A / math.Sqrt(w)
	m = wgs84A * (1 - wgs84E2) / (w * math.Sqrt(w))
	return m, n
}

// displace moves a lat/lon (degrees) by north/east metres.
func displace(latDeg, lonDeg, north, east float64) (float64, float64) {
	if north == 0 && east == 0 {
		return latDeg, lonDeg
	}
	lat := latDeg * math.Pi / 180
	m, n := radii(lat)
	dLat := north / m
	cosLat := math.Cos(lat)
	dLon := 0.0
	if cosLat > 1e-12 {
		dLon = east / (n * cosLat)
	}
	return latDeg + dLat*180/math.Pi, lonDeg + dLon*180/math.Pi
}

// Absolute returns the location with its north/east offsets folded into the
// reference latitude/longitude. Depth is kept.
func (l Location) Absolute() Location {
	lat, lon := displace(l.LatDeg, l.LonDeg, l.North, l.East)
	return Location{LatDeg: lat, LonDeg: lon, Depth: l.Depth}
}

// Translate returns a copy moved by the given north/east offsets.
func (l Location) Translate(north, east float64) Location {
	l.North += north
	l.East += east
	return l
}

// OffsetFrom returns the north/east metres from o to l.
func (l Location) OffsetFrom(o Location) (north, east float64) {
	a := l.Absolute()
	b := o.Absolute()
	midLat := (a.LatDeg + b.LatDeg) / 2 * math.Pi / 180
	m, n := radii(midLat)
	north = (a.LatDeg - b.LatDeg) * math.Pi / 180 * m
	east = (a.LonDeg - b.LonDeg) * math.Pi / 180 * n * math.Cos(midLat)
	return north, east
}

// HorizontalDistance is the metric distance between l and o ignoring depth.
func (l Location) HorizontalDistance(o Location) float64 {
	n, e := l.OffsetFrom(o)
	return math.Hypot(n, e)
}

// Distance is the 3D distance between l and o.
func (l Location) Distance(o Location) float64 {
	n, e := l.OffsetFrom(o)
	d := l.Depth - o.Depth
	return math.Sqrt(n*n + e*e + d*d)
}
