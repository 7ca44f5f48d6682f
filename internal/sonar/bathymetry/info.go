package bathymetry

import (
	"encoding/json"
	"math"
	"path/filepath"

	"github.com/banshee-data/survey.report/internal/nav"
)

// InfoFile is the bathymetry summary cache path relative to a bundle.
const InfoFile = "mra/bathy.info"

// Info summarises the bathymetry of a bundle. The corners are absolute
// positions padded outwards by MaxDepth metres.
type Info struct {
	MinDepth       float64      `json:"min_depth"`
	MaxDepth       float64      `json:"max_depth"`
	TopLeft        nav.Location `json:"top_left"`
	BottomRight    nav.Location `json:"bottom_right"`
	TotalPoints    int64        `json:"total_points"`
	Swaths         int          `json:"swaths"`
	FirstTimestamp int64        `json:"first_timestamp_ms"`
	LastTimestamp  int64        `json:"last_timestamp_ms"`
}

// Info returns the bundle summary, reading the cache when present and
// scanning every swath otherwise. The parser is rewound afterwards.
func (p *Parser) Info() Info {
	if p.info != nil {
		return *p.info
	}
	path := filepath.Join(p.bundle.Dir(), InfoFile)
	if data, err := p.fsys.ReadFile(path); err == nil {
		var info Info
		if err := json.Unmarshal(data, &info); err == nil {
			p.info = &info
			return info
		}
		opsf("ignoring unreadable %s: %v", path, err)
	}

	info := p.scan()
	p.info = &info
	if data, err := json.MarshalIndent(info, "", "  "); err != nil {
		opsf("failed to encode bathymetry info: %v", err)
	} else if err := p.fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		opsf("failed to create %s: %v", filepath.Dir(path), err)
	} else if err := p.fsys.WriteFile(path, data, 0644); err != nil {
		opsf("failed to write bathymetry info: %v", err)
	}
	return info
}

func (p *Parser) scan() Info {
	p.Rewind()
	defer p.Rewind()

	var info Info
	minDepth, maxDepth := math.Inf(1), math.Inf(-1)
	minLat, maxLat := 90.0, -90.0
	minLon, maxLon := 180.0, -180.0

	for s, ok := p.NextSwath(); ok; s, ok = p.NextSwath() {
		loc := s.Pose.Location.Absolute()
		minLat, maxLat = math.Min(minLat, loc.LatDeg), math.Max(maxLat, loc.LatDeg)
		minLon, maxLon = math.Min(minLon, loc.LonDeg), math.Max(maxLon, loc.LonDeg)

		if info.Swaths == 0 {
			info.FirstTimestamp = s.TimestampMillis
		}
		info.LastTimestamp = s.TimestampMillis
		info.Swaths++

		for _, pt := range s.Points {
			if pt == nil {
				continue
			}
			minDepth = math.Min(minDepth, pt.Depth)
			maxDepth = math.Max(maxDepth, pt.Depth)
		}
		info.TotalPoints += int64(s.NumBeams())
	}
	if info.Swaths == 0 {
		return info
	}
	if !math.IsInf(minDepth, 0) {
		info.MinDepth, info.MaxDepth = minDepth, maxDepth
	}

	pad := info.MaxDepth
	info.TopLeft = nav.Location{LatDeg: maxLat, LonDeg: minLon}.Translate(pad, -pad).Absolute()
	info.BottomRight = nav.Location{LatDeg: minLat, LonDeg: maxLon}.Translate(-pad, pad).Absolute()
	diagf("%s: %d swaths, %d points, depth [%.2f, %.2f]", p.bundle.Dir(), info.Swaths, info.TotalPoints, info.MinDepth, info.MaxDepth)
	return info
}
