package bathymetry

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"

	"github.com/banshee-data/survey.report/internal/nav"
	"github.com/banshee-data/survey.report/internal/sonar"
)

// Box is an axis-aligned area in metres north and east of an index origin.
type Box struct {
	MinNorth, MinEast float64
	MaxNorth, MaxEast float64
}

// Intersects reports whether b and o overlap, edges included.
func (b Box) Intersects(o Box) bool {
	return b.MinNorth <= o.MaxNorth && o.MinNorth <= b.MaxNorth &&
		b.MinEast <= o.MaxEast && o.MinEast <= b.MaxEast
}

func (b Box) rect() rtreego.Rect {
	// R-tree rectangles need non-zero sides.
	const epsilon = 0.01
	n := math.Max(b.MaxNorth-b.MinNorth, epsilon)
	e := math.Max(b.MaxEast-b.MinEast, epsilon)
	rect, _ := rtreego.NewRect(rtreego.Point{b.MinNorth, b.MinEast}, []float64{n, e})
	return rect
}

// Footprint is the area covered by one swath.
type Footprint struct {
	TimestampMillis int64
	Box             Box
}

// Bounds implements rtreego.Spatial.
func (f *Footprint) Bounds() rtreego.Rect { return f.Box.rect() }

// Index is a spatial index of swath footprints. Coordinates are metres
// from Origin, the absolute position of the first swath's pose.
type Index struct {
	Origin nav.Location
	tree   *rtreego.Rtree
	n      int
}

// Len is the number of indexed swaths.
func (ix *Index) Len() int { return ix.n }

// SwathsIn returns the timestamps of swaths whose footprint intersects
// box, ascending.
func (ix *Index) SwathsIn(box Box) []int64 {
	if ix.n == 0 {
		return nil
	}
	var out []int64
	for _, s := range ix.tree.SearchIntersect(box.rect()) {
		f := s.(*Footprint)
		// The epsilon padding can over-match degenerate boxes.
		if f.Box.Intersects(box) {
			out = append(out, f.TimestampMillis)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// footprint is the box around the pose and every valid beam of s.
func footprint(s *sonar.BathymetrySwath, origin nav.Location) Box {
	pn, pe := s.Pose.Location.Absolute().OffsetFrom(origin)
	b := Box{MinNorth: pn, MaxNorth: pn, MinEast: pe, MaxEast: pe}
	for _, pt := range s.ValidPoints() {
		n, e := pn+pt.North, pe+pt.East
		b.MinNorth, b.MaxNorth = math.Min(b.MinNorth, n), math.Max(b.MaxNorth, n)
		b.MinEast, b.MaxEast = math.Min(b.MinEast, e), math.Max(b.MaxEast, e)
	}
	return b
}

// Index scans every swath into a footprint index. The parser is rewound
// before and after.
func (p *Parser) Index() *Index {
	p.Rewind()
	defer p.Rewind()

	ix := &Index{tree: rtreego.NewTree(2, 25, 50)}
	for s, ok := p.NextSwath(); ok; s, ok = p.NextSwath() {
		if ix.n == 0 {
			ix.Origin = s.Pose.Location.Absolute()
		}
		ix.tree.Insert(&Footprint{TimestampMillis: s.TimestampMillis, Box: footprint(s, ix.Origin)})
		ix.n++
	}
	diagf("indexed %d swath footprints", ix.n)
	return ix
}
