package geometry

// Rect is an axis aligned clip window in lon/lat.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b BBox) Rect() Rect {
	return Rect{MinX: b[0], MinY: b[1], MaxX: b[2], MaxY: b[3]}
}

type halfPlane struct {
	inside    func(p [2]float64) bool
	intersect func(a, b [2]float64) [2]float64
}

// ClipPolygonToRect clips ring against r with Sutherland-Hodgman, taking the
// left, right, bottom and top edges in turn. The result is closed, or nil
// when fewer than three vertices survive.
func ClipPolygonToRect(ring [][2]float64, r Rect) [][2]float64 {
	pts := openRing(ring)

	planes := []halfPlane{
		{
			inside:    func(p [2]float64) bool { return p[0] >= r.MinX },
			intersect: func(a, b [2]float64) [2]float64 { return atX(a, b, r.MinX) },
		},
		{
			inside:    func(p [2]float64) bool { return p[0] <= r.MaxX },
			intersect: func(a, b [2]float64) [2]float64 { return atX(a, b, r.MaxX) },
		},
		{
			inside:    func(p [2]float64) bool { return p[1] >= r.MinY },
			intersect: func(a, b [2]float64) [2]float64 { return atY(a, b, r.MinY) },
		},
		{
			inside:    func(p [2]float64) bool { return p[1] <= r.MaxY },
			intersect: func(a, b [2]float64) [2]float64 { return atY(a, b, r.MaxY) },
		},
	}

	for _, hp := range planes {
		if len(pts) == 0 {
			break
		}
		pts = clipAgainst(pts, hp)
	}

	if len(pts) < 3 {
		return nil
	}
	return append(pts, pts[0])
}

func clipAgainst(pts [][2]float64, hp halfPlane) [][2]float64 {
	out := make([][2]float64, 0, len(pts)+2)
	for i, cur := range pts {
		prev := pts[(i+len(pts)-1)%len(pts)]
		curIn, prevIn := hp.inside(cur), hp.inside(prev)
		switch {
		case curIn && !prevIn:
			out = append(out, hp.intersect(prev, cur), cur)
		case curIn:
			out = append(out, cur)
		case prevIn:
			out = append(out, hp.intersect(prev, cur))
		}
	}
	return out
}

func atX(a, b [2]float64, x float64) [2]float64 {
	t := (x - a[0]) / (b[0] - a[0])
	return [2]float64{x, a[1] + t*(b[1]-a[1])}
}

func atY(a, b [2]float64, y float64) [2]float64 {
	t := (y - a[1]) / (b[1] - a[1])
	return [2]float64{a[0] + t*(b[0]-a[0]), y}
}

// openRing drops the closing vertex of a closed ring.
func openRing(ring [][2]float64) [][2]float64 {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	pts := make([][2]float64, n)
	copy(pts, ring[:n])
	return pts
}
