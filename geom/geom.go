package geom

import (
	"math"
)

// Point is a position in a 2D frame, in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(o Point) Point {
	return Point{p.X + o.X, p.Y + o.Y}
}

func (p Point) Sub(o Point) Point {
	return Point{p.X - o.X, p.Y - o.Y}
}

func (p Point) Mul(s float64) Point {
	return Point{p.X * s, p.Y * s}
}

func (p Point) Length() float64 {
	return math.Hypot(p.X, p.Y)
}

func (p Point) Distance(o Point) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

// Angle returns the bearing from p to o.
func (p Point) Angle(o Point) float64 {
	return math.Atan2(o.Y-p.Y, o.X-p.X)
}

func (p Point) EqualWithEpsilon(o Point, epsilon float64) bool {
	return EqualWithEpsilon(p.X, o.X, epsilon) && EqualWithEpsilon(p.Y, o.Y, epsilon)
}

func (p Point) IsFinite() bool {
	return IsFinite(p.X) && IsFinite(p.Y)
}

func EqualWithEpsilon(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// NormalizeAngle wraps a into ]-pi, pi].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Pose is a position plus a heading, in radians.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	A float64 `json:"a"`
}

func (p Pose) Point() Point {
	return Point{p.X, p.Y}
}

// Compose returns local expressed in the frame that parent is expressed in.
func Compose(parent, local Pose) Pose {
	cosa, sina := math.Cos(parent.A), math.Sin(parent.A)
	return Pose{
		X: parent.X + local.X*cosa - local.Y*sina,
		Y: parent.Y + local.X*sina + local.Y*cosa,
		A: NormalizeAngle(parent.A + local.A),
	}
}

// ToGlobal converts a point expressed in the pose frame into the frame the pose
// is expressed in.
func (p Pose) ToGlobal(local Point) Point {
	cosa, sina := math.Cos(p.A), math.Sin(p.A)
	return Point{
		X: p.X + local.X*cosa - local.Y*sina,
		Y: p.Y + local.X*sina + local.Y*cosa,
	}
}

// ToLocal is the inverse of ToGlobal.
func (p Pose) ToLocal(global Point) Point {
	cosa, sina := math.Cos(p.A), math.Sin(p.A)
	dx, dy := global.X-p.X, global.Y-p.Y
	return Point{
		X: dx*cosa + dy*sina,
		Y: -dx*sina + dy*cosa,
	}
}

// Inverse returns the pose q such that Compose(p, q) is the identity.
func (p Pose) Inverse() Pose {
	origin := p.ToLocal(Point{})
	return Pose{X: origin.X, Y: origin.Y, A: NormalizeAngle(-p.A)}
}

// Segment is a line segment between two points of the same frame.
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

func (s Segment) Length() float64 {
	return s.A.Distance(s.B)
}

// Transform places the segment, expressed in the pose frame, into the frame
// the pose is expressed in.
func (s Segment) Transform(p Pose) Segment {
	return Segment{A: p.ToGlobal(s.A), B: p.ToGlobal(s.B)}
}

// Polygon is a closed outline. The last vertex is joined to the first one.
type Polygon []Point

// Segments returns the edges of the outline. Polygons with less than 2
// vertices have no edges.
func (p Polygon) Segments() []Segment {
	if len(p) < 2 {
		return nil
	}

	if len(p) == 2 {
		return []Segment{{A: p[0], B: p[1]}}
	}

	segments := make([]Segment, len(p))
	for i := range p {
		segments[i] = Segment{A: p[i], B: p[(i+1)%len(p)]}
	}
	return segments
}

func (p Polygon) Transform(pose Pose) Polygon {
	res := make(Polygon, len(p))
	for i, v := range p {
		res[i] = pose.ToGlobal(v)
	}
	return res
}

// Rect returns an axis aligned rectangle outline centered on c.
func Rect(c Point, width, height float64) Polygon {
	hw, hh := width/2, height/2
	return Polygon{
		{c.X - hw, c.Y - hh},
		{c.X + hw, c.Y - hh},
		{c.X + hw, c.Y + hh},
		{c.X - hw, c.Y + hh},
	}
}
