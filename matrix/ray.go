package matrix

import (
	"github.com/aukilabs/stagesim/geom"
)

// RayState is the state of a ray walk.
type RayState int

const (
	RayCreated RayState = iota
	RayHit
	RayExhausted
	RayLeftWorld
)

func (s RayState) String() string {
	switch s {
	case RayCreated:
		return "created"
	case RayHit:
		return "hit"
	case RayExhausted:
		return "exhausted"
	case RayLeftWorld:
		return "left_world"
	default:
		return "unknown"
	}
}

// Hit describes the first occupant found by a ray.
type Hit struct {
	Object ObjectID   `json:"object"`
	Point  geom.Point `json:"point"`
	Range  float64    `json:"range"`
}

// Ray walks the matrix cell by cell from an origin along a bearing. A ray is
// used for one query only.
type Ray struct {
	matrix   *Matrix
	origin   geom.Point
	bearing  float64
	heading  heading
	maxRange float64

	point   geom.Point
	rng     float64
	cell    CellID
	visited int
	state   RayState
	hit     Hit
}

// NewRay creates a ray starting at origin, going along bearing for at most
// maxRange meters.
func NewRay(m *Matrix, origin geom.Point, bearing, maxRange float64) *Ray {
	return &Ray{
		matrix:   m,
		origin:   origin,
		bearing:  bearing,
		heading:  newHeading(bearing),
		maxRange: maxRange,
		point:    origin,
		cell:     rootCell,
	}
}

// NewRayTo creates a ray going from origin to target.
func NewRayTo(m *Matrix, origin, target geom.Point) *Ray {
	return NewRay(m, origin, origin.Angle(target), origin.Distance(target))
}

func (r *Ray) Origin() geom.Point {
	return r.origin
}

func (r *Ray) Bearing() float64 {
	return r.bearing
}

func (r *Ray) MaxRange() float64 {
	return r.maxRange
}

// Range returns the distance travelled by the ray so far. Once a ray is
// exhausted it equals the max range.
func (r *Ray) Range() float64 {
	return r.rng
}

// Point returns the current position of the ray.
func (r *Ray) Point() geom.Point {
	return r.point
}

func (r *Ray) State() RayState {
	return r.state
}

// FirstMatching walks the ray until an occupant satisfies match, the max range
// is reached or the ray leaves the matrix. It returns false when nothing
// matched.
//
// Occupants sharing a cell are tested from the most recently inserted to the
// oldest one. The reported hit point is where the ray entered the cell of the
// matching occupant, so it is accurate to one cell.
//
// match must not modify the matrix. Calling FirstMatching again returns the
// outcome of the first call.
func (r *Ray) FirstMatching(match Predicate) (Hit, bool) {
	if r.state == RayCreated {
		r.state = r.walk(match)
		instrumentRaytrace(r.state, r.visited)
	}
	return r.hit, r.state == RayHit
}

func (r *Ray) walk(match Predicate) RayState {
	maxSteps := r.matrix.stepLimit(r.maxRange)

	for step := 0; step < maxSteps && r.rng < r.maxRange; step++ {
		if r.cell = r.matrix.locate(r.cell, r.point); r.cell == NoCell {
			return RayLeftWorld
		}
		r.visited++

		data := r.matrix.cells[r.cell].data
		for i := len(data) - 1; i >= 0; i-- {
			if match(data[i]) {
				r.hit = Hit{
					Object: data[i],
					Point:  r.point,
					Range:  r.rng,
				}
				return RayHit
			}
		}

		next := r.matrix.leave(r.cell, r.point, r.heading)
		r.rng += r.point.Distance(next)
		r.point = next
	}

	if geom.IsFinite(r.maxRange) {
		r.rng = r.maxRange
		r.point = r.origin.Add(r.heading.step(r.maxRange))
	}
	return RayExhausted
}
