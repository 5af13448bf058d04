package models

import (
	"github.com/aukilabs/stagesim/geom"
)

// LaserReturn describes how a model appears to laser range finders.
type LaserReturn int

const (
	LaserTransparent LaserReturn = iota
	LaserVisible
	LaserBright
)

func (r LaserReturn) String() string {
	switch r {
	case LaserTransparent:
		return "transparent"
	case LaserVisible:
		return "visible"
	case LaserBright:
		return "bright"
	default:
		return "unknown"
	}
}

func (r LaserReturn) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Model is a body of the simulated world. Its pose is relative to its parent,
// or to the world when it has no parent.
type Model struct {
	ID       uint32 `json:"id"`
	ParentID uint32 `json:"parent_id,omitempty"`
	Name     string `json:"name,omitempty"`

	Pose     geom.Pose      `json:"pose"`
	Polygons []geom.Polygon `json:"polygons,omitempty"`
	Lines    []geom.Segment `json:"lines,omitempty"`

	ObstacleReturn bool        `json:"obstacle_return"`
	LaserReturn    LaserReturn `json:"laser_return"`
	RangerReturn   bool        `json:"ranger_return"`
	FiducialReturn int         `json:"fiducial_return,omitempty"`

	parent *Model
}

// Related reports whether o is m, one of its ancestors or one of its
// descendants.
//
// It walks the model tree without locking and is meant to be used in a Match
// function, while the world is locked.
func (m *Model) Related(o *Model) bool {
	return m.descendsFrom(o) || o.descendsFrom(m)
}

func (m *Model) descendsFrom(o *Model) bool {
	for p := m; p != nil; p = p.parent {
		if p == o {
			return true
		}
	}
	return false
}

// globalPose composes the poses from the tree root down to m.
func (m *Model) globalPose() geom.Pose {
	if m.parent == nil {
		return m.Pose
	}
	return geom.Compose(m.parent.globalPose(), m.Pose)
}

// segments returns the model outline placed at the given global pose.
func (m *Model) segments(pose geom.Pose) []geom.Segment {
	var segments []geom.Segment
	for _, p := range m.Polygons {
		segments = append(segments, p.Transform(pose).Segments()...)
	}
	for _, l := range m.Lines {
		segments = append(segments, l.Transform(pose))
	}
	return segments
}

func (m *Model) clone() *Model {
	c := *m
	c.parent = nil
	c.Polygons = clonePolygons(m.Polygons)
	c.Lines = append([]geom.Segment(nil), m.Lines...)
	return &c
}

func clonePolygons(polygons []geom.Polygon) []geom.Polygon {
	if polygons == nil {
		return nil
	}

	c := make([]geom.Polygon, len(polygons))
	for i, p := range polygons {
		c[i] = append(geom.Polygon(nil), p...)
	}
	return c
}
