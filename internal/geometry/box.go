// Package geometry provides pixel-space primitives shared by the analysis stages.
package geometry

import "image"

// Point is a 2D coordinate in pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box is an axis-aligned bounding box in pixel coordinates.
// (X1, Y1) is the top-left corner, (X2, Y2) the bottom-right.
// A well-formed box satisfies X1 <= X2 and Y1 <= Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewBox returns a well-formed box covering both corner points.
func NewBox(x1, y1, x2, y2 int) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// FromRect converts an image.Rectangle to a Box.
func FromRect(r image.Rectangle) Box {
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent in pixels.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent in pixels.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b Box) Area() int { return b.Width() * b.Height() }

// Center returns the center point of the box.
func (b Box) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b Box) Contains(p Point) bool {
	return p.X >= b.X1 && p.X <= b.X2 && p.Y >= b.Y1 && p.Y <= b.Y2
}

// Intersects reports whether the two boxes overlap.
func (b Box) Intersects(other Box) bool {
	return b.X1 < other.X2 && b.X2 > other.X1 && b.Y1 < other.Y2 && b.Y2 > other.Y1
}

// Union returns the minimal box covering both boxes.
func (b Box) Union(other Box) Box {
	return Box{
		X1: minInt(b.X1, other.X1),
		Y1: minInt(b.Y1, other.Y1),
		X2: maxInt(b.X2, other.X2),
		Y2: maxInt(b.Y2, other.Y2),
	}
}

// Gap returns the smallest axis-wise separation between the two boxes in
// pixels. Overlapping or touching boxes have a gap of zero.
func (b Box) Gap(other Box) int {
	dx := maxInt(0, maxInt(other.X1-b.X2, b.X1-other.X2))
	dy := maxInt(0, maxInt(other.Y1-b.Y2, b.Y1-other.Y2))
	return maxInt(dx, dy)
}

// Clamp restricts the box to the given bounds.
func (b Box) Clamp(bounds image.Rectangle) Box {
	return Box{
		X1: maxInt(b.X1, bounds.Min.X),
		Y1: maxInt(b.Y1, bounds.Min.Y),
		X2: minInt(b.X2, bounds.Max.X),
		Y2: minInt(b.Y2, bounds.Max.Y),
	}
}

// Expand grows the box by margin pixels on every side.
func (b Box) Expand(margin int) Box {
	return Box{X1: b.X1 - margin, Y1: b.Y1 - margin, X2: b.X2 + margin, Y2: b.Y2 + margin}
}

// Less orders boxes by origin, top-to-bottom then left-to-right, with the
// bottom-right corner as the final tie-break. It gives boxes a total order
// that does not depend on discovery order.
func (b Box) Less(other Box) bool {
	if b.Y1 != other.Y1 {
		return b.Y1 < other.Y1
	}
	if b.X1 != other.X1 {
		return b.X1 < other.X1
	}
	if b.Y2 != other.Y2 {
		return b.Y2 < other.Y2
	}
	return b.X2 < other.X2
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
