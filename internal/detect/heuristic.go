package detect

import (
	"context"
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/mapworks/mapscan/internal/geometry"
)

// Tunables for the heuristic backend. Contours shorter than minContourLen are
// treated as noise; boxes smaller than minBoxSide on both axes are dropped.
const (
	binarizeLevel   = 128
	blurRadius      = 1.0
	minContourLen   = 10
	minBoxSide      = 4
	gridSpanRatio   = 0.55
	gridMaxThick    = 8
	legendMinArea   = 2000
	legendMinSpread = 0.15
)

// Heuristic is a pure-Go detection backend based on edge and contour
// analysis. The image is grayscaled, denoised with a small gaussian blur and
// binarized; connected edge contours are then extracted and each contour's
// bounding box is classified from simple shape and color statistics.
type Heuristic struct{}

// NewHeuristic returns the heuristic detection backend.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Detect implements the Detector capability.
func (h *Heuristic) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, nil
	}

	gray := effect.Grayscale(img)
	blurred := blur.Gaussian(gray, blurRadius)
	bin := segment.Threshold(blurred, binarizeLevel)

	edges := binaryEdges(bin, width, height)
	contours := findContours(edges, width, height)

	detections := make([]Detection, 0, len(contours))
	for _, contour := range contours {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		box := contourBox(contour)
		if box.Width() < minBoxSide && box.Height() < minBoxSide {
			continue
		}

		stats := contourStats{
			box:         box,
			contourLen:  len(contour),
			transitions: midlineTransitions(bin, box),
			colorSpread: colorSpread(img, box, bounds.Min),
		}
		class, confidence := classify(stats, width, height)

		detections = append(detections, Detection{
			Box: geometry.Box{
				X1: box.X1 + bounds.Min.X,
				Y1: box.Y1 + bounds.Min.Y,
				X2: box.X2 + bounds.Min.X,
				Y2: box.Y2 + bounds.Min.Y,
			},
			Class:      class,
			Confidence: confidence,
		})
	}

	return detections, nil
}

// contourStats are the shape and color measurements classification runs on.
type contourStats struct {
	box         geometry.Box
	contourLen  int
	transitions int     // dark/light alternations along the box midline
	colorSpread float64 // mean Lab distance from the box's mean color
}

// classify maps contour measurements to a cartographic class.
//
// The rules are ordered from most to least structurally distinctive: grid
// lines span most of the image at a few pixels thickness, scale bars are long
// striped strips, text sits in short wide boxes with frequent intensity
// alternations, legends are large boxes with a spread of distinct colors, and
// everything else left over is a generic closed shape.
func classify(s contourStats, imgWidth, imgHeight int) (Class, float64) {
	w := s.box.Width()
	h := s.box.Height()

	horizontalSpan := w >= int(gridSpanRatio*float64(imgWidth)) && h <= gridMaxThick
	verticalSpan := h >= int(gridSpanRatio*float64(imgHeight)) && w <= gridMaxThick
	if horizontalSpan || verticalSpan {
		return ClassGridLine, 0.85
	}

	aspect := 0.0
	if h > 0 {
		aspect = float64(w) / float64(h)
	}

	if aspect >= 6 && h >= 4 && h <= 16 && s.transitions >= 3 && s.transitions <= 9 {
		return ClassScaleBar, 0.7
	}

	if h >= 6 && h <= 48 && aspect >= 1.5 && aspect <= 25 && s.transitions >= 2 {
		return ClassText, 0.6
	}

	confidence := rectangularity(s.contourLen, w, h)
	if s.box.Area() >= legendMinArea && s.colorSpread >= legendMinSpread {
		return ClassLegend, confidence
	}
	return ClassShape, confidence
}

// rectangularity scores how closely a contour matches the perimeter of its
// bounding box: 1.0 means the contour is exactly the box outline. The score is
// clamped so even ragged closed shapes survive a moderate confidence floor.
func rectangularity(contourLen, w, h int) float64 {
	perimeter := 2 * (w + h)
	if perimeter == 0 {
		return 0.3
	}
	diff := float64(contourLen - perimeter)
	if diff < 0 {
		diff = -diff
	}
	score := 1.0 - diff/float64(perimeter)
	if score < 0.3 {
		return 0.3
	}
	if score > 0.95 {
		return 0.95
	}
	return score
}

// binaryEdges marks pixels where the binarized image transitions between dark
// and light against the right or lower neighbor.
func binaryEdges(bin *image.Gray, width, height int) [][]bool {
	edges := make([][]bool, height)
	for y := 0; y < height; y++ {
		edges[y] = make([]bool, width)
		for x := 0; x < width; x++ {
			if x+1 < width && dark(bin, x, y) != dark(bin, x+1, y) {
				edges[y][x] = true
				continue
			}
			if y+1 < height && dark(bin, x, y) != dark(bin, x, y+1) {
				edges[y][x] = true
			}
		}
	}
	return edges
}

func dark(bin *image.Gray, x, y int) bool {
	return bin.GrayAt(x, y).Y < 128
}

// findContours groups connected edge pixels into contours using an iterative
// flood fill with 8-connectivity. Contours shorter than minContourLen are
// discarded as noise.
func findContours(edges [][]bool, width, height int) [][]geometry.Point {
	visited := make([][]bool, height)
	for y := 0; y < height; y++ {
		visited[y] = make([]bool, width)
	}

	contours := make([][]geometry.Point, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !edges[y][x] || visited[y][x] {
				continue
			}
			contour := floodFill(edges, visited, x, y, width, height)
			if len(contour) >= minContourLen {
				contours = append(contours, contour)
			}
		}
	}
	return contours
}

func floodFill(edges, visited [][]bool, startX, startY, width, height int) []geometry.Point {
	contour := make([]geometry.Point, 0, 64)
	stack := []geometry.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !edges[p.Y][p.X] {
			continue
		}

		visited[p.Y][p.X] = true
		contour = append(contour, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, geometry.Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
	return contour
}

func contourBox(contour []geometry.Point) geometry.Box {
	box := geometry.Box{X1: contour[0].X, Y1: contour[0].Y, X2: contour[0].X, Y2: contour[0].Y}
	for _, p := range contour[1:] {
		if p.X < box.X1 {
			box.X1 = p.X
		}
		if p.X > box.X2 {
			box.X2 = p.X
		}
		if p.Y < box.Y1 {
			box.Y1 = p.Y
		}
		if p.Y > box.Y2 {
			box.Y2 = p.Y
		}
	}
	return box
}

// midlineTransitions counts dark/light alternations along the horizontal
// midline of the box. Striped artefacts like scale bars produce a handful of
// long runs; text produces many short ones.
func midlineTransitions(bin *image.Gray, box geometry.Box) int {
	y := (box.Y1 + box.Y2) / 2
	transitions := 0
	prev := dark(bin, box.X1, y)
	for x := box.X1 + 1; x <= box.X2; x++ {
		cur := dark(bin, x, y)
		if cur != prev {
			transitions++
			prev = cur
		}
	}
	return transitions
}

// colorSpread samples the box interior on a coarse grid and returns the mean
// CIE-Lab distance of the samples from their mean color. Legends, with their
// rows of distinct symbol colors, score high; uniform fills score near zero.
func colorSpread(img image.Image, box geometry.Box, offset image.Point) float64 {
	const gridSteps = 12

	stepX := box.Width() / gridSteps
	stepY := box.Height() / gridSteps
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	samples := make([]colorful.Color, 0, gridSteps*gridSteps)
	for y := box.Y1; y <= box.Y2; y += stepY {
		for x := box.X1; x <= box.X2; x += stepX {
			c, ok := colorful.MakeColor(img.At(x+offset.X, y+offset.Y))
			if ok {
				samples = append(samples, c)
			}
		}
	}
	if len(samples) < 2 {
		return 0
	}

	var sumR, sumG, sumB float64
	for _, c := range samples {
		sumR += c.R
		sumG += c.G
		sumB += c.B
	}
	n := float64(len(samples))
	mean := colorful.Color{R: sumR / n, G: sumG / n, B: sumB / n}

	var total float64
	for _, c := range samples {
		total += c.DistanceLab(mean)
	}
	return total / n
}
