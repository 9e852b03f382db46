// Package classifier decides whether a page image is printed or handwritten.
//
// The decision is a heuristic on two measurements: sharpness (variance of the
// Laplacian) and the spread of aspect ratios of the shapes found in an edge map.
// Printed text is sharp and made of glyphs with similar proportions; handwriting
// is softer and its strokes vary a lot. The heuristic is approximate and the
// thresholds are configuration, not ground truth.
package classifier

import (
	"image"
	"sort"

	"golang.org/x/image/draw"

	"github.com/platinummonkey/oris/internal/logger"
)

// Config holds the classifier thresholds
type Config struct {
	// SharpnessThreshold: pages with Laplacian variance below it count as soft
	SharpnessThreshold float64

	// AspectVarianceThreshold applies to soft pages
	AspectVarianceThreshold float64

	// HighAspectVarianceThreshold alone is enough to call a page handwritten
	HighAspectVarianceThreshold float64

	// MinContourSize: shapes must be strictly wider and taller than this (pixels)
	MinContourSize int

	// EdgeLow and EdgeHigh are the hysteresis thresholds on gradient magnitude
	EdgeLow  float64
	EdgeHigh float64

	// MaxDimension caps the longer image side before analysis (0 disables)
	MaxDimension int

	Logger *logger.Logger
}

// DefaultConfig returns the thresholds the pipeline ships with
func DefaultConfig() *Config {
	return &Config{
		SharpnessThreshold:          100,
		AspectVarianceThreshold:     0.5,
		HighAspectVarianceThreshold: 1.0,
		MinContourSize:              10,
		EdgeLow:                     50,
		EdgeHigh:                    150,
		MaxDimension:                1600,
	}
}

// Analysis carries the measurements behind a decision
type Analysis struct {
	Sharpness      float64 `json:"sharpness"`
	AspectVariance float64 `json:"aspect_variance"`
	Contours       int     `json:"contours"`
	Handwritten    bool    `json:"handwritten"`
}

// Classifier is safe for concurrent use; it holds no mutable state.
type Classifier struct {
	cfg    Config
	logger *logger.Logger
}

// New creates a classifier. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Classifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	return &Classifier{cfg: *cfg, logger: log}
}

// IsHandwritten reports whether img looks handwritten
func (c *Classifier) IsHandwritten(img image.Image) bool {
	return c.Analyze(img).Handwritten
}

// Analyze measures img and applies the decision rule
func (c *Classifier) Analyze(img image.Image) Analysis {
	g := c.grayscale(img)

	a := Analysis{Sharpness: laplacianVariance(g)}

	edges := hysteresis(sobelMagnitude(g), g.w, g.h, c.cfg.EdgeLow, c.cfg.EdgeHigh)

	var ratios []float64
	for _, box := range outermost(components(edges, g.w, g.h), c.cfg.MinContourSize) {
		ratios = append(ratios, float64(box.Dy())/float64(box.Dx()))
	}
	a.Contours = len(ratios)
	a.AspectVariance = variance(ratios)
	a.Handwritten = c.Decide(a.Sharpness, a.AspectVariance, a.Contours)

	c.logger.Debugw("page classified",
		"sharpness", a.Sharpness,
		"aspect_variance", a.AspectVariance,
		"contours", a.Contours,
		"handwritten", a.Handwritten)

	return a
}

// Decide applies the rule to precomputed measurements. A page without any
// qualifying shape is printed.
func (c *Classifier) Decide(sharpness, aspectVariance float64, contours int) bool {
	if contours == 0 {
		return false
	}
	if sharpness < c.cfg.SharpnessThreshold && aspectVariance > c.cfg.AspectVarianceThreshold {
		return true
	}
	return aspectVariance > c.cfg.HighAspectVarianceThreshold
}

// gray is a row-major luminance plane
type gray struct {
	w, h int
	pix  []float64
}

func (g *gray) at(x, y int) float64 {
	return g.pix[y*g.w+x]
}

func (c *Classifier) grayscale(img image.Image) *gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if limit := c.cfg.MaxDimension; limit > 0 && (w > limit || h > limit) {
		if w >= h {
			h = h * limit / w
			w = limit
		} else {
			w = w * limit / h
			h = limit
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}

	g := &gray{w: w, h: h, pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x, v := range row {
			g.pix[y*w+x] = float64(v)
		}
	}
	return g
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over interior pixels
func laplacianVariance(g *gray) float64 {
	if g.w < 3 || g.h < 3 {
		return 0
	}
	vals := make([]float64, 0, (g.w-2)*(g.h-2))
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			l := g.at(x, y-1) + g.at(x, y+1) + g.at(x-1, y) + g.at(x+1, y) - 4*g.at(x, y)
			vals = append(vals, l)
		}
	}
	return variance(vals)
}

// sobelMagnitude returns |Gx|+|Gy| per pixel; borders are zero
func sobelMagnitude(g *gray) []float64 {
	mag := make([]float64, g.w*g.h)
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			gx := (g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x-1, y) + g.at(x-1, y+1))
			gy := (g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x, y-1) + g.at(x+1, y-1))
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			mag[y*g.w+x] = gx + gy
		}
	}
	return mag
}

var neighbours = [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

// hysteresis keeps pixels above high plus pixels above low that are 8-connected to them
func hysteresis(mag []float64, w, h int, low, high float64) []bool {
	edges := make([]bool, len(mag))
	var stack []int
	for i, m := range mag {
		if m >= high {
			edges[i] = true
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for _, d := range neighbours {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			j := ny*w + nx
			if !edges[j] && mag[j] >= low {
				edges[j] = true
				stack = append(stack, j)
			}
		}
	}
	return edges
}

// components returns the bounding box of every 8-connected edge region
func components(edges []bool, w, h int) []image.Rectangle {
	seen := make([]bool, len(edges))
	var boxes []image.Rectangle
	var stack []int

	for start, on := range edges {
		if !on || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		minX, minY, maxX, maxY := w, h, -1, -1

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			for _, d := range neighbours {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if edges[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		boxes = append(boxes, image.Rect(minX, minY, maxX+1, maxY+1))
	}
	return boxes
}

// outermost keeps the boxes strictly wider and taller than minSize that are not
// nested inside another such box, so the inner outline of a closed glyph is
// not counted as a shape of its own. A smaller box cannot contain a larger
// one, so small boxes are dropped before the nesting pass.
func outermost(boxes []image.Rectangle, minSize int) []image.Rectangle {
	sorted := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		if b.Dx() > minSize && b.Dy() > minSize {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return area(sorted[i]) > area(sorted[j])
	})

	var kept []image.Rectangle
	for _, b := range sorted {
		nested := false
		for _, k := range kept {
			if b.In(k) {
				nested = true
				break
			}
		}
		if !nested {
			kept = append(kept, b)
		}
	}
	return kept
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// variance is the population variance; zero for fewer than two values
func variance(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(vals))
}
