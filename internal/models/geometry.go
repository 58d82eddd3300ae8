package models

// Default canvas and box extents, matching the reference client's
// 150px boxes on a large scrollable container.
const (
	DefaultCanvasWidth  = 2000
	DefaultCanvasHeight = 2000
	DefaultBoxWidth     = 150
	DefaultBoxHeight    = 150
)

// Geometry describes the canvas and box extents used to clamp positions.
type Geometry struct {
	CanvasWidth  float64
	CanvasHeight float64
	BoxWidth     float64
	BoxHeight    float64
}

// DefaultGeometry returns the geometry used when none is configured.
func DefaultGeometry() Geometry {
	return Geometry{
		CanvasWidth:  DefaultCanvasWidth,
		CanvasHeight: DefaultCanvasHeight,
		BoxWidth:     DefaultBoxWidth,
		BoxHeight:    DefaultBoxHeight,
	}
}

// Clamp forces a position into the valid range so that a box at that
// position lies fully on the canvas. Oversized and negative inputs both
// land on the nearest edge.
func (g Geometry) Clamp(p Position) Position {
	maxTop := g.CanvasHeight - g.BoxHeight
	maxLeft := g.CanvasWidth - g.BoxWidth
	if maxTop < 0 {
		maxTop = 0
	}
	if maxLeft < 0 {
		maxLeft = 0
	}
	if p.Top < 0 {
		p.Top = 0
	} else if p.Top > maxTop {
		p.Top = maxTop
	}
	if p.Left < 0 {
		p.Left = 0
	} else if p.Left > maxLeft {
		p.Left = maxLeft
	}
	return p
}
