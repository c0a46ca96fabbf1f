package render

import (
	"image"
	"image/color"
)

// BufferRequest asks the renderer for a readback of a sub-zone of the
// framebuffer after drawing the given scene. Used by GPU picking.
type BufferRequest struct {
	Scene      any
	Camera     any
	Zone       image.Rectangle
	ClearColor color.NRGBA
	DataType   DataType
}

// Buffer is a readback result; exactly one slice is populated depending on
// the requested data type.
type Buffer struct {
	Bytes  []uint8
	Floats []float32
}

// Renderer is the consumed GPU driver surface. The engine never draws
// directly: it hands scenes, cameras and CPU-side targets to this interface.
// Implementations live outside this module (a reference fake ships with the
// tests).
type Renderer interface {
	// Render draws the scene with the given camera to the bound target, or
	// the canvas when none is bound.
	Render(scene, camera any)

	// RenderToBuffer draws and reads back the requested zone.
	RenderToBuffer(req BufferRequest) (Buffer, error)

	// SetRenderTarget binds a target; nil binds the canvas.
	SetRenderTarget(t *Target)

	// RenderTarget returns the currently bound target, nil for the canvas.
	RenderTarget() *Target

	// Size returns the canvas dimensions in pixels.
	Size() (width, height int)

	// OnContextLost and OnContextRestored register handlers for GPU context
	// loss events observed on the canvas.
	OnContextLost(fn func())
	OnContextRestored(fn func())
}
