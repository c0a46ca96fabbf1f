package layer

import (
	"image"
	"math"
	"sync"

	"github.com/disintegration/gift"
	xdraw "golang.org/x/image/draw"

	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/render"
	"github.com/MeKo-Tech/terrastream/source"
)

type composerImage struct {
	img           *source.Image
	alwaysVisible bool
	locks         map[string]struct{} // node ids holding this image alive
}

// Composer holds a layer's pool of source images and composites subsets of
// them into render targets, one paint per node. Images are reference
// counted by node locks; always-visible (fallback) images are immortal.
type Composer struct {
	mu     sync.Mutex
	images map[string]*composerImage
}

// NewComposer creates an empty composer.
func NewComposer() *Composer {
	return &Composer{images: make(map[string]*composerImage)}
}

// Has reports whether the image is present.
func (c *Composer) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.images[id]
	return ok
}

// Add inserts an image; alwaysVisible images survive every eviction.
// Re-adding an existing id only upgrades its alwaysVisible flag.
func (c *Composer) Add(img *source.Image, alwaysVisible bool) {
	if img == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.images[img.ID]; ok {
		existing.alwaysVisible = existing.alwaysVisible || alwaysVisible
		return
	}
	c.images[img.ID] = &composerImage{
		img:           img,
		alwaysVisible: alwaysVisible,
		locks:         make(map[string]struct{}),
	}
}

// Lock ties the image's lifetime to the node.
func (c *Composer) Lock(id, nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ci, ok := c.images[id]; ok {
		ci.locks[nodeID] = struct{}{}
	}
}

// Unlock releases the node's references on the given images.
func (c *Composer) Unlock(ids []string, nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if ci, ok := c.images[id]; ok {
			delete(ci.locks, nodeID)
		}
	}
}

// Evict drops every image with zero locks that is not always-visible.
// Returns the number of images dropped.
func (c *Composer) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for id, ci := range c.images {
		if !ci.alwaysVisible && len(ci.locks) == 0 {
			delete(c.images, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of held images.
func (c *Composer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// RenderOptions parameterize one composite.
type RenderOptions struct {
	Extent        geo.Extent
	Width, Height int
	Target        *render.Target
	// ImageIDs selects the images to composite; missing ids are skipped
	// and reported through isLastRender=false.
	ImageIDs []string
	// IsFallbackMode additionally draws every always-visible image under
	// the requested ones, so a node shows coarse data while loading.
	IsFallbackMode bool
	// Filter optionally post-processes the composited RGBA canvas.
	Filter *gift.GIFT
}

// RenderResult reports a composite outcome.
type RenderResult struct {
	// IsLastRender is true when every requested image was present: no
	// re-composite is needed for this paint.
	IsLastRender bool
	// Drawn is the number of images composited.
	Drawn int
}

// Render composites the requested images into the target, clipping each to
// the paint extent. Missing images are skipped; the caller re-renders when
// they arrive.
func (c *Composer) Render(opts RenderOptions) RenderResult {
	c.mu.Lock()
	var toDraw []*source.Image
	if opts.IsFallbackMode {
		for _, ci := range c.images {
			if ci.alwaysVisible && ci.img.Extent.Intersects(opts.Extent) {
				toDraw = append(toDraw, ci.img)
			}
		}
	}
	last := true
	for _, id := range opts.ImageIDs {
		ci, ok := c.images[id]
		if !ok {
			last = false
			continue
		}
		toDraw = append(toDraw, ci.img)
	}
	c.mu.Unlock()

	// Coarse images first so finer data paints over them.
	sortByExtentAreaDesc(toDraw)

	opts.Target.Clear()
	drawn := 0
	for _, img := range toDraw {
		if c.drawImage(opts, img) {
			drawn++
		}
	}

	if opts.Filter != nil && opts.Target.Texture.Format == render.FormatRGBA {
		canvas := opts.Target.Texture.Image()
		if canvas != nil {
			filtered := image.NewNRGBA(canvas.Bounds())
			opts.Filter.Draw(filtered, canvas)
			copy(opts.Target.Texture.Pixels, filtered.Pix)
		}
	}

	return RenderResult{IsLastRender: last, Drawn: drawn}
}

// MinMax scans the images intersecting extent for their elevation range.
func (c *Composer) MinMax(extent geo.Extent) (float64, float64, bool) {
	c.mu.Lock()
	imgs := make([]*source.Image, 0, len(c.images))
	for _, ci := range c.images {
		if ci.img.Extent.Intersects(extent) {
			imgs = append(imgs, ci.img)
		}
	}
	c.mu.Unlock()

	min, max := math.Inf(1), math.Inf(-1)
	found := false
	for _, img := range imgs {
		lo, hi := img.Min, img.Max
		if lo == 0 && hi == 0 {
			var ok bool
			lo, hi, ok = img.Texture.MinMax()
			if !ok {
				continue
			}
		}
		min = math.Min(min, lo)
		max = math.Max(max, hi)
		found = true
	}
	return min, max, found
}

// drawImage blits the part of img overlapping the paint extent into the
// target, scaling as needed.
func (c *Composer) drawImage(opts RenderOptions, img *source.Image) bool {
	overlap, ok := opts.Extent.Intersection(img.Extent)
	if !ok || img.Texture == nil {
		return false
	}

	// Destination rectangle in target pixels (origin north-west).
	dstX0 := int(math.Floor((overlap.West - opts.Extent.West) / opts.Extent.Width() * float64(opts.Width)))
	dstX1 := int(math.Ceil((overlap.East - opts.Extent.West) / opts.Extent.Width() * float64(opts.Width)))
	dstY0 := int(math.Floor((opts.Extent.North - overlap.North) / opts.Extent.Height() * float64(opts.Height)))
	dstY1 := int(math.Ceil((opts.Extent.North - overlap.South) / opts.Extent.Height() * float64(opts.Height)))
	if dstX1 <= dstX0 || dstY1 <= dstY0 {
		return false
	}

	tex := img.Texture
	if opts.Target.Texture.Type == render.TypeFloat32 {
		c.drawFloat(opts, img, dstX0, dstY0, dstX1, dstY1)
		return true
	}

	srcImg := tex.Image()
	dstImg := opts.Target.Texture.Image()
	if srcImg == nil || dstImg == nil {
		return false
	}

	// Source rectangle of the overlap within the image.
	iw := float64(tex.Width)
	ih := float64(tex.Height)
	srcX0 := int(math.Floor((overlap.West - img.Extent.West) / img.Extent.Width() * iw))
	srcX1 := int(math.Ceil((overlap.East - img.Extent.West) / img.Extent.Width() * iw))
	srcY0 := int(math.Floor((img.Extent.North - overlap.North) / img.Extent.Height() * ih))
	srcY1 := int(math.Ceil((img.Extent.North - overlap.South) / img.Extent.Height() * ih))

	xdraw.ApproxBiLinear.Scale(
		dstImg,
		image.Rect(dstX0, dstY0, dstX1, dstY1),
		srcImg,
		image.Rect(srcX0, srcY0, srcX1, srcY1),
		xdraw.Over,
		nil,
	)
	return true
}

// drawFloat resamples float (elevation) images by nearest neighbour.
func (c *Composer) drawFloat(opts RenderOptions, img *source.Image, dstX0, dstY0, dstX1, dstY1 int) {
	tex := img.Texture
	dst := opts.Target.Texture
	dc := dst.Format.Channels()
	sc := tex.Format.Channels()

	for py := dstY0; py < dstY1; py++ {
		if py < 0 || py >= opts.Height {
			continue
		}
		// World Y of the texel center.
		wy := opts.Extent.North - (float64(py)+0.5)/float64(opts.Height)*opts.Extent.Height()
		sy := int((img.Extent.North - wy) / img.Extent.Height() * float64(tex.Height))
		if sy < 0 || sy >= tex.Height {
			continue
		}
		for px := dstX0; px < dstX1; px++ {
			if px < 0 || px >= opts.Width {
				continue
			}
			wx := opts.Extent.West + (float64(px)+0.5)/float64(opts.Width)*opts.Extent.Width()
			sx := int((wx - img.Extent.West) / img.Extent.Width() * float64(tex.Width))
			if sx < 0 || sx >= tex.Width {
				continue
			}
			di := (py*opts.Width + px) * dc
			si := (sy*tex.Width + sx) * sc
			if tex.Type == render.TypeFloat32 {
				dst.Floats[di] = tex.Floats[si]
				if sc > 1 {
					dst.Floats[di+1] = tex.Floats[si+1]
				} else {
					dst.Floats[di+1] = 1
				}
			} else {
				dst.Floats[di] = float32(tex.Pixels[si])
				dst.Floats[di+1] = 1
			}
		}
	}
}

func sortByExtentAreaDesc(imgs []*source.Image) {
	// Insertion sort: the lists are short (a handful of tiles per paint).
	for i := 1; i < len(imgs); i++ {
		for j := i; j > 0; j-- {
			a := imgs[j-1].Extent
			b := imgs[j].Extent
			if a.Width()*a.Height() >= b.Width()*b.Height() {
				break
			}
			imgs[j-1], imgs[j] = imgs[j], imgs[j-1]
		}
	}
}
