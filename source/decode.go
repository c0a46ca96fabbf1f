package source

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/webp"

	"github.com/MeKo-Tech/terrastream/render"
)

// DecodeImage decodes PNG, JPEG or WebP tile bytes into an NRGBA image.
func DecodeImage(data []byte) (*image.NRGBA, error) {
	var img image.Image
	var err error
	if isWebP(data) {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("source: decode tile: %w", err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Rect, img, img.Bounds().Min, draw.Src)
	return out, nil
}

// DecodeTexture decodes tile bytes straight into an RGBA texture.
func DecodeTexture(data []byte) (*render.Texture, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	// Normalize the origin so the texture's pixel buffer starts at (0,0).
	if img.Rect.Min != (image.Point{}) {
		shifted := image.NewNRGBA(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
		draw.Draw(shifted, shifted.Rect, img, img.Rect.Min, draw.Src)
		img = shifted
	}
	return render.TextureFromImage(img), nil
}

// textureFromRendered wraps a renderer-produced NRGBA image, normalizing a
// non-zero origin first.
func textureFromRendered(img *image.NRGBA) *render.Texture {
	if img.Rect.Min != (image.Point{}) {
		shifted := image.NewNRGBA(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
		draw.Draw(shifted, shifted.Rect, img, img.Rect.Min, draw.Src)
		img = shifted
	}
	return render.TextureFromImage(img)
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}
