package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders for the source image formats the upload UI accepts.
	_ "image/png"
)

// Thumbnail geometry and encoding constants: a fixed 16:9 center crop
// encoded as JPEG at a constant quality.
const (
	thumbnailWidth   = 320
	thumbnailHeight  = 180
	thumbnailQuality = 80
)

// renderThumbnail decodes an image, center-crops it to the thumbnail aspect
// ratio and scales it to the fixed thumbnail size, returning JPEG bytes.
func renderThumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	cropped := centerCrop(src, thumbnailWidth, thumbnailHeight)
	scaled := scaleNearest(cropped, thumbnailWidth, thumbnailHeight)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}

// centerCrop returns the largest centered sub-rectangle of src matching the
// target aspect ratio.
func centerCrop(src image.Image, targetW, targetH int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	cropW, cropH := srcW, srcH
	if srcW*targetH > srcH*targetW {
		// Wider than target: trim the sides.
		cropW = srcH * targetW / targetH
	} else {
		// Taller than target: trim top and bottom.
		cropH = srcW * targetH / targetW
	}

	x0 := bounds.Min.X + (srcW-cropW)/2
	y0 := bounds.Min.Y + (srcH-cropH)/2
	rect := image.Rect(x0, y0, x0+cropW, y0+cropH)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := src.(subImager); ok {
		return si.SubImage(rect)
	}

	out := image.NewRGBA(image.Rect(0, 0, cropW, cropH))
	for y := 0; y < cropH; y++ {
		for x := 0; x < cropW; x++ {
			out.Set(x, y, src.At(x0+x, y0+y))
		}
	}
	return out
}

// scaleNearest resamples src to the exact target size with nearest-neighbor
// sampling. Quality is sufficient for a 320x180 preview tile.
func scaleNearest(src image.Image, targetW, targetH int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	out := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		sy := bounds.Min.Y + y*srcH/targetH
		for x := 0; x < targetW; x++ {
			sx := bounds.Min.X + x*srcW/targetW
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out
}
