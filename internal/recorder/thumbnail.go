// thumbnail.go generates alert thumbnails from buffered frames.
package recorder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/kestrelwatch/kestrel/internal/video"
)

// writeThumbnail decodes a frame, scales it down to at most maxWidth pixels
// wide and writes it as JPEG. Aspect ratio is preserved.
func writeThumbnail(frame *video.Frame, path string, maxWidth int) error {
	if frame == nil || len(frame.Data) == 0 {
		return fmt.Errorf("no frame available for thumbnail")
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return fmt.Errorf("decoding frame for thumbnail: %w", err)
	}

	scaled := scaleDown(img, maxWidth)

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating thumbnail file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: 80}); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}
	return nil
}

// scaleDown resizes with nearest-neighbor sampling. Thumbnails are preview
// assets; sampling quality is not worth an image-processing dependency.
func scaleDown(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW <= maxWidth || srcW == 0 {
		return img
	}

	dstW := maxWidth
	dstH := srcH * maxWidth / srcW
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := bounds.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + x*srcW/dstW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
