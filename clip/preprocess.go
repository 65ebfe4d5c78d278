package clip

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// Preprocess decodes every image, resizes it to fill size x size (center crop,
// no letterboxing) and normalizes it with clipMean and clipStd.
// The first undecodable image fails the call with an *ImageDecodeError.
func Preprocess(images []RawImage, size int) (*ImageBatch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("clip: invalid image size %d", size)
	}
	if len(images) == 0 {
		return nil, ErrEmptyBatch
	}

	plane := size * size
	batch := &ImageBatch{
		N:    len(images),
		Size: size,
		Data: make([]float32, len(images)*3*plane),
	}
	for i, raw := range images {
		img, err := decode(raw)
		if err != nil {
			return nil, &ImageDecodeError{Index: i, Err: err}
		}
		fill(batch.Image(i), img, size)
	}
	return batch, nil
}

func decode(raw RawImage) (image.Image, error) {
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	return img, nil
}

// fill writes the normalized CHW pixels of img into out.
func fill(out []float32, img image.Image, size int) {
	nrgba := imaging.Fill(img, size, size, imaging.Center, imaging.Linear)

	plane := size * size
	rBase := 0
	gBase := plane
	bBase := 2 * plane

	for y := range size {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range size {
			// alpha is dropped, same as converting to RGB8
			px := row[4*x : 4*x+3]
			out[rBase] = (float32(px[0])/255.0 - clipMean[0]) / clipStd[0]
			out[gBase] = (float32(px[1])/255.0 - clipMean[1]) / clipStd[1]
			out[bBase] = (float32(px[2])/255.0 - clipMean[2]) / clipStd[2]

			rBase++
			gBase++
			bBase++
		}
	}
}
