// Package preprocess turns raw encoded images into normalized float32
// tensors ready for inference. Transforms are pure: no shared state,
// safe for concurrent use.
package preprocess

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Pipeline converts one raw item into its in-memory tensor form.
type Pipeline interface {
	Transform(raw []byte) (*tensor.Dense, error)
}

// Layout defines the channel ordering of the output tensor.
type Layout int

const (
	// LayoutHWC is Height-Width-Channel ordering.
	LayoutHWC Layout = iota
	// LayoutCHW is Channel-Height-Width ordering (common for ONNX).
	LayoutCHW
)

// Config defines the preprocessing applied by an ImagePipeline.
type Config struct {
	// Name of the profile for debugging purposes.
	Name string
	// Height and Width are the model input dimensions.
	Height int
	Width  int
	// Means are per-channel values subtracted after float conversion.
	// Empty means no mean subtraction.
	Means []float32
	// ScaleToUnit divides pixels by 255 and recenters to [-1, 1]
	// before mean subtraction.
	ScaleToUnit bool
	// Layout selects HWC or CHW output ordering.
	Layout Layout
	// CropScale controls the aspect-ratio resize that precedes the
	// center crop. Defaults to 87.5 when zero.
	CropScale float64
}

// ImagePipeline decodes, resizes, crops and normalizes images
// according to a Config.
type ImagePipeline struct {
	cfg Config
}

// VGGConfig returns the preprocessing profile used by VGG and ResNet
// style classifiers: per-channel mean subtraction, no scaling.
func VGGConfig(height, width int) Config {
	return Config{
		Name:   "vgg",
		Height: height,
		Width:  width,
		Means:  []float32{123.68, 116.78, 103.94},
		Layout: LayoutHWC,
	}
}

// MobileNetConfig returns the preprocessing profile used by MobileNet
// style classifiers: pixels scaled to [-1, 1].
func MobileNetConfig(height, width int) Config {
	return Config{
		Name:        "mobilenet",
		Height:      height,
		Width:       width,
		ScaleToUnit: true,
		Layout:      LayoutHWC,
	}
}

// NewImagePipeline creates a pipeline for the given profile.
func NewImagePipeline(cfg Config) *ImagePipeline {
	if cfg.CropScale <= 0 {
		cfg.CropScale = 87.5
	}
	return &ImagePipeline{cfg: cfg}
}

// Transform decodes raw image bytes and produces a normalized tensor
// of shape (H, W, 3) or (3, H, W) depending on the configured layout.
func (p *ImagePipeline) Transform(raw []byte) (*tensor.Dense, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty image data")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}

	img = p.resizeWithAspectRatio(img)
	img = p.centerCrop(img)

	data := p.normalize(img)

	var shape tensor.Shape
	if p.cfg.Layout == LayoutCHW {
		shape = tensor.Shape{3, p.cfg.Height, p.cfg.Width}
	} else {
		shape = tensor.Shape{p.cfg.Height, p.cfg.Width, 3}
	}

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// resizeWithAspectRatio scales the short side so that the subsequent
// center crop covers CropScale percent of the target dimensions.
func (p *ImagePipeline) resizeWithAspectRatio(img image.Image) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	newHeight := int(100.0 * float64(p.cfg.Height) / p.cfg.CropScale)
	newWidth := int(100.0 * float64(p.cfg.Width) / p.cfg.CropScale)

	var w, h int
	if srcHeight > srcWidth {
		w = newWidth
		h = int(float64(p.cfg.Height) * float64(srcWidth) / float64(newWidth))
	} else {
		h = newHeight
		w = int(float64(p.cfg.Width) * float64(srcHeight) / float64(newHeight))
	}

	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}

func (p *ImagePipeline) centerCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	left := bounds.Min.X + (bounds.Dx()-p.cfg.Width)/2
	top := bounds.Min.Y + (bounds.Dy()-p.cfg.Height)/2

	cropped := image.NewRGBA(image.Rect(0, 0, p.cfg.Width, p.cfg.Height))
	for y := 0; y < p.cfg.Height; y++ {
		for x := 0; x < p.cfg.Width; x++ {
			cropped.Set(x, y, img.At(left+x, top+y))
		}
	}
	return cropped
}

// normalize converts the cropped image into float32 data in the
// configured layout, applying scaling and mean subtraction.
func (p *ImagePipeline) normalize(img image.Image) []float32 {
	height := p.cfg.Height
	width := p.cfg.Width
	data := make([]float32, 3*height*width)

	channelSize := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			px := [3]float32{
				float32(r >> 8),
				float32(g >> 8),
				float32(b >> 8),
			}

			for c := 0; c < 3; c++ {
				v := px[c]
				if p.cfg.ScaleToUnit {
					v = v/255.0*2.0 - 1.0
				}
				if len(p.cfg.Means) == 3 {
					v -= p.cfg.Means[c]
				}
				if p.cfg.Layout == LayoutCHW {
					data[c*channelSize+y*width+x] = v
				} else {
					data[(y*width+x)*3+c] = v
				}
			}
		}
	}

	return data
}
