package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func encodeTestJPEG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestVGGTransformShapeHWC(t *testing.T) {
	raw := encodeTestJPEG(t, 640, 480, color.RGBA{200, 100, 50, 255})

	pipeline := NewImagePipeline(VGGConfig(224, 224))
	out, err := pipeline.Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{224, 224, 3}, out.Shape())
	data := out.Data().([]float32)
	require.Len(t, data, 224*224*3)

	// Mean subtraction pulls values into roughly [-124, 152].
	for _, v := range data {
		assert.GreaterOrEqual(t, v, float32(-124))
		assert.LessOrEqual(t, v, float32(152))
	}
}

func TestVGGTransformShapeCHW(t *testing.T) {
	raw := encodeTestJPEG(t, 300, 300, color.RGBA{10, 20, 30, 255})

	cfg := VGGConfig(224, 224)
	cfg.Layout = LayoutCHW
	pipeline := NewImagePipeline(cfg)

	out, err := pipeline.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 224, 224}, out.Shape())
}

func TestMobileNetTransformRange(t *testing.T) {
	raw := encodeTestJPEG(t, 640, 480, color.RGBA{200, 100, 50, 255})

	pipeline := NewImagePipeline(MobileNetConfig(224, 224))
	out, err := pipeline.Transform(raw)
	require.NoError(t, err)

	for _, v := range out.Data().([]float32) {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestTransformUniformColor(t *testing.T) {
	// A uniform mid-gray image normalizes to near-zero everywhere
	// under the mobilenet profile.
	raw := encodeTestJPEG(t, 256, 256, color.RGBA{128, 128, 128, 255})

	pipeline := NewImagePipeline(MobileNetConfig(224, 224))
	out, err := pipeline.Transform(raw)
	require.NoError(t, err)

	for _, v := range out.Data().([]float32) {
		assert.InDelta(t, 0.0, v, 0.05)
	}
}

func TestTransformPortraitAndLandscape(t *testing.T) {
	pipeline := NewImagePipeline(VGGConfig(224, 224))

	for _, dims := range [][2]int{{480, 640}, {640, 480}, {224, 224}} {
		raw := encodeTestJPEG(t, dims[0], dims[1], color.RGBA{90, 90, 90, 255})
		out, err := pipeline.Transform(raw)
		require.NoError(t, err, "dims %v", dims)
		assert.Equal(t, tensor.Shape{224, 224, 3}, out.Shape())
	}
}

func TestTransformRejectsEmptyAndGarbage(t *testing.T) {
	pipeline := NewImagePipeline(VGGConfig(224, 224))

	_, err := pipeline.Transform(nil)
	require.Error(t, err)

	_, err = pipeline.Transform([]byte("not an image"))
	require.Error(t, err)
}
