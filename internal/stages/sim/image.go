package sim

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/zeebo/blake3"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// ImagePrompter writes the prompt for the post's illustration.
type ImagePrompter struct{}

func (ImagePrompter) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	topic := in.Doc.String("topic")
	prompt := fmt.Sprintf("Minimalist flat illustration representing %q. Clean geometric shapes, two accent colors, no text, no logos, no faces.", topic)
	return runtime.OK(runtime.Document{"prompt": prompt}, usage(in.Doc.String("post_text"), prompt))
}

const imageSize = 256

// ImageGenerator renders a gradient whose colors are derived from the prompt.
type ImageGenerator struct{}

func (ImageGenerator) CallKind() cost.CallKind { return cost.CallImage }

func (ImageGenerator) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	sum := blake3.Sum256([]byte(in.Doc.String("prompt")))
	from := color.RGBA{sum[0], sum[1], sum[2], 0xff}
	to := color.RGBA{sum[3], sum[4], sum[5], 0xff}
	b, err := encodeGradient(imageSize, from, to)
	if err != nil {
		return runtime.Fail(runtime.NewError(runtime.KindInternal, "encode image: %v", err), runtime.Metrics{})
	}
	return runtime.OK(imageDocument(b), runtime.Metrics{Images: 1, Model: modelName})
}

// Fallback renders a flat gray placeholder.
func (ImageGenerator) Fallback(_ context.Context, _ engine.StageInput, _ *runtime.StageError) (runtime.Envelope, string) {
	gray := color.RGBA{0xb0, 0xb0, 0xb0, 0xff}
	b, err := encodeGradient(64, gray, gray)
	if err != nil {
		return runtime.Fail(runtime.NewError(runtime.KindInternal, "encode placeholder: %v", err), runtime.Metrics{}), ""
	}
	return runtime.OK(imageDocument(b), runtime.Metrics{Model: modelName}), "placeholder_image"
}

func imageDocument(b []byte) runtime.Document {
	return runtime.Document{
		"png_base64": base64.StdEncoding.EncodeToString(b),
		"mime_type":  "image/png",
	}
}

func encodeGradient(size int, from, to color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		c := color.RGBA{
			R: lerp(from.R, to.R, y, size-1),
			G: lerp(from.G, to.G, y, size-1),
			B: lerp(from.B, to.B, y, size-1),
			A: 0xff,
		}
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, i, n int) uint8 {
	if n <= 0 {
		return a
	}
	return uint8(int(a) + (int(b)-int(a))*i/n)
}
