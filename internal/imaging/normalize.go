// Package imaging turns uploaded images into model-ready JPEG blobs.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"lifeledger/internal/agent"
)

const OutputMIMEType = "image/jpeg"

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrDecode          = errors.New("image processing failed")
)

// Upload is one uploaded file as received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Options controls normalization. MaxPixels caps the decoded width times
// height and is checked against the image header before any pixel data is
// decoded.
type Options struct {
	MaxDimension int
	Quality      int
	MaxPixels    int
}

func DefaultOptions() Options {
	return Options{MaxDimension: 1024, Quality: 85, MaxPixels: 50_000_000}
}

// Normalize decodes u, flattens it onto white, scales it so the longest side
// is at most MaxDimension and re-encodes it as JPEG.
func Normalize(u Upload, opts Options) (agent.Blob, error) {
	if !isImageType(u.ContentType) {
		return agent.Blob{}, fmt.Errorf("%w: %q", ErrUnsupportedType, u.ContentType)
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultOptions().MaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultOptions().Quality
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultOptions().MaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(u.Data))
	if err != nil {
		return agent.Blob{}, fmt.Errorf("%w: %s: %v", ErrDecode, u.Filename, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(opts.MaxPixels) {
		return agent.Blob{}, fmt.Errorf("%w: %s: %dx%d exceeds %d pixels", ErrDecode, u.Filename, cfg.Width, cfg.Height, opts.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(u.Data))
	if err != nil {
		return agent.Blob{}, fmt.Errorf("%w: %s: %v", ErrDecode, u.Filename, err)
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), opts.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return agent.Blob{}, fmt.Errorf("%w: encode %s: %v", ErrDecode, u.Filename, err)
	}
	return agent.Blob{MIMEType: OutputMIMEType, Data: buf.Bytes()}, nil
}

// NormalizeAll normalizes uploads in order, stopping at the first failure.
func NormalizeAll(uploads []Upload, opts Options) ([]agent.Blob, error) {
	blobs := make([]agent.Blob, 0, len(uploads))
	for _, u := range uploads {
		b, err := Normalize(u, opts)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, nil
}

func isImageType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

func fitWithin(w, h, maxDim int) (int, int) {
	longest := max(w, h)
	if longest <= maxDim {
		return w, h
	}
	ratio := float64(maxDim) / float64(longest)
	return max(1, int(float64(w)*ratio)), max(1, int(float64(h)*ratio))
}
