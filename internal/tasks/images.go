package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/gif"
	"image/png"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/tdewolff/minify/v2"

	"github.com/poltergeist/haunt/internal/pipeline"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/utils"
)

// ImageOptimizer re-encodes images, keeping a result only when it is smaller
type ImageOptimizer struct {
	// JPEGQuality enables lossy JPEG re-encoding; 0 keeps JPEGs lossless
	JPEGQuality int
	m           *minify.M
}

// NewImageOptimizer creates an optimizer; quality outside 1..100 keeps
// JPEGs lossless
func NewImageOptimizer(jpegQuality int) *ImageOptimizer {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 0
	}
	return &ImageOptimizer{JPEGQuality: jpegQuality, m: newMinifier()}
}

// Optimize returns the smaller of src and its re-encoding. Formats it does
// not know are returned unchanged.
func (o *ImageOptimizer) Optimize(name string, src []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		out, err = o.encode(src, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case ".jpg", ".jpeg":
		if o.JPEGQuality == 0 {
			out, err = stripJPEGMetadata(src)
		} else {
			out, err = o.encode(src, imaging.JPEG, imaging.JPEGQuality(o.JPEGQuality))
		}
	case ".gif":
		out, err = reencodeGIF(src)
	case ".svg":
		out, err = o.m.Bytes("image/svg+xml", src)
	default:
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out) >= len(src) {
		return src, nil
	}
	return out, nil
}

func (o *ImageOptimizer) encode(src []byte, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stripJPEGMetadata drops comment and metadata segments. JFIF, ICC profile
// and Adobe segments are kept; the image data is copied byte for byte.
func stripJPEGMetadata(src []byte) ([]byte, error) {
	if len(src) < 4 || src[0] != 0xFF || src[1] != 0xD8 {
		return nil, errors.New("jpeg: missing SOI marker")
	}
	out := make([]byte, 0, len(src))
	out = append(out, src[:2]...)

	for i := 2; i+1 < len(src); {
		if src[i] != 0xFF {
			return nil, fmt.Errorf("jpeg: expected marker at offset %d", i)
		}
		marker := src[i+1]
		switch {
		case marker == 0xFF:
			// fill byte
			i++
			continue
		case marker == 0xDA:
			// start of scan; everything after it is image data
			return append(out, src[i:]...), nil
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			out = append(out, src[i:i+2]...)
			i += 2
			continue
		}

		if i+4 > len(src) {
			break
		}
		n := int(src[i+2])<<8 | int(src[i+3])
		if n < 2 || i+2+n > len(src) {
			return nil, fmt.Errorf("jpeg: truncated segment at offset %d", i)
		}
		if !metadataSegment(marker) {
			out = append(out, src[i:i+2+n]...)
		}
		i += 2 + n
	}
	return nil, errors.New("jpeg: missing image data")
}

// metadataSegment reports whether a marker holds data a decoder ignores:
// comments and APPn segments other than JFIF (APP0), ICC (APP2) and Adobe
// (APP14)
func metadataSegment(marker byte) bool {
	switch marker {
	case 0xFE:
		return true
	case 0xE0, 0xE2, 0xEE:
		return false
	}
	return marker >= 0xE1 && marker <= 0xEF
}

// reencodeGIF keeps every frame; imaging only decodes the first one
func reencodeGIF(src []byte) ([]byte, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// runImages optimises every image into the images destination
func (e *Env) runImages(ctx context.Context) error {
	cfg := e.Config()
	log := e.log(ctx)

	files, err := pipeline.Src(e.Root, cfg.Paths.Src.Images)
	if err != nil {
		return fmt.Errorf("images: %w", err)
	}

	opt := NewImageOptimizer(cfg.Images.JPEGQuality)
	var before, after int64
	optimized := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := opt.Optimize(f.Rel, f.Contents)
		if err != nil {
			return fmt.Errorf("images: %s: %w", f.Path, err)
		}
		before += int64(len(f.Contents))
		after += int64(len(out))
		if len(out) < len(f.Contents) {
			optimized++
		}
		f.Contents = out
	}

	if _, err := pipeline.Dest(e.Root, cfg.Paths.Dest.Images, files...); err != nil {
		return fmt.Errorf("images: %w", err)
	}

	fields := []logger.Field{
		logger.WithField("images", len(files)),
		logger.WithField("optimized", optimized),
		logger.WithField("saved", utils.FormatBytes(before-after)),
	}
	if before > 0 {
		fields = append(fields, logger.WithField("percent", fmt.Sprintf("%.1f%%", float64(before-after)*100/float64(before))))
	}
	log.Info("Minified images", fields...)
	return nil
}

// runFonts copies fonts unchanged
func (e *Env) runFonts(ctx context.Context) error {
	cfg := e.Config()

	files, err := pipeline.Src(e.Root, cfg.Paths.Src.Fonts)
	if err != nil {
		return fmt.Errorf("fonts: %w", err)
	}
	if _, err := pipeline.Dest(e.Root, cfg.Paths.Dest.Fonts, files...); err != nil {
		return fmt.Errorf("fonts: %w", err)
	}
	e.log(ctx).Info("Copied fonts", logger.WithField("fonts", len(files)))
	return nil
}
