package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// ErrNormalize marks input that could not be decoded or re-encoded.
var ErrNormalize = errors.New("image normalization failed")

const (
	minQuality   = 40
	qualityStep  = 10
	scaleStep    = 0.75
	maxDownscale = 10
	groupLimit   = 4
)

// NormalizeOptions bounds the encoded output.
type NormalizeOptions struct {
	MaxBytes     int
	MaxDimension int
	Quality      int
}

// Normalizer turns arbitrary acquired images into size-bounded JPEG assets.
type Normalizer struct {
	opts   NormalizeOptions
	logger logger.Logger
}

// GroupError reports a submission group that was rejected as a whole.
type GroupError struct {
	Failed int
	Total  int
	Cause  error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%d of %d images could not be processed: %v", e.Failed, e.Total, e.Cause)
}

func (e *GroupError) Unwrap() error { return e.Cause }

func NewNormalizer(opts NormalizeOptions, log logger.Logger) *Normalizer {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 1024 * 1024
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 2048
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	return &Normalizer{opts: opts, logger: log}
}

// Normalize decodes raw, fits it into the dimension bound and re-encodes it as JPEG,
// stepping quality and then scale down until the output fits under MaxBytes.
// raw is never modified.
func (n *Normalizer) Normalize(raw []byte) (models.Asset, error) {
	if len(raw) == 0 {
		return models.Asset{}, fmt.Errorf("%w: empty input", ErrNormalize)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return models.Asset{}, fmt.Errorf("%w: failed to decode image: %v", ErrNormalize, err)
	}

	b := img.Bounds()
	if b.Dx() > n.opts.MaxDimension || b.Dy() > n.opts.MaxDimension {
		img = imaging.Fit(img, n.opts.MaxDimension, n.opts.MaxDimension, imaging.Lanczos)
	}
	img = flatten(img)

	// a configured quality below minQuality is still tried once
	floor := min(n.opts.Quality, minQuality)
	for attempt := 0; attempt <= maxDownscale; attempt++ {
		for q := n.opts.Quality; q >= floor; q -= qualityStep {
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
				return models.Asset{}, fmt.Errorf("%w: failed to encode image: %v", ErrNormalize, err)
			}
			if buf.Len() <= n.opts.MaxBytes {
				n.logger.Debug("Image normalized",
					logger.Int("inputBytes", len(raw)),
					logger.Int("outputBytes", buf.Len()),
					logger.Int("quality", q),
					logger.Int("width", img.Bounds().Dx()),
					logger.Int("height", img.Bounds().Dy()),
				)
				return models.Asset{Data: buf.Bytes(), MIMEType: "image/jpeg"}, nil
			}
		}

		w := int(float64(img.Bounds().Dx()) * scaleStep)
		h := int(float64(img.Bounds().Dy()) * scaleStep)
		if w < 1 || h < 1 {
			break
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	return models.Asset{}, fmt.Errorf("%w: could not fit image under %d bytes", ErrNormalize, n.opts.MaxBytes)
}

// NormalizeGroup normalizes a submission group. Either every image succeeds and the
// assets come back in input order, or a single *GroupError describes the whole group.
func (n *Normalizer) NormalizeGroup(ctx context.Context, raws [][]byte) ([]models.Asset, error) {
	assets := make([]models.Asset, len(raws))
	errs := make([]error, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(groupLimit)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			asset, err := n.Normalize(raw)
			if err != nil {
				errs[i] = err
				return nil
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed int
	var first error
	for _, err := range errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if failed > 0 {
		n.logger.Warn("Rejected image group",
			logger.Int("failed", failed),
			logger.Int("total", len(raws)),
			logger.Error(first),
		)
		return nil, &GroupError{Failed: failed, Total: len(raws), Cause: first}
	}
	return assets, nil
}

// flatten composites transparent pixels onto white so text stays readable after JPEG encoding.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
