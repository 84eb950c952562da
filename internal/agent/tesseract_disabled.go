//go:build !tesseract

package agent

import (
	"fmt"

	"github.com/feichai0017/mutulens/pkg/logger"
)

// Local OCR links libtesseract through cgo; build with -tags tesseract to enable it.
func newTesseractExtractor(_ []string, log logger.Logger) (Extractor, error) {
	log.Error("Tesseract provider requested but not compiled in")
	return nil, fmt.Errorf("%w: tesseract (build with -tags tesseract)", ErrProviderUnavailable)
}
