//go:build tesseract

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/pkg/logger"
)

func TestNewTesseractExtractor(t *testing.T) {
	ex, err := NewExtractor(context.Background(), cfg.ExtractionConfig{Provider: "tesseract"}, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "tesseract", ex.Name())
	assert.False(t, ex.RequiresCredential())
}
