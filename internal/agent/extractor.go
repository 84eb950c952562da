package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/mutulens/internal/models"
)

// ErrProviderUnavailable is returned for a provider left out of this build.
var ErrProviderUnavailable = errors.New("extraction provider not available in this build")

// Extractor turns one image asset into text.
type Extractor interface {
	// Extract sends asset to the provider. credential may be empty for providers that
	// do not require one. instructions are appended to the prompt verbatim.
	Extract(ctx context.Context, asset models.Asset, credential, instructions string) (Result, error)

	// RequiresCredential reports whether Extract fails without a credential.
	RequiresCredential() bool

	Name() string
}

const promptTemplate = `Task: Extract and organize text from this image.

Guidelines:
1. Handwriting Legibility: If the text is handwritten and unclear, use your intelligence to decipher it and make it legible.
2. Logical Sequencing: Ensure the extracted text is in the correct logical order. If the writing is jumbled or out of order, rearrange it so it makes sense.
3. Formatting: Preserve the original formatting where possible, but prioritize logical flow.
4. Explanation: Provide a brief explanation of how you determined the sequence of the text (e.g., why certain parts precede others).

Format your response as JSON with the following structure:
{
  "text": "The full extracted and ordered text here",
  "explanation": "Brief explanation of the sequencing logic here"
}

Additional Instructions: %s`

// BuildPrompt renders the extraction prompt with the caller's free-form instructions.
func BuildPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = "None"
	}
	return fmt.Sprintf(promptTemplate, instructions)
}
