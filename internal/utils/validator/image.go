package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/mutulens/pkg/logger"
)

// ErrInvalidUpload is wrapped by every rejection returned from ReadFiles.
var ErrInvalidUpload = errors.New("invalid upload")

// ImageValidator 图片上传验证器
type ImageValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize  int64
	AllowedTypes []string
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// DefaultAllowedTypes are the formats the normalizer can decode.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff"}

func NewImageValidator(log logger.Logger, config *ValidatorConfig) *ImageValidator {
	if config == nil {
		config = &ValidatorConfig{}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 50 * 1024 * 1024
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = DefaultAllowedTypes
	}
	return &ImageValidator{logger: log, config: config}
}

// Validate checks size and sniffed content type; the file name only feeds FileInfo.
func (v *ImageValidator) Validate(filename string, data []byte) *ValidationResult {
	sum := sha256.Sum256(data)
	detected := mimetype.Detect(data)

	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      int64(len(data)),
			MimeType:  detected.String(),
			Extension: strings.ToLower(filepath.Ext(filename)),
			Hash:      hex.EncodeToString(sum[:]),
		},
	}

	if len(data) == 0 {
		result.addError("EMPTY_FILE", "File is empty", "size")
		return result
	}
	if int64(len(data)) > v.config.MaxFileSize {
		result.addError("FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize), "size")
	}
	if !v.allowed(detected) {
		result.addError("INVALID_MIME_TYPE",
			fmt.Sprintf("Content type %s is not an accepted image format", detected.String()), "mimeType")
	}
	return result
}

// ReadFile reads and validates one multipart upload.
func (v *ImageValidator) ReadFile(header *multipart.FileHeader) ([]byte, *ValidationResult, error) {
	f, err := header.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// 多读一个字节用于判断是否超限
	data, err := io.ReadAll(io.LimitReader(f, v.config.MaxFileSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, v.Validate(header.Filename, data), nil
}

// ReadFiles reads a submission group in order. Any invalid file rejects the whole group.
func (v *ImageValidator) ReadFiles(headers []*multipart.FileHeader) ([][]byte, error) {
	out := make([][]byte, 0, len(headers))
	for _, h := range headers {
		data, result, err := v.ReadFile(h)
		if err != nil {
			return nil, err
		}
		if !result.IsValid {
			v.logger.Warn("Rejected upload",
				logger.String("filename", h.Filename),
				logger.String("mimeType", result.FileInfo.MimeType),
				logger.String("code", result.Errors[0].Code),
			)
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidUpload, h.Filename, result.Errors[0].Message)
		}
		out = append(out, data)
	}
	return out, nil
}

func (v *ImageValidator) allowed(m *mimetype.MIME) bool {
	for _, t := range v.config.AllowedTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func (r *ValidationResult) addError(code, message, field string) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: message, Field: field})
}
