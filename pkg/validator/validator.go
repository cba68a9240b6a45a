package validator

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with custom validation rules
type Validator struct {
	validate *validator.Validate
}

// Config holds validation configuration
type Config struct {
	MaxFileSize        int64    `json:"max_file_size"`        // Maximum file size in bytes
	AllowedMimeTypes   []string `json:"allowed_mime_types"`   // Allowed MIME types
	AllowedExtensions  []string `json:"allowed_extensions"`   // Allowed file extensions
	MaxConcurrentReqs  int      `json:"max_concurrent_reqs"`  // Maximum concurrent requests
	MaxProcessingTime  int      `json:"max_processing_time"`  // Maximum processing time in seconds
	RequireContentType bool     `json:"require_content_type"` // Require content type header
	ScanForMalware     bool     `json:"scan_for_malware"`     // Enable malware scanning
	MinFileSize        int64    `json:"min_file_size"`        // Minimum file size in bytes
}

// DefaultConfig returns default validation configuration, limited to the
// document formats this system converts (spec.md §1: PDF, DOCX, HTML,
// PPTX, XLSX, RTF, ODT).
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:        50 * 1024 * 1024, // 50MB, per spec.md §6.3 max_file_size_mb default
		MinFileSize:        1,                // reject 0-byte uploads (spec.md §8 boundary case)
		MaxConcurrentReqs:  10,
		MaxProcessingTime:  300, // 5 minutes, per spec.md §6.3 conversion_timeout_seconds default
		RequireContentType: true,
		ScanForMalware:     false,
		AllowedMimeTypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/rtf",
			"application/vnd.oasis.opendocument.text",
			"text/html",
		},
		AllowedExtensions: []string{
			".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
			".rtf", ".odt", ".html", ".htm",
		},
	}
}

// New creates a new validator instance
func New(config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}

	validate := validator.New()

	// Register custom validation tags
	validate.RegisterValidation("file_size", validateFileSize(config.MinFileSize, config.MaxFileSize))
	validate.RegisterValidation("mime_type", validateMimeType(config.AllowedMimeTypes))
	validate.RegisterValidation("file_extension", validateFileExtension(config.AllowedExtensions))

	return &Validator{
		validate: validate,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates a struct, e.g. a /convert JSON request body.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err != nil {
		var validationErrors ValidationErrors
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, ValidationError{
				Field:   err.Field(),
				Tag:     err.Tag(),
				Value:   fmt.Sprintf("%v", err.Value()),
				Message: getErrorMessage(err),
			})
		}
		return validationErrors
	}
	return nil
}

// ValidateFile validates an uploaded file against size, extension, and MIME
// constraints before a job is ever created (spec.md §6.1 /upload, §8 S4).
func (v *Validator) ValidateFile(file *multipart.FileHeader, config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}

	var errors ValidationErrors

	// Validate file size
	if file.Size > config.MaxFileSize {
		errors = append(errors, ValidationError{
			Field:   "file_size",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d", file.Size),
			Message: fmt.Sprintf("File size %d bytes exceeds maximum allowed size of %d bytes", file.Size, config.MaxFileSize),
		})
	}

	if file.Size < config.MinFileSize {
		errors = append(errors, ValidationError{
			Field:   "file_size",
			Tag:     "min_size",
			Value:   fmt.Sprintf("%d", file.Size),
			Message: fmt.Sprintf("File size %d bytes is below minimum required size of %d bytes", file.Size, config.MinFileSize),
		})
	}

	// Validate file extension
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !contains(config.AllowedExtensions, ext) {
		errors = append(errors, ValidationError{
			Field:   "file_extension",
			Tag:     "allowed_extension",
			Value:   ext,
			Message: fmt.Sprintf("File extension '%s' is not allowed. Allowed extensions: %v", ext, config.AllowedExtensions),
		})
	}

	// Validate MIME type if header is available
	if config.RequireContentType && file.Header != nil {
		contentType := file.Header.Get("Content-Type")
		if contentType == "" {
			errors = append(errors, ValidationError{
				Field:   "content_type",
				Tag:     "required",
				Value:   "",
				Message: "Content-Type header is required",
			})
		} else if !contains(config.AllowedMimeTypes, contentType) {
			errors = append(errors, ValidationError{
				Field:   "content_type",
				Tag:     "allowed_mime_type",
				Value:   contentType,
				Message: fmt.Sprintf("MIME type '%s' is not allowed. Allowed types: %v", contentType, config.AllowedMimeTypes),
			})
		}
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

// ValidateSourceURL validates that a /convert JSON source is HTTP(S), per
// spec.md §6.1's constraint that URL sources must be HTTP(S).
func (v *Validator) ValidateSourceURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ValidationErrors{{
			Field:   "source",
			Tag:     "http_url",
			Value:   rawURL,
			Message: "source URL must use http or https",
		}}
	}
	return nil
}

// IsSuspiciousFile checks for potentially malicious files
func (v *Validator) IsSuspiciousFile(filename string, content []byte) (bool, string) {
	// Check for suspicious file names
	suspiciousPatterns := []string{
		"../", "..\\", // Path traversal
		"<script", "javascript:", // Script injection
		"<?php", "<%", // Server-side scripts
		"cmd.exe", "powershell", // Executables
	}

	filename = strings.ToLower(filename)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(filename, pattern) {
			return true, fmt.Sprintf("Suspicious filename pattern detected: %s", pattern)
		}
	}

	// Check file content for suspicious patterns (first 1KB)
	if len(content) > 0 {
		contentStr := strings.ToLower(string(content[:min(len(content), 1024)]))
		for _, pattern := range suspiciousPatterns {
			if strings.Contains(contentStr, pattern) {
				return true, fmt.Sprintf("Suspicious content pattern detected: %s", pattern)
			}
		}
	}

	return false, ""
}

// Custom validation functions
func validateFileSize(minSize, maxSize int64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		size := fl.Field().Int()
		return size >= minSize && size <= maxSize
	}
}

func validateMimeType(allowedTypes []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		mimeType := fl.Field().String()
		return contains(allowedTypes, mimeType)
	}
}

func validateFileExtension(allowedExtensions []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		ext := strings.ToLower(fl.Field().String())
		return contains(allowedExtensions, ext)
	}
}

// Helper functions
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s", err.Field(), err.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", err.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", err.Field())
	case "file_size":
		return fmt.Sprintf("%s has invalid file size", err.Field())
	case "mime_type":
		return fmt.Sprintf("%s has unsupported MIME type", err.Field())
	case "file_extension":
		return fmt.Sprintf("%s has unsupported file extension", err.Field())
	default:
		return fmt.Sprintf("%s is invalid", err.Field())
	}
}

// Global validator instance
var globalValidator *Validator

// Init initializes the global validator
func Init(config *Config) {
	globalValidator = New(config)
}

// Get returns the global validator
func Get() *Validator {
	if globalValidator == nil {
		globalValidator = New(DefaultConfig())
	}
	return globalValidator
}
