package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrMimeTypeRequired indicates a required MIME type field is empty.
	ErrMimeTypeRequired = errors.New("mime_type is required")

	// ErrProcessingCodeRequired indicates a required processing code field is empty.
	ErrProcessingCodeRequired = errors.New("processing_code is required")

	// ErrInvalidLanguage indicates an unsupported pattern language.
	ErrInvalidLanguage = errors.New("invalid language: must be python, node, go, rust, java, or bash")

	// ErrPatternNotFound indicates a processing pattern was not found.
	ErrPatternNotFound = errors.New("processing pattern not found")

	// ErrInvalidDecisionPoint indicates an unknown decision point value.
	ErrInvalidDecisionPoint = errors.New("invalid decision point")
)
