// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianForge/pkg/validation"
	"github.com/go-playground/validator/v10"
)

// Bundle import limits.
const (
	MaxBundleFiles   = 40
	MaxBundleTotalKB = 300
)

// ErrInvalidBundle is returned when an AppBundle fails validation.
var ErrInvalidBundle = errors.New("bundle invalid")

// ErrBundleTooLarge is returned when an AppBundle exceeds the import limits.
var ErrBundleTooLarge = errors.New("bundle too large")

// AppFile is one file of an imported bundle.
type AppFile struct {
	Path     string `json:"path" validate:"required"`
	Mime     string `json:"mime" validate:"required,oneof=text/html text/css text/javascript application/json image/svg+xml image/png image/jpeg"`
	Content  string `json:"content" validate:"required"`
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=utf8 base64"`
}

// AppBundle is a self-contained web bundle produced outside the
// plan/code pipeline and imported as a snapshot.
type AppBundle struct {
	Runtime             string    `json:"runtime" validate:"required,oneof=web-standalone web-esm-cdn web-vite"`
	Entry               string    `json:"entry" validate:"required"`
	Title               string    `json:"title,omitempty"`
	PreviewInstructions string    `json:"previewInstructions,omitempty"`
	Files               []AppFile `json:"files" validate:"required,dive"`
}

// BundleValidationError lists every problem found in a bundle.
type BundleValidationError struct {
	Problems []string
}

func (e *BundleValidationError) Error() string {
	return fmt.Sprintf("%s: %d problem(s)", ErrInvalidBundle.Error(), len(e.Problems))
}

func (e *BundleValidationError) Unwrap() error { return ErrInvalidBundle }

// CheckBundleLimits enforces the file count and total size limits.
func CheckBundleLimits(b *AppBundle) error {
	if b == nil {
		return nil
	}
	if len(b.Files) > MaxBundleFiles {
		return fmt.Errorf("%w: %d files exceeds limit of %d", ErrBundleTooLarge, len(b.Files), MaxBundleFiles)
	}
	total := 0
	for _, f := range b.Files {
		total += len(f.Content)
	}
	if float64(total)/1024 > MaxBundleTotalKB {
		return fmt.Errorf("%w: %d bytes exceeds limit of %dKB", ErrBundleTooLarge, total, MaxBundleTotalKB)
	}
	return nil
}

// ValidateBundle checks b against its schema tags and the path rules of
// package validation, and returns a *BundleValidationError describing each
// failed field.
func ValidateBundle(b *AppBundle) error {
	if b == nil {
		return &BundleValidationError{Problems: []string{"root must be object"}}
	}
	var problems []string
	if err := forgeValidate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &BundleValidationError{Problems: []string{err.Error()}}
		}
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required":
				problems = append(problems, fmt.Sprintf("missing required: %s", fe.Namespace()))
			case "oneof":
				problems = append(problems, fmt.Sprintf("invalid %s: %v", fe.Namespace(), fe.Value()))
			default:
				problems = append(problems, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		}
	}
	for i, f := range b.Files {
		if f.Path == "" {
			continue
		}
		if err := validation.ValidateFilePath(f.Path); err != nil {
			problems = append(problems, fmt.Sprintf("unsafe AppBundle.Files[%d].Path: %q", i, f.Path))
		}
	}
	if b.Entry != "" && validation.ValidateFilePath(b.Entry) != nil {
		problems = append(problems, fmt.Sprintf("unsafe AppBundle.Entry: %q", b.Entry))
	}
	if len(problems) == 0 {
		return nil
	}
	return &BundleValidationError{Problems: problems}
}

// Records converts the bundle files into snapshot records.
func (b *AppBundle) Records() []FileRecord {
	out := make([]FileRecord, 0, len(b.Files))
	for _, f := range b.Files {
		out = append(out, FileRecord{Path: f.Path, Content: f.Content})
	}
	return NormalizeFiles(out)
}
