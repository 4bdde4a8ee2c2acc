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
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxPromptBytes bounds a single user instruction.
const MaxPromptBytes = 32 * 1024

// forgeValidate is the validator instance for forge request types.
// Initialized in init() with custom validators.
var forgeValidate *validator.Validate

func init() {
	forgeValidate = validator.New()
	_ = forgeValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = forgeValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes bounds the byte length of a string field. The limit
// is the tag parameter when present, MaxPromptBytes otherwise.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit := MaxPromptBytes
	if p := fl.Param(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &limit); err != nil {
			return false
		}
	}
	return len(fl.Field().String()) <= limit
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// GenerateRequest is one user instruction for the plan/code pipeline.
type GenerateRequest struct {
	Prompt    string `json:"prompt" validate:"required,notblank,min=3,maxbytes"`
	ProjectID string `json:"projectId,omitempty" validate:"omitempty,uuid"`
}

// Validate checks the request against its struct tags.
func (r *GenerateRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	return forgeValidate.Struct(r)
}

// InitProjectRequest creates a project from a prompt without generating.
type InitProjectRequest struct {
	Prompt string `json:"prompt" validate:"required,notblank,min=3,maxbytes"`
}

// Validate checks the request against its struct tags.
func (r *InitProjectRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	return forgeValidate.Struct(r)
}

// ImportBundleRequest wraps an AppBundle with an optional target project.
type ImportBundleRequest struct {
	Bundle    *AppBundle `json:"bundle" validate:"required"`
	ProjectID string     `json:"projectId,omitempty" validate:"omitempty,uuid"`
	Name      string     `json:"name,omitempty" validate:"omitempty,max=120"`
}

// Validate checks the envelope. The bundle itself is checked by
// ValidateBundle so the caller can report every problem at once.
func (r *ImportBundleRequest) Validate() error {
	return forgeValidate.Struct(r)
}
