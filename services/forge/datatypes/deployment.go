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

import "time"

// DeploymentState is the settled result of one hosting build.
type DeploymentState string

const (
	DeploymentReady DeploymentState = "READY"
	DeploymentError DeploymentState = "ERROR"
)

// LogExcerptLimit bounds the build log kept per deployment.
const LogExcerptLimit = 240

// Deployment is one external build attempt. Never mutated after creation.
type Deployment struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"projectId"`
	Attempt         int             `json:"attempt"`
	State           DeploymentState `json:"state"`
	BuildLogExcerpt string          `json:"buildLogExcerpt"`
	URL             string          `json:"url,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Excerpt returns at most the first n characters of s.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
