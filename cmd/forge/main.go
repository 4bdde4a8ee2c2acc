// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge runs the forge service and inspects its projects.
//
//	forge serve                      run the HTTP API
//	forge projects                   list your projects
//	forge history <project>          list snapshots, newest first
//	forge diff <project> <snapshot>  show what a snapshot changed
//	forge rollback <project> <snap>  restore a snapshot
//	forge deploy <project>           deploy the current snapshot
//	forge config                     show the effective configuration
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
