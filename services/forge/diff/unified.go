// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"bytes"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

const (
	// contextLines is the number of unchanged lines around each hunk.
	contextLines = 3

	// maxLCSCells bounds the LCS table. Larger files are rendered as a
	// single replace hunk.
	maxLCSCells = 4_000_000

	devNull = "/dev/null"
)

// Stats summarizes a unified diff.
type Stats struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type lineOp struct {
	kind byte // ' ', '-', '+'
	text string
}

// Unified renders the difference from base to target as a multi-file
// unified diff, one section per created, updated or deleted file.
//
// # Description
//
// Line differences come from a longest-common-subsequence walk. The file
// sections are assembled as go-diff FileDiffs and printed with
// PrintMultiFileDiff so the output is parseable by standard tooling.
//
// # Outputs
//
//   - string: Unified diff text. Empty when the snapshots are identical.
//   - error: Non-nil if go-diff fails to print a section.
func Unified(base, target *datatypes.Snapshot) (string, error) {
	d := Compute(base, target)
	if d.Empty() {
		return "", nil
	}

	changed := make(map[string]struct{}, len(d.Created)+len(d.Updated))
	for _, p := range d.Created {
		changed[p] = struct{}{}
	}
	for _, p := range d.UpdatedPaths() {
		changed[p] = struct{}{}
	}

	var fileDiffs []*godiff.FileDiff
	emitted := make(map[string]struct{})
	if target != nil {
		for _, f := range target.Files {
			if _, ok := changed[f.Path]; !ok {
				continue
			}
			if _, ok := emitted[f.Path]; ok {
				continue
			}
			emitted[f.Path] = struct{}{}

			old, existed := base.File(f.Path)
			fd := &godiff.FileDiff{
				OrigName: "a/" + f.Path,
				NewName:  "b/" + f.Path,
				Hunks:    buildHunks(splitLines(old), splitLines(f.Content)),
			}
			if !existed {
				fd.OrigName = devNull
			}
			if len(fd.Hunks) > 0 {
				fileDiffs = append(fileDiffs, fd)
			}
		}
	}
	for _, p := range d.Deleted {
		old, _ := base.File(p)
		fd := &godiff.FileDiff{
			OrigName: "a/" + p,
			NewName:  devNull,
			Hunks:    buildHunks(splitLines(old), nil),
		}
		if len(fd.Hunks) > 0 {
			fileDiffs = append(fileDiffs, fd)
		}
	}

	if len(fileDiffs) == 0 {
		return "", nil
	}
	out, err := godiff.PrintMultiFileDiff(fileDiffs)
	if err != nil {
		return "", fmt.Errorf("print unified diff: %w", err)
	}
	return string(out), nil
}

// ParseStats parses unified diff text and counts added and removed lines.
func ParseStats(text string) (Stats, error) {
	if strings.TrimSpace(text) == "" {
		return Stats{}, nil
	}
	fileDiffs, err := godiff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return Stats{}, fmt.Errorf("parse unified diff: %w", err)
	}

	stats := Stats{Files: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.Added++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.Removed++
				}
			}
		}
	}
	return stats, nil
}

// splitLines splits content into lines without their terminators.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// lineOps returns the edit script turning a into b.
func lineOps(a, b []string) []lineOp {
	if len(a)*len(b) > maxLCSCells {
		ops := make([]lineOp, 0, len(a)+len(b))
		for _, l := range a {
			ops = append(ops, lineOp{kind: '-', text: l})
		}
		for _, l := range b {
			ops = append(ops, lineOp{kind: '+', text: l})
		}
		return ops
	}

	// lcs[i][j] is the LCS length of a[i:] and b[j:].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]lineOp, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			ops = append(ops, lineOp{kind: ' ', text: a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, lineOp{kind: '-', text: a[i]})
			i++
		default:
			ops = append(ops, lineOp{kind: '+', text: b[j]})
			j++
		}
	}
	for ; i < len(a); i++ {
		ops = append(ops, lineOp{kind: '-', text: a[i]})
	}
	for ; j < len(b); j++ {
		ops = append(ops, lineOp{kind: '+', text: b[j]})
	}
	return ops
}

// buildHunks groups the edit script into hunks with contextLines of
// surrounding context. Changes closer than two context windows share a hunk.
func buildHunks(a, b []string) []*godiff.Hunk {
	ops := lineOps(a, b)

	// origBefore[i] and newBefore[i] count the lines consumed by ops[:i].
	origBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	var changes []int
	for i, op := range ops {
		origBefore[i+1] = origBefore[i]
		newBefore[i+1] = newBefore[i]
		if op.kind != '+' {
			origBefore[i+1]++
		}
		if op.kind != '-' {
			newBefore[i+1]++
		}
		if op.kind != ' ' {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []*godiff.Hunk
	for k := 0; k < len(changes); {
		first := changes[k]
		last := first
		for k+1 < len(changes) && changes[k+1]-last <= 2*contextLines {
			k++
			last = changes[k]
		}
		k++

		start := max(0, first-contextLines)
		end := min(len(ops), last+contextLines+1)

		var body bytes.Buffer
		for _, op := range ops[start:end] {
			body.WriteByte(op.kind)
			body.WriteString(op.text)
			body.WriteByte('\n')
		}

		origLines := origBefore[end] - origBefore[start]
		newLines := newBefore[end] - newBefore[start]
		hunk := &godiff.Hunk{
			OrigStartLine: int32(origBefore[start]),
			OrigLines:     int32(origLines),
			NewStartLine:  int32(newBefore[start]),
			NewLines:      int32(newLines),
			Body:          body.Bytes(),
		}
		if origLines > 0 {
			hunk.OrigStartLine++
		}
		if newLines > 0 {
			hunk.NewStartLine++
		}
		hunks = append(hunks, hunk)
	}
	return hunks
}
