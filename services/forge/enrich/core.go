// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enrich

import (
	"fmt"
	"html"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

var jsxText = strings.NewReplacer("{", "(", "}", ")", "<", "‹", ">", "›", "`", "'")

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func corePage(name, prompt string) string {
	return fmt.Sprintf(`export default function GeneratedPage() {
  return (
    <main style={{ fontFamily: 'system-ui', padding: '2.25rem 2rem', lineHeight: 1.55 }}>
      <h1 style={{ margin: 0, fontSize: '2.2rem' }}>%s</h1>
      <p style={{ margin: '0.75rem 0 1.5rem', maxWidth: 780, color: '#475569' }}>
        Initial scaffold generated from prompt: %s
      </p>
      <section>
        <h2>Next Steps</h2>
        <ul>
          <li>Refine requirements in chat</li>
          <li>Generate components</li>
          <li>Add styling/theme</li>
          <li>Deploy &amp; iterate</li>
        </ul>
      </section>
    </main>
  );
}
`, jsxText.Replace(name), jsxText.Replace(truncate(prompt, 140)))
}

func corePreview(name, prompt string) string {
	title := html.EscapeString(name)
	return `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"/><title>` + title + ` Preview</title>` +
		`<meta name="viewport" content="width=device-width,initial-scale=1"/>` +
		`<style>body{margin:0;font-family:system-ui;background:#0f1115;color:#e2e8f0;line-height:1.55}` +
		`main{max-width:900px;margin:0 auto;padding:42px 36px}h1{font-size:2.3rem;margin:0 0 1rem}` +
		`section{background:#111827;padding:22px 26px;border:1px solid #1e293b;border-radius:18px;margin:0 0 26px}</style>` +
		`</head><body><main><h1>` + title + `</h1>` +
		`<p>Static preview placeholder. The reply did not include a preview, continue chatting to enrich it.</p>` +
		`<section><h2>Prompt Excerpt</h2><p>` + html.EscapeString(truncate(prompt, 180)) + `</p></section>` +
		`<section><h2>Next Steps</h2><ul><li>Add components &amp; routing</li><li>Implement styles/theme</li>` +
		`<li>Persist data layer</li><li>Redeploy after changes</li></ul></section></main></body></html>`
}

// EnsureCoreFiles appends the entry page and the preview artifact when
// they are missing. Existing files are never modified.
//
// # Outputs
//
//   - []datatypes.FileRecord: files plus any added core files.
//   - []string: Paths that were added.
func EnsureCoreFiles(files []datatypes.FileRecord, name, prompt string) ([]datatypes.FileRecord, []string) {
	required := []struct {
		path  string
		build func() string
	}{
		{datatypes.PagePath, func() string { return corePage(name, prompt) }},
		{datatypes.PreviewPath, func() string { return corePreview(name, prompt) }},
	}

	out := datatypes.CloneFiles(files)
	var added []string
	for _, r := range required {
		if _, ok := find(out, r.path); ok {
			continue
		}
		out = append(out, datatypes.FileRecord{Path: r.path, Content: r.build()})
		added = append(added, r.path)
	}
	return out, added
}
