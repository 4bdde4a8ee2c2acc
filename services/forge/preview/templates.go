// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package preview

import "html/template"

var planReportTmpl = template.Must(template.New("plan-report").Parse(`<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8"/><title>{{.Name}} Preview</title><meta name="viewport" content="width=device-width,initial-scale=1"/><style>
:root{--bg:#0f1115;--panel:#111827;--border:#1e293b;--text:#f1f5f9;--muted:#94a3b8;font-family:system-ui,sans-serif}
*{box-sizing:border-box}html,body{margin:0;padding:0;background:var(--bg);color:var(--text)}body{line-height:1.5}
main{max-width:1040px;margin:0 auto;padding:44px 40px 120px}
h1{margin:0 0 1rem;font-size:2.4rem;letter-spacing:-1px}
h2{margin:2.2rem 0 .75rem;font-size:1.15rem;color:#e2e8f0;text-transform:uppercase;font-weight:600}
section{background:var(--panel);border:1px solid var(--border);padding:22px 26px;border-radius:18px}
section+section{margin-top:22px}
.grid{display:grid;gap:26px;margin-top:2.2rem}@media(min-width:900px){.grid{grid-template-columns:repeat(2,1fr)}}
ul.list{list-style:disc;margin:0;padding-left:1.1rem;font-size:.85rem}
.badge{display:inline-block;font-size:.6rem;letter-spacing:.1em;padding:4px 8px;border-radius:40px;background:#1e293b;vertical-align:middle;margin-left:.75rem}
.badge-plan{color:#38bdf8}.badge-code{color:#a3e635}
.meta{font-size:.65rem;color:var(--muted);text-transform:uppercase}
.empty{font-size:.75rem;color:var(--muted);font-style:italic}
footer.note{margin-top:40px;font-size:.65rem;color:var(--muted);text-align:center}
.phase-ribbon{position:fixed;top:10px;right:10px;font-size:.6rem;padding:6px 10px;border-radius:12px;background:#1e293b;border:1px solid #334155;color:var(--muted)}
</style></head><body>
{{- define "list"}}{{if .}}<ul class="list">{{range .}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="empty">None</p>{{end}}{{end -}}
<div class="phase-ribbon">{{if .IsPlan}}Plan Draft{{else}}Implemented{{end}}</div><main>
<header><h1>{{.Name}} {{if .IsPlan}}<span class="badge badge-plan">PLAN DRAFT</span>{{else}}<span class="badge badge-code">IMPLEMENTED</span>{{end}}</h1><p>{{.Summary}}</p><div class="meta">Prompt seed: {{.Seed}}</div></header>
<section><h2>File Plan</h2>{{template "list" .Plan}}</section>
<div class="grid">
<section><h2>Proposed Changes</h2>{{template "list" .Proposed}}</section>
<section><h2>Potential Pitfalls</h2>{{template "list" .Pitfalls}}</section>
</div>
<section><h2>Next TODOs</h2>{{template "list" .Todos}}</section>
<footer class="note">Synthetic preview • Phase: {{.Phase}}</footer>
</main></body></html>`))

var siteMockTmpl = template.Must(template.New("site-mock").Parse(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"/>
<title>{{.Name}} – Preview</title><meta name="viewport" content="width=device-width,initial-scale=1"/>
<style>
:root{--bg:#0b0f17;--panel:#111b27;--border:#1e2b3a;--text:#e2e8f0;font-family:system-ui,sans-serif}
*{box-sizing:border-box}body{margin:0;background:var(--bg);color:var(--text);line-height:1.55}
header.hero{padding:64px 28px 40px;max-width:1080px;margin:0 auto}
h1{margin:0 0 18px;font-size:3rem;letter-spacing:-1px}
p.lead{margin:0 0 30px;font-size:1.1rem;max-width:820px;color:#93adc6}
.cards{display:grid;gap:22px;padding:0 28px 70px;max-width:1080px;margin:0 auto;grid-template-columns:repeat(auto-fit,minmax(230px,1fr))}
.card{background:var(--panel);border:1px solid var(--border);padding:18px 20px;border-radius:18px}
.card h3{margin:0 0 8px;font-size:1rem}
footer{padding:38px 28px;font-size:.7rem;text-align:center;opacity:.5}
section.todos{max-width:1080px;margin:0 auto 70px;background:var(--panel);border:1px solid var(--border);padding:24px 26px;border-radius:22px}
ul.todo{list-style:disc;padding-left:1.2rem;margin:0}
</style></head><body>
<header class="hero"><h1>{{.Name}}</h1><p class="lead">{{.Lead}}</p></header>
<div class="cards">{{range .Cards}}<div class="card"><h3>{{.Title}}</h3><p>{{.Description}}</p></div>{{end}}</div>
{{if .Todos}}<section class="todos"><h2>Focus Areas</h2><ul class="todo">{{range .Todos}}<li>{{.}}</li>{{end}}</ul></section>{{end}}
<footer>Static draft preview.</footer>
</body></html>`))
