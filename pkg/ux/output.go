// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides styled terminal output for the forge CLI.
//
// Styling is applied only when the destination is a terminal, so piped
// output stays plain text that scripts can parse.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style

	Added   lipgloss.Style
	Removed lipgloss.Style
	Hunk    lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),

	Added:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Removed: lipgloss.NewStyle().Foreground(ColorError),
	Hunk:    lipgloss.NewStyle().Foreground(ColorTealDeep),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconCreated Icon = "+"
	IconUpdated Icon = "~"
	IconDeleted Icon = "-"
)

// Printer writes styled lines to one destination.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter styles output when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w)}
}

// NewPlainPrinter never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Stdout returns a printer for os.Stdout.
func Stdout() *Printer { return NewPrinter(os.Stdout) }

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Color reports whether the printer styles its output.
func (p *Printer) Color() bool { return p.color }

// Render applies style when color is on.
func (p *Printer) Render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

// Icon renders an icon in its semantic color.
func (p *Printer) Icon(i Icon) string {
	switch i {
	case IconSuccess, IconCreated:
		return p.Render(Styles.Success, string(i))
	case IconWarning, IconUpdated:
		return p.Render(Styles.Warning, string(i))
	case IconError, IconDeleted:
		return p.Render(Styles.Error, string(i))
	case IconPending:
		return p.Render(Styles.Muted, string(i))
	default:
		return string(i)
	}
}

// Println writes one line.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

// Printf writes formatted text.
func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

func (p *Printer) Title(text string) {
	p.Println(p.Render(Styles.Title, text))
}

func (p *Printer) Success(text string) {
	p.Println(p.Icon(IconSuccess) + " " + text)
}

func (p *Printer) Warning(text string) {
	p.Println(p.Icon(IconWarning) + " " + p.Render(Styles.Warning, text))
}

func (p *Printer) Error(text string) {
	p.Println(p.Icon(IconError) + " " + p.Render(Styles.Error, text))
}

func (p *Printer) Muted(text string) {
	p.Println(p.Render(Styles.Muted, text))
}

// Box prints content in a bordered box. Plain output prints the title and
// the content indented.
func (p *Printer) Box(title, content string) {
	if !p.color {
		p.Println(title)
		for _, line := range strings.Split(content, "\n") {
			p.Println("  " + line)
		}
		return
	}
	p.Println(Styles.Box.Render(Styles.Title.Render(title) + "\n" + content))
}

// Field prints an aligned "label: value" line.
func (p *Printer) Field(label, value string) {
	p.Printf("  %s %s\n", p.Render(Styles.Muted, fmt.Sprintf("%-14s", label+":")), value)
}

// FileStatus prints a path with its status icon and an optional note.
func (p *Printer) FileStatus(path string, status Icon, note string) {
	line := fmt.Sprintf("  %s %s", p.Icon(status), path)
	if note != "" {
		line += " " + p.Render(Styles.Muted, "("+note+")")
	}
	p.Println(line)
}

// UnifiedDiff prints a unified diff with added, removed and hunk lines
// colored.
func (p *Printer) UnifiedDiff(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			p.Println(p.Render(Styles.Bold, line))
		case strings.HasPrefix(line, "@@"):
			p.Println(p.Render(Styles.Hunk, line))
		case strings.HasPrefix(line, "+"):
			p.Println(p.Render(Styles.Added, line))
		case strings.HasPrefix(line, "-"):
			p.Println(p.Render(Styles.Removed, line))
		default:
			p.Println(line)
		}
	}
}
