// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

type projectList struct {
	Projects []datatypes.Project `json:"projects"`
}

type snapshotList struct {
	Snapshots        []datatypes.SnapshotInfo `json:"snapshots"`
	LatestSnapshotID string                   `json:"latestSnapshotId"`
}

type rollbackResult struct {
	OK         bool   `json:"ok"`
	SnapshotID string `json:"snapshotId"`
	RoutineID  string `json:"routineId"`
	AutoDeploy bool   `json:"autoDeploy"`
}

// clientFor builds an API client from flags, falling back to server.url.
func clientFor() (*apiClient, error) {
	base := serverURL
	if base == "" {
		_, cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		base = cfg.Server.URL
	}
	return newAPIClient(base, apiToken, requestLimit)
}

// call runs one request and prints the raw body under --json.
func call(cmd *cobra.Command, method, path string, body, out any) (printed bool, err error) {
	client, err := clientFor()
	if err != nil {
		return false, err
	}
	var raw []byte
	if err := client.do(cmd.Context(), method, path, body, out, &raw); err != nil {
		return false, err
	}
	if outputJSON {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return true, nil
	}
	return false, nil
}

func projectPath(id string, rest ...string) string {
	p := "/v1/projects/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func runProjects(cmd *cobra.Command, _ []string) error {
	var list projectList
	printed, err := call(cmd, http.MethodGet, "/v1/projects", nil, &list)
	if err != nil || printed {
		return err
	}
	renderProjects(ux.NewPrinter(cmd.OutOrStdout()), list.Projects)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	var list snapshotList
	printed, err := call(cmd, http.MethodGet, projectPath(args[0], "snapshots"), nil, &list)
	if err != nil || printed {
		return err
	}
	renderHistory(ux.NewPrinter(cmd.OutOrStdout()), list)
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	var resp handlers.DiffResponse
	path := projectPath(args[0], "snapshots", args[1], "diff") + "?format=unified"
	printed, err := call(cmd, http.MethodGet, path, nil, &resp)
	if err != nil || printed {
		return err
	}
	renderDiff(ux.NewPrinter(cmd.OutOrStdout()), resp)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	projectID, snapshotID := args[0], args[1]
	p := ux.NewPrinter(cmd.OutOrStdout())
	if !assumeYes {
		if !ux.IsTerminal(os.Stdin) {
			return errors.New("refusing to roll back without a terminal; pass --yes")
		}
		confirmed, err := confirmRollback(projectID, snapshotID)
		if err != nil {
			return err
		}
		if !confirmed {
			p.Muted("Rollback cancelled.")
			return nil
		}
	}

	var result rollbackResult
	printed, err := call(cmd, http.MethodPost, projectPath(projectID, "snapshots", snapshotID, "rollback"), nil, &result)
	if err != nil || printed {
		return err
	}
	p.Success(fmt.Sprintf("Snapshot %s is current again", result.SnapshotID))
	p.Field("routine", result.RoutineID)
	if result.AutoDeploy {
		p.Field("deploy", "queued")
	}
	return nil
}

func confirmRollback(projectID, snapshotID string) (bool, error) {
	confirmed := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Roll back project %s to snapshot %s?", short(projectID), short(snapshotID))).
		Description("The current snapshot stays in history; the project is marked LIVE.").
		Affirmative("Roll back").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	return confirmed, err
}

func runDeploy(cmd *cobra.Command, args []string) error {
	var outcome deploy.Outcome
	printed, err := call(cmd, http.MethodPost, projectPath(args[0], "deploy"), nil, &outcome)
	if err != nil {
		if isStatus(err, http.StatusServiceUnavailable) {
			return fmt.Errorf("the server has no hosting configured: %w", err)
		}
		return err
	}
	if printed {
		return nil
	}
	renderOutcome(ux.NewPrinter(cmd.OutOrStdout()), outcome)
	if !outcome.Skipped && outcome.FinalState != datatypes.ProjectStatusLive {
		return fmt.Errorf("deployment ended in %s", outcome.FinalState)
	}
	return nil
}

// --- Rendering ---

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

func statusIcon(s datatypes.ProjectStatus) ux.Icon {
	switch s {
	case datatypes.ProjectStatusLive:
		return ux.IconSuccess
	case datatypes.ProjectStatusError:
		return ux.IconError
	case datatypes.ProjectStatusDeploying:
		return ux.IconPending
	default:
		return ux.IconBullet
	}
}

func renderProjects(p *ux.Printer, projects []datatypes.Project) {
	if len(projects) == 0 {
		p.Muted("No projects yet.")
		return
	}
	p.Title(fmt.Sprintf("Projects (%d)", len(projects)))
	for _, proj := range projects {
		line := fmt.Sprintf("  %s %s  %s  %s", p.Icon(statusIcon(proj.Status)), proj.ID, proj.Name, proj.Status)
		if proj.DeploymentURL != "" {
			line += "  " + p.Render(ux.Styles.Subtitle, proj.DeploymentURL)
		}
		p.Println(line)
	}
}

func renderHistory(p *ux.Printer, list snapshotList) {
	if len(list.Snapshots) == 0 {
		p.Muted("No snapshots yet.")
		return
	}
	p.Title(fmt.Sprintf("Snapshots (%d)", len(list.Snapshots)))
	for _, s := range list.Snapshots {
		marker := " "
		if s.ID == list.LatestSnapshotID {
			marker = p.Render(ux.Styles.Title, "*")
		}
		line := fmt.Sprintf("%s %s  %-9s %3d files  %-15s", marker, s.ID, age(s.CreatedAt), s.FileCount, s.PreviewStrategy)
		if s.Summary != "" {
			line += "  " + p.Render(ux.Styles.Muted, s.Summary)
		}
		p.Println(line)
	}
}

func renderDiff(p *ux.Printer, resp handlers.DiffResponse) {
	base := "(none)"
	if resp.BaseSnapshotID != nil {
		base = short(*resp.BaseSnapshotID)
	}
	p.Title(fmt.Sprintf("Snapshot %s %s %s", base, ux.IconArrow, short(resp.TargetSnapshotID)))
	if resp.Empty() {
		p.Muted("No changes.")
		return
	}
	for _, path := range resp.Created {
		p.FileStatus(path, ux.IconCreated, "")
	}
	for _, u := range resp.Updated {
		p.FileStatus(u.Path, ux.IconUpdated, "")
	}
	for _, path := range resp.Deleted {
		p.FileStatus(path, ux.IconDeleted, "")
	}
	p.Muted(fmt.Sprintf("%d created, %d updated, %d deleted", len(resp.Created), len(resp.Updated), len(resp.Deleted)))
	if resp.Unified != "" {
		p.Println()
		p.UnifiedDiff(resp.Unified)
	}
}

func renderOutcome(p *ux.Printer, o deploy.Outcome) {
	if o.Skipped {
		p.Warning("Deployment skipped: " + o.Reason)
		return
	}
	if o.FinalState == datatypes.ProjectStatusLive {
		p.Success("Deployment is live")
	} else {
		p.Error(fmt.Sprintf("Deployment failed (%s)", o.FinalState))
	}
	p.Field("attempts", fmt.Sprint(o.Attempts))
	if o.URL != "" {
		p.Field("url", o.URL)
	}
	if o.RoutineID != "" {
		p.Field("routine", o.RoutineID)
	}
	if o.LogExcerpt != "" && o.FinalState != datatypes.ProjectStatusLive {
		p.Box("Build log", o.LogExcerpt)
	}
}
