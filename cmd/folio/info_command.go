package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/pdfdoc"
	"folio/internal/render"
)

type outlineView struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Page  int    `json:"page"`
}

type infoView struct {
	ID       string            `json:"id"`
	Path     string            `json:"path"`
	Pages    int               `json:"pages"`
	Title    string            `json:"title,omitempty"`
	Author   string            `json:"author,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Outline  []outlineView     `json:"outline,omitempty"`
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "info <file.pdf>",
		Short:       "Show page count, metadata and outline",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			id, err := render.Fingerprint(path)
			if err != nil {
				return err
			}
			info, err := pdfdoc.Inspect(path)
			if err != nil {
				return err
			}
			info.ID = id

			view := newInfoView(info)
			if jsonOut {
				return writeJSON(cmd, view)
			}
			printInfo(cmd.OutOrStdout(), view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newInfoView(info render.DocumentInfo) infoView {
	view := infoView{
		ID:       string(info.ID),
		Path:     info.Path,
		Pages:    info.Pages,
		Title:    info.Title,
		Author:   info.Author,
		Metadata: make(map[string]string),
	}
	for k, v := range info.Metadata {
		if v = strings.TrimSpace(v); v != "" {
			view.Metadata[k] = v
		}
	}
	for _, entry := range info.Outline {
		page := entry.Page
		if page >= 0 {
			page++
		}
		view.Outline = append(view.Outline, outlineView{Level: entry.Level, Title: entry.Title, Page: page})
	}
	return view
}

func printInfo(out io.Writer, view infoView) {
	rows := [][]string{
		{"Document", view.ID[:min(len(view.ID), 12)]},
		{"Path", view.Path},
		{"Pages", strconv.Itoa(view.Pages)},
	}
	keys := make([]string, 0, len(view.Metadata))
	for k := range view.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{k, view.Metadata[k]})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if len(view.Outline) == 0 {
		fmt.Fprintln(out, "Outline: none")
		return
	}
	outline := make([][]string, 0, len(view.Outline))
	for _, entry := range view.Outline {
		page := "-"
		if entry.Page > 0 {
			page = strconv.Itoa(entry.Page)
		}
		indent := strings.Repeat("  ", max(entry.Level-1, 0))
		outline = append(outline, []string{indent + entry.Title, page})
	}
	fmt.Fprintln(out, renderTable([]string{"Outline", "Page"}, outline, []columnAlignment{alignLeft, alignRight}))
}
