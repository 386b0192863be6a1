package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/asyncquery/querycache/query"
)

var tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"})

func printQueryStates(queries []*query.Query) {
	headers := []string{"hash", "status", "stale", "data"}
	rows := make([][]string, 0, len(queries))
	for _, q := range queries {
		s := q.State()
		rows = append(rows, []string{
			q.Hash(),
			s.Status.String(),
			fmt.Sprintf("%v", q.IsStale()),
			formatData(s.Data),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...)
	fmt.Println(t.String())
}

func formatData(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
