// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
)

// Styles used for human-readable output. lipgloss drops the colors
// when the output is not a terminal.
var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
)

// Success renders s in the success color.
func Success(s string) string { return successStyle.Render(s) }

// Warning renders s in the warning color.
func Warning(s string) string { return warningStyle.Render(s) }

// Field is one labelled line of a summary.
type Field struct {
	Label string
	Value string
}

// WriteFields writes aligned "label  value" lines to w, skipping
// fields with an empty value.
func WriteFields(w io.Writer, fields ...Field) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	for _, field := range fields {
		if field.Value == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", labelStyle.Render(field.Label+":"), field.Value)
	}
	return tw.Flush()
}

// WriteJSON marshals value as indented JSON and writes it to w. Nil
// slices are written as [] rather than null.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(normalizeNilSlice(value))
}

// normalizeNilSlice returns an empty slice of the same type if value
// is a nil slice. Returns value unchanged for all other types.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
