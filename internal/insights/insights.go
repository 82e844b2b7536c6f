// Package insights turns parsed spreadsheet data into natural-language
// summaries, column relationships and forecasts using a text generator.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// MaxRows bounds how many rows are included in a prompt.
const MaxRows = 200

var (
	// ErrNotConfigured is returned when no generator is available.
	ErrNotConfigured = errors.New("AI service not configured")
	// ErrUnavailable is returned when the generator fails or returns nothing.
	ErrUnavailable = errors.New("AI service unavailable")
	// ErrEmptyInput is returned when there is nothing to analyse.
	ErrEmptyInput = errors.New("no data provided")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service builds prompts and calls the generator.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService creates a Service. gen may be nil, in which case every call
// returns ErrNotConfigured.
func NewService(gen Generator, logger *slog.Logger) *Service {
	return &Service{gen: gen, logger: logger.With("component", "insights")}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s.gen != nil
}

// Summarize describes the main trends in rows.
func (s *Service) Summarize(ctx context.Context, rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return "", ErrEmptyInput
	}
	data, err := encodeRows(rows)
	if err != nil {
		return "", err
	}
	prompt := "You are a data analyst. Summarize the following spreadsheet data in one short paragraph. " +
		"Mention notable trends, outliers and totals where relevant. Do not invent values.\n\n" + data
	return s.generate(ctx, "summarize", prompt)
}

// Relationships suggests how the given columns relate. Sample rows, when
// present, are included to ground the answer.
func (s *Service) Relationships(ctx context.Context, columns []string, rows []map[string]any) (string, error) {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return "", ErrEmptyInput
	}

	var b strings.Builder
	b.WriteString("You are a data analyst. Given a spreadsheet with the columns listed below, ")
	b.WriteString("describe the likely relationships and correlations between them, and suggest ")
	b.WriteString("which pairs are worth charting against each other.\n\nColumns: ")
	b.WriteString(strings.Join(cols, ", "))
	if len(rows) > 0 {
		data, err := encodeRows(rows)
		if err != nil {
			return "", err
		}
		b.WriteString("\n\nSample rows:\n")
		b.WriteString(data)
	}
	return s.generate(ctx, "relationships", b.String())
}

// Predict forecasts where the series in rows is heading.
func (s *Service) Predict(ctx context.Context, rows []map[string]any) (string, error) {
	if len(rows) == 0 {
		return "", ErrEmptyInput
	}
	data, err := encodeRows(rows)
	if err != nil {
		return "", err
	}
	prompt := "You are a forecasting assistant. Based on the spreadsheet data below, give a brief forecast " +
		"for the next period and one actionable suggestion. State your assumptions. " +
		"If the data is insufficient for a forecast, say so.\n\n" + data
	return s.generate(ctx, "predict", prompt)
}

func (s *Service) generate(ctx context.Context, op, prompt string) (string, error) {
	if s.gen == nil {
		return "", ErrNotConfigured
	}
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error("generation failed", "op", op, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("generator returned no text", "op", op)
		return "", ErrUnavailable
	}
	return text, nil
}

func encodeRows(rows []map[string]any) (string, error) {
	if len(rows) > MaxRows {
		rows = rows[:MaxRows]
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}
