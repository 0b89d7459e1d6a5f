package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for current_time
)

// BuiltinOptions configures the built-in tools.
type BuiltinOptions struct {
	// Search backs web_search. Defaults to PlaceholderSearch.
	Search SearchProvider
	// Documents backs document_search; the tool is omitted when nil.
	Documents *DocumentIndex
	// DefaultTimezone is used by current_time when no timezone is given.
	DefaultTimezone string
	Now             func() time.Time
}

// Builtins returns calculator, web_search, document_search (when a document
// index is configured), text_summary and current_time.
func Builtins(optFns ...func(o *BuiltinOptions)) []Tool {
	opts := BuiltinOptions{
		Search:          PlaceholderSearch{},
		DefaultTimezone: "Asia/Bangkok",
		Now:             time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	tools := []Tool{
		NewCalculatorTool(),
		NewWebSearchTool(opts.Search, opts.Now),
	}
	if opts.Documents != nil {
		tools = append(tools, NewDocumentSearchTool(opts.Documents))
	}
	return append(tools,
		NewTextSummaryTool(),
		NewCurrentTimeTool(opts.DefaultTimezone, opts.Now),
	)
}

// RegisterBuiltins registers Builtins on r.
func RegisterBuiltins(r *Registry, optFns ...func(o *BuiltinOptions)) error {
	return r.Register(Builtins(optFns...)...)
}

// decodeArgs maps validated arguments onto a struct via their JSON tags.
func decodeArgs(args map[string]any, v any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type summaryArgs struct {
	Text      string `json:"text" description:"Text content to summarize"`
	MaxLength *int   `json:"max_length" description:"Maximum length of summary in words (default: 100)"`
}

// Summary is the text_summary result.
type Summary struct {
	OriginalLength   int    `json:"original_length"`
	Summary          string `json:"summary"`
	SummaryLength    int    `json:"summary_length"`
	WordCount        int    `json:"word_count"`
	CompressionRatio int    `json:"compression_ratio"`
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// Summarize keeps leading sentences while their total word count stays
// within maxWords.
func Summarize(text string, maxWords int) (Summary, error) {
	if text == "" {
		return Summary{}, fmt.Errorf("text content is required")
	}
	var b strings.Builder
	words := 0
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		n := len(strings.Fields(sentence))
		if words+n > maxWords {
			break
		}
		b.WriteString(sentence)
		b.WriteString(". ")
		words += n
	}
	raw := b.String()
	summary := strings.TrimSpace(raw)
	original := len([]rune(text))
	return Summary{
		OriginalLength:   original,
		Summary:          summary,
		SummaryLength:    len([]rune(summary)),
		WordCount:        words,
		CompressionRatio: int(float64(len([]rune(raw)))/float64(original)*100 + 0.5),
	}, nil
}

// NewTextSummaryTool returns the extractive text_summary built-in.
func NewTextSummaryTool() *FunctionTool {
	return NewFunctionToolFromStruct(
		"text_summary",
		"Summarizes long text content into concise key points. Useful for processing large amounts of text.",
		summaryArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			var in summaryArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			maxWords := 100
			if in.MaxLength != nil {
				maxWords = *in.MaxLength
			}
			return Summarize(in.Text, maxWords)
		},
	)
}

type timeArgs struct {
	Timezone *string `json:"timezone" description:"IANA timezone (default: Asia/Bangkok)"`
	Format   *string `json:"format" description:"Date format" enum:"iso,local"`
}

// CurrentTime is the current_time result.
type CurrentTime struct {
	Timestamp     string `json:"timestamp"`
	Timezone      string `json:"timezone"`
	UnixTimestamp int64  `json:"unix_timestamp"`
	DayOfWeek     string `json:"day_of_week"`
	Month         string `json:"month"`
}

// NewCurrentTimeTool returns the current_time built-in.
func NewCurrentTimeTool(defaultTimezone string, now func() time.Time) *FunctionTool {
	if now == nil {
		now = time.Now
	}
	return NewFunctionToolFromStruct(
		"current_time",
		"Gets the current date and time. Useful for time-sensitive information or scheduling.",
		timeArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			var in timeArgs
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			tz := defaultTimezone
			if in.Timezone != nil && *in.Timezone != "" {
				tz = *in.Timezone
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			t := now()
			local := t.In(loc)
			ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
			if in.Format != nil && *in.Format == "local" {
				ts = local.Format("1/2/2006, 3:04:05 PM")
			}
			return CurrentTime{
				Timestamp:     ts,
				Timezone:      tz,
				UnixTimestamp: t.Unix(),
				DayOfWeek:     local.Weekday().String(),
				Month:         local.Month().String(),
			}, nil
		},
	)
}
