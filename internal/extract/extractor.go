package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Mode selects how a completion is interpreted.
type Mode string

const (
	// ModeJSON strips code fences and tries to parse the completion as JSON.
	ModeJSON Mode = "json"
	// ModeText passes the completion through untouched.
	ModeText Mode = "text"
)

// Format tells which field of a Result carries the answer.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Backend sends a conversation to a completion endpoint and returns the reply text.
type Backend interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Result is an extraction answer: Data for FormatJSON, Text for FormatText.
type Result struct {
	Format Format
	Data   json.RawMessage
	Text   string
}

// Value returns the answer in the shape it should be serialized with.
func (r Result) Value() any {
	if r.Format == FormatJSON {
		return r.Data
	}

	return r.Text
}

// Options tunes an Extractor. Zero values select the defaults.
type Options struct {
	Instruction string
	ChunkSize   int
	Mode        Mode
	Logger      *zap.Logger
}

// Extractor turns aggregated page text into a structured answer.
type Extractor struct {
	backend     Backend
	instruction string
	chunkSize   int
	mode        Mode
	logger      *zap.Logger
}

// New creates an Extractor on top of backend.
func New(backend Backend, opts Options) *Extractor {
	instruction := opts.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	mode := opts.Mode
	if mode != ModeText {
		mode = ModeJSON
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		backend:     backend,
		instruction: instruction,
		chunkSize:   chunkSize,
		mode:        mode,
		logger:      logger,
	}
}

// Extract submits text in ordered chunks followed by the instruction.
// Every returned error satisfies errors.Is(err, ErrExtraction).
func (e *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	if e.backend == nil {
		return Result{}, &Error{Backend: "none", Err: errors.New("no backend configured")}
	}

	messages := BuildMessages(text, e.instruction, e.chunkSize)
	e.logger.Debug("requesting completion",
		zap.Int("messages", len(messages)),
		zap.Int("text_chars", len([]rune(text))),
	)

	completion, err := e.backend.Complete(ctx, messages)
	if err != nil {
		return Result{}, wrapError("llm", err)
	}

	if strings.TrimSpace(completion) == "" {
		return Result{}, &Error{Backend: "llm", Err: errEmptyCompletion}
	}

	if e.mode == ModeText {
		return Result{Format: FormatText, Text: completion}, nil
	}

	result := ParseCompletion(completion)
	if result.Format == FormatText {
		e.logger.Warn("completion is not valid json, returning text", zap.Int("length", len(completion)))
	}

	return result, nil
}

// ParseCompletion strips surrounding code fences and returns the JSON payload when it
// parses; otherwise the raw completion is returned as text.
func ParseCompletion(completion string) Result {
	candidate := StripFences(completion)
	if candidate != "" && json.Valid([]byte(candidate)) {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, []byte(candidate)); err == nil {
			return Result{Format: FormatJSON, Data: json.RawMessage(compacted.Bytes())}
		}
	}

	return Result{Format: FormatText, Text: completion}
}

// StripFences removes a leading ``` or ```json line and a trailing ``` marker.
func StripFences(completion string) string {
	trimmed := strings.TrimSpace(completion)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "json")
	}

	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")

	return strings.TrimSpace(trimmed)
}
