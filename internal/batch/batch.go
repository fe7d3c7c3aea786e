// Package batch runs the remote readiness comparison and retrieves both of its
// documents in a single remote invocation.
//
// Wire convention: the remote command prints ResultMarker, the comparison
// result, MetaMarker, then the metadata document. The markers are order
// significant and must never occur inside either document.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"jetdash/internal/runner"
	"jetdash/pkg/config"
)

const (
	// ResultMarker precedes the comparison result document.
	ResultMarker = "__BEGIN_CMP__"
	// MetaMarker precedes the metadata document.
	MetaMarker = "__BEGIN_META__"

	// dumpFailed is the exit status reported when either document could not
	// be emitted.
	dumpFailed = 255
)

var (
	// ErrRemoteCommand means the combined invocation failed remotely.
	ErrRemoteCommand = errors.New("remote command failed")
	// ErrMarkerMissing means the output lacked a marker or had them out of order.
	ErrMarkerMissing = errors.New("marker missing")
	// ErrParse means a document was not valid JSON.
	ErrParse = errors.New("document is not valid JSON")
)

// Execer runs one command on the node.
type Execer interface {
	Exec(ctx context.Context, command string) (runner.Result, error)
}

// Payload is the pair of documents produced by one batch.
type Payload struct {
	Result   json.RawMessage
	Meta     json.RawMessage
	ExitCode int
}

// Summary is the optional readiness summary carried in the result document.
type Summary struct {
	Ready     int    `json:"ready" msgpack:"ready"`
	Blocked   int    `json:"blocked" msgpack:"blocked"`
	Unknown   int    `json:"unknown" msgpack:"unknown"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
}

// Summary extracts the "summary" object from the result document. A missing
// or malformed summary yields the zero value.
func (p *Payload) Summary() Summary {
	var doc struct {
		Summary Summary `json:"summary"`
	}
	json.Unmarshal(p.Result, &doc)
	return doc.Summary
}

// Command returns the single remote command line for the comparison.
// The tool's own output is discarded; its exit status is preserved unless a
// document dump fails, in which case the status is 255.
func Command(c config.CompareConfig) string {
	tool := []string{c.Interpreter, shQuote(c.Script)}
	if c.Requirements != "" {
		tool = append(tool, "--req", shQuote(c.Requirements))
	}
	tool = append(tool, "--meta", shQuote(c.Meta), "--out", shQuote(c.Output))

	return fmt.Sprintf(
		"%s >/dev/null 2>&1; rc=$?; echo %s && cat %s && echo && echo %s && cat %s || exit %d; exit $rc",
		strings.Join(tool, " "),
		ResultMarker, shQuote(c.Output),
		MetaMarker, shQuote(c.Meta),
		dumpFailed,
	)
}

// Parse splits output on the two markers and validates each document.
// Either both documents are returned or an error; never one of them.
func Parse(output string) (*Payload, error) {
	_, rest, ok := strings.Cut(output, ResultMarker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarkerMissing, ResultMarker)
	}
	result, meta, ok := strings.Cut(rest, MetaMarker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarkerMissing, MetaMarker)
	}

	r, err := document("result", result)
	if err != nil {
		return nil, err
	}
	m, err := document("metadata", meta)
	if err != nil {
		return nil, err
	}
	return &Payload{Result: r, Meta: m}, nil
}

func document(name, segment string) (json.RawMessage, error) {
	data := []byte(strings.TrimSpace(segment))
	if len(data) == 0 || !json.Valid(data) {
		return nil, fmt.Errorf("%s: %w", name, ErrParse)
	}
	return json.RawMessage(data), nil
}

// Executor runs the batch over a session.
type Executor struct {
	command  string
	accepted []int
	log      zerolog.Logger
}

// NewExecutor returns an Executor for the configured comparison tool.
func NewExecutor(c config.CompareConfig, log zerolog.Logger) *Executor {
	accepted := c.AcceptExitCodes
	if len(accepted) == 0 {
		accepted = []int{0}
	}
	return &Executor{command: Command(c), accepted: accepted, log: log}
}

// CompareAndFetch runs the comparison and returns both documents, or an error
// covering the whole batch.
func (e *Executor) CompareAndFetch(ctx context.Context, s Execer) (*Payload, error) {
	res, err := s.Exec(ctx, e.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteCommand, err)
	}
	if !slices.Contains(e.accepted, res.ExitCode) {
		return nil, fmt.Errorf("%w: exit %d: %s", ErrRemoteCommand, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	p, err := Parse(res.Stdout)
	if err != nil {
		e.log.Debug().Int("stdout_bytes", len(res.Stdout)).Msg("Unparseable batch output")
		return nil, err
	}
	p.ExitCode = res.ExitCode
	return p, nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
