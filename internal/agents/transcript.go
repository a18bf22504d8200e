package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codalotl/toolcallbench/internal/collector"
)

const tracerName = "github.com/codalotl/toolcallbench/internal/agents"

const (
	attrToolUseID = attribute.Key("agent.tool.use_id")
	attrModel     = attribute.Key("agent.model")
)

const maxStatusLen = 200

// transcriptParser turns an agent's stream-json output into spans and a Result.
// Each tool_use starts a function span that the matching tool_result ends.
type transcriptParser struct {
	ctx     context.Context
	tracer  trace.Tracer
	wrapper []string

	mu       sync.Mutex
	raw      bytes.Buffer
	pending  map[string]trace.Span
	order    []string
	usage    *Usage
	output   string
	session  string
	sawFinal bool
	isError  bool
	errText  string
}

func newTranscriptParser(ctx context.Context, wrapper []string) *transcriptParser {
	return &transcriptParser{
		ctx:     ctx,
		tracer:  trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName),
		wrapper: wrapper,
		pending: map[string]trace.Span{},
	}
}

// HandleLine consumes one line of output. Lines that are not JSON objects are
// kept in the transcript and otherwise ignored.
func (p *transcriptParser) HandleLine(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.raw.Write(line)
	p.raw.WriteByte('\n')

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	if p.session == "" {
		p.session = extractSessionID(payload)
	}

	switch payload["type"] {
	case "assistant":
		p.handleAssistant(payload)
	case "user":
		p.handleUser(payload)
	case "result":
		p.handleResult(payload)
	}
	return nil
}

func (p *transcriptParser) handleAssistant(payload map[string]any) {
	msg, _ := payload["message"].(map[string]any)
	if msg == nil {
		return
	}
	model, _ := msg["model"].(string)
	_, gen := p.tracer.Start(p.ctx, "generation", trace.WithAttributes(
		collector.AttrSpanType.String(string(collector.SpanTypeGeneration)),
		attrModel.String(model),
	))
	gen.End()

	for _, block := range contentBlocks(msg) {
		if block["type"] != "tool_use" {
			continue
		}
		id, _ := block["id"].(string)
		name, _ := block["name"].(string)
		input, _ := block["input"].(map[string]any)
		tool := normalizeToolName(name, input, p.wrapper)

		_, span := p.tracer.Start(p.ctx, tool, trace.WithAttributes(
			collector.AttrSpanType.String(string(collector.SpanTypeFunction)),
			collector.AttrToolName.String(tool),
			attrToolUseID.String(id),
		))
		if prev, ok := p.pending[id]; ok {
			// A reused id would otherwise leak the first span.
			prev.SetStatus(codes.Error, "superseded by a tool use with the same id")
			prev.End()
		} else {
			p.order = append(p.order, id)
		}
		p.pending[id] = span
	}
}

func (p *transcriptParser) handleUser(payload map[string]any) {
	msg, _ := payload["message"].(map[string]any)
	if msg == nil {
		return
	}
	for _, block := range contentBlocks(msg) {
		if block["type"] != "tool_result" {
			continue
		}
		id, _ := block["tool_use_id"].(string)
		span, ok := p.pending[id]
		if !ok {
			continue
		}
		delete(p.pending, id)
		if isErr, _ := block["is_error"].(bool); isErr {
			span.SetStatus(codes.Error, truncate(resultText(block["content"]), maxStatusLen))
		}
		span.End()
	}
}

func (p *transcriptParser) handleResult(payload map[string]any) {
	p.sawFinal = true
	if text, ok := payload["result"].(string); ok {
		p.output = text
	}
	if isErr, _ := payload["is_error"].(bool); isErr {
		p.isError = true
		p.errText = p.output
		if sub, _ := payload["subtype"].(string); sub != "" && sub != "success" {
			p.errText = strings.TrimSpace(sub + ": " + p.output)
		}
	}
	if u, ok := payload["usage"].(map[string]any); ok {
		p.usage = usageFromPayload(u)
	}
}

// Finish ends tool spans that never got a result, with error status, and
// returns what was parsed. The error reports an agent-side failure.
func (p *transcriptParser) Finish() (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.order {
		span, ok := p.pending[id]
		if !ok {
			continue
		}
		span.SetStatus(codes.Error, "no tool result before the agent exited")
		span.End()
		delete(p.pending, id)
	}
	p.order = nil

	res := &Result{
		Output:     p.output,
		Transcript: p.raw.String(),
		Usage:      p.usage,
		Session:    p.session,
	}
	switch {
	case !p.sawFinal:
		return res, ErrNoResult
	case p.isError:
		msg := p.errText
		if msg == "" {
			msg = "unknown error"
		}
		return res, fmt.Errorf("agent reported an error: %s", truncate(msg, maxStatusLen))
	default:
		return res, nil
	}
}

// normalizeToolName maps the agent-side name of a tool call to "server.tool"
// when it targets a tool server, either natively (mcp__server__tool) or
// through the shell wrapper. Anything else keeps its name.
func normalizeToolName(name string, input map[string]any, wrapper []string) string {
	if rest, ok := strings.CutPrefix(name, "mcp__"); ok {
		if server, tool, ok := strings.Cut(rest, "__"); ok && server != "" && tool != "" {
			return server + "." + tool
		}
		return name
	}
	if name != "Bash" || len(wrapper) == 0 {
		return name
	}
	command, _ := input["command"].(string)
	args, err := shellwords.Parse(command)
	if err != nil || len(args) < len(wrapper)+2 {
		return name
	}
	for i, w := range wrapper {
		if args[i] != w {
			return name
		}
	}
	return args[len(wrapper)] + "." + args[len(wrapper)+1]
}

func contentBlocks(msg map[string]any) []map[string]any {
	raw, _ := msg["content"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if block, ok := item.(map[string]any); ok {
			out = append(out, block)
		}
	}
	return out
}

func resultText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func usageFromPayload(m map[string]any) *Usage {
	var u Usage
	prompt, seen := 0, false
	for _, key := range []string{"input_tokens", "cache_read_input_tokens", "cache_creation_input_tokens"} {
		if val, ok := asInt(m[key]); ok {
			prompt += val
			seen = true
		}
	}
	if seen {
		u.InputTokens = &prompt
	}
	if val, ok := asInt(m["output_tokens"]); ok {
		u.OutputTokens = &val
	}
	if val, ok := asInt(m["total_tokens"]); ok {
		u.TotalTokens = &val
	}
	return &u
}

func extractSessionID(payload map[string]any) string {
	if sid, ok := payload["session_id"].(string); ok && strings.TrimSpace(sid) != "" {
		return strings.TrimSpace(sid)
	}
	if sid, ok := payload["sessionId"].(string); ok && strings.TrimSpace(sid) != "" {
		return strings.TrimSpace(sid)
	}
	return ""
}

func asInt(val any) (int, bool) {
	switch v := val.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, true
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
