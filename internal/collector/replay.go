package collector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type eventKind int

const (
	eventUnknown eventKind = iota
	eventTraceStart
	eventSpanEnd
)

// Replay feeds a JSONL stream of recorded trace events through c. Records name
// their kind in an "event" field (trace_start, traceStart, onTraceStart and the
// span_end equivalents). Executions in a recording are sequential, so the
// latest trace is harvested with ConsumeLatest whenever the next trace starts
// and once more at the end of the stream. Lines that cannot be attributed are
// skipped.
func Replay(r io.Reader, c *Collector, emit func(Metrics)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	harvest := func() {
		if m, ok := c.ConsumeLatest(); ok && emit != nil {
			emit(m)
		}
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			continue
		}
		switch kindOf(rec) {
		case eventTraceStart:
			ev, ok := TraceStartFromRecord(rec)
			if !ok {
				continue
			}
			harvest()
			c.OnTraceStart(ev)
		case eventSpanEnd:
			if ev, ok := SpanEndFromRecord(rec); ok {
				c.OnSpanEnd(ev)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading trace events (line %d): %w", lineNo, err)
	}
	harvest()
	return nil
}

func kindOf(rec map[string]any) eventKind {
	raw, _ := rec["event"].(string)
	if raw == "" {
		raw, _ = rec["kind"].(string)
	}
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
	name = strings.TrimPrefix(name, "on")
	switch name {
	case "tracestart":
		return eventTraceStart
	case "spanend":
		return eventSpanEnd
	default:
		return eventUnknown
	}
}
