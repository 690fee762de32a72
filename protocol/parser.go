package protocol

import "bytes"

// MessageHandler receives each message the parser extracts, in arrival order.
type MessageHandler func(Message)

// WarningHandler receives spans that looked like JSON objects but failed to
// parse. The parser drops them and keeps scanning; logging is the caller's
// concern.
type WarningHandler func(span []byte, err error)

// StreamParser recovers discrete JSON messages from a raw subprocess output
// stream. The stream may interleave non-JSON text (shell banners, stray
// escape bytes) with JSON objects, and a single object may be fragmented
// across any number of chunks, including mid-string.
//
// StreamParser never returns an error and never panics: malformed spans are
// dropped silently and scanning continues after them.
type StreamParser struct {
	handler MessageHandler
	warn    WarningHandler
	buf     []byte
}

// NewStreamParser creates a parser that delivers messages to handler.
func NewStreamParser(handler MessageHandler) *StreamParser {
	return &StreamParser{handler: handler}
}

// SetWarningHandler registers a handler for dropped spans.
func (p *StreamParser) SetWarningHandler(warn WarningHandler) {
	p.warn = warn
}

// Feed appends chunk to the internal buffer and emits every complete JSON
// object found at the buffer head. Each object is emitted exactly once.
func (p *StreamParser) Feed(chunk string) {
	p.buf = append(p.buf, chunk...)

	for {
		start := bytes.IndexByte(p.buf, '{')
		if start < 0 {
			// No object in sight; whatever is buffered is banner noise.
			p.buf = p.buf[:0]
			return
		}
		if start > 0 {
			p.buf = p.buf[start:]
		}

		end, ok := scanObject(p.buf)
		if !ok {
			// Unmatched depth: wait for more input.
			return
		}

		span := p.buf[:end]
		p.buf = append([]byte(nil), p.buf[end:]...)
		p.dispatch(span)
	}
}

// Flush attempts to parse any trailing buffered content as a final object
// and discards the buffer regardless of outcome.
func (p *StreamParser) Flush() {
	buf := p.buf
	p.buf = nil

	start := bytes.IndexByte(buf, '{')
	if start < 0 {
		return
	}
	p.dispatch(buf[start:])
}

// Reset clears the buffer.
func (p *StreamParser) Reset() {
	p.buf = nil
}

func (p *StreamParser) dispatch(span []byte) {
	msg, err := ParseMessage(span)
	if err != nil {
		if p.warn != nil {
			p.warn(span, err)
		}
		return
	}
	if msg != nil {
		p.handler(msg)
	}
}

// scanObject scans buf (which must start with '{') for the matching close
// brace, ignoring braces inside double-quoted strings. It returns the index
// just past the close brace, or false if the object is still incomplete.
func scanObject(buf []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, c := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
