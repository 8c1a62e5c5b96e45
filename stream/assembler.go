// Package stream turns an incremental chat-completion response into display-ready text.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"unicode"

	"tripsync/apperr"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// characters dropped from every fragment before it reaches the message
var scrubber = strings.NewReplacer(
	"`", "",
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Assembler buffers raw response bytes and emits the growing message each time a
// payload line adds text. Every emitted value is a prefix of the final message.
// It is not safe for concurrent use.
type Assembler struct {
	buf      string
	raw      strings.Builder
	message  string
	done     bool
	dropped  int
	onUpdate func(string)
}

func NewAssembler(onUpdate func(string)) *Assembler {
	return &Assembler{onUpdate: onUpdate}
}

// Write feeds one chunk. It never fails; data after the sentinel is ignored.
func (a *Assembler) Write(p []byte) (int, error) {
	if a.done {
		return len(p), nil
	}
	a.buf += string(p)
	a.drain(false)
	return len(p), nil
}

// Flush runs the leftover buffer through the line parser once, discarding
// anything that still does not parse.
func (a *Assembler) Flush() {
	if a.done {
		return
	}
	a.drain(true)
	if a.dropped > 0 {
		log.Printf("[Stream] discarded %d unparseable line(s) at end of stream", a.dropped)
	}
}

// Message is the accumulated display text so far.
func (a *Assembler) Message() string { return a.message }

// Done reports whether the sentinel payload was seen.
func (a *Assembler) Done() bool { return a.done }

func (a *Assembler) drain(final bool) {
	for !a.done {
		var line string
		idx := strings.IndexByte(a.buf, '\n')
		switch {
		case idx >= 0:
			line, a.buf = a.buf[:idx], a.buf[idx+1:]
		case final && a.buf != "":
			line, a.buf = a.buf, ""
		default:
			return
		}
		line = strings.TrimSuffix(line, "\r")

		if a.handle(line) {
			continue
		}
		if final {
			a.dropped++
			continue
		}
		// most likely split mid-payload; wait for more data
		a.buf = line + "\n" + a.buf
		return
	}
}

// handle returns false only when a data line carries JSON that does not parse.
func (a *Assembler) handle(line string) bool {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return true
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return true
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		a.done = true
		return true
	}

	var chunk completionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return true
	}
	a.append(chunk.Choices[0].Delta.Content)
	return true
}

func (a *Assembler) append(fragment string) {
	a.raw.WriteString(scrubber.Replace(fragment))
	display := trimLeadingNonLetters(a.raw.String())
	if display == a.message {
		return
	}
	a.message = display
	if a.onUpdate != nil {
		a.onUpdate(display)
	}
}

func trimLeadingNonLetters(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
}

// Assemble reads r to completion (or to the sentinel) and returns the final message.
func Assemble(ctx context.Context, r io.Reader, onUpdate func(string)) (string, error) {
	a := NewAssembler(onUpdate)
	buf := make([]byte, readSize)
	for !a.Done() {
		if err := ctx.Err(); err != nil {
			return a.Message(), apperr.Classify(err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			a.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a.Message(), apperr.Network("The response stream was interrupted.", err)
		}
	}
	a.Flush()
	return a.Message(), nil
}
