// Package sse folds OpenAI-style event-stream bodies into the text they
// carry. Each `data: ` record holding a `choices[0].delta.content` string
// contributes that string; everything else on the stream is ignored.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4096
)

type deltaRecord struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Aggregator accumulates delta content from event-stream chunks. Chunk
// boundaries need not align with lines; a trailing partial line is carried
// over to the next Feed. An Aggregator belongs to a single stream.
type Aggregator struct {
	text     strings.Builder
	leftover []byte
	records  int
	skipped  int
	done     bool
}

// Feed consumes one chunk. Feeding after Finish has no effect.
func (a *Aggregator) Feed(chunk []byte) {
	if a.done || len(chunk) == 0 {
		return
	}
	buf := append(a.leftover, chunk...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		a.line(buf[:i])
		buf = buf[i+1:]
	}
	a.leftover = append(a.leftover[:0:0], buf...)
}

// Finish ends the stream and returns the composed text. A final line that was
// not newline-terminated is still treated as a complete record.
func (a *Aggregator) Finish() string {
	if !a.done {
		if len(a.leftover) > 0 {
			a.line(a.leftover)
			a.leftover = nil
		}
		a.done = true
	}
	return a.text.String()
}

// Text returns the text composed so far.
func (a *Aggregator) Text() string { return a.text.String() }

// Records returns how many content deltas were appended.
func (a *Aggregator) Records() int { return a.records }

// Skipped returns how many data lines could not be decoded.
func (a *Aggregator) Skipped() int { return a.skipped }

func (a *Aggregator) line(raw []byte) {
	l := string(bytes.TrimSuffix(raw, []byte("\r")))
	if !strings.HasPrefix(l, dataPrefix) || strings.Contains(l, doneSentinel) {
		return
	}
	var rec deltaRecord
	if err := json.Unmarshal([]byte(l[len(dataPrefix):]), &rec); err != nil {
		// heartbeats and partial records are expected on these streams
		a.skipped++
		return
	}
	if len(rec.Choices) == 0 || rec.Choices[0].Delta.Content == nil || *rec.Choices[0].Delta.Content == "" {
		return
	}
	a.text.WriteString(*rec.Choices[0].Delta.Content)
	a.records++
}

// Fold drains a finite sequence of chunks into a fresh Aggregator. The first
// non-nil error stops the fold and is returned with the text composed so far.
func Fold(chunks iter.Seq2[[]byte, error]) (string, error) {
	var a Aggregator
	for chunk, err := range chunks {
		if err != nil {
			return a.Text(), err
		}
		a.Feed(chunk)
	}
	return a.Finish(), nil
}

// Chunks yields successive reads from r until io.EOF. Reads are not retried
// after EOF. Cancelling ctx stops the sequence with ctx.Err().
func Chunks(ctx context.Context, r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, readSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n, err := r.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Aggregate reads r to end-of-stream and returns the composed text.
func Aggregate(ctx context.Context, r io.Reader) (string, error) {
	return Fold(Chunks(ctx, r))
}
