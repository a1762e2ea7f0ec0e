package dispatch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// Stream delivers SSE chunks from a provider in arrival order. The channel
// returned by Chunks is closed when the provider finishes, errors, or the
// request context is cancelled; Err and Usage are valid after that.
type Stream struct {
	ch chan Chunk

	mu    sync.Mutex
	err   error
	usage Usage
}

// Chunks returns the ordered chunk channel. Closed on completion.
func (s *Stream) Chunks() <-chan Chunk {
	return s.ch
}

// Err returns the terminal error, if any. Only meaningful once Chunks is
// closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Usage returns the token counts accumulated so far. After Chunks closes this
// is the final accounting; on cancellation it covers the delivered portion.
func (s *Stream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) mergeUsage(u Usage) {
	s.mu.Lock()
	if u.InputTokens > 0 {
		s.usage.InputTokens = u.InputTokens
	}
	if u.OutputTokens > 0 {
		s.usage.OutputTokens = u.OutputTokens
	}
	s.mu.Unlock()
}

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// chunkUsage matches the usage block providers attach to streaming events.
// Both OpenAI-style (prompt/completion) and Anthropic-style (input/output)
// field names are accepted.
type chunkUsage struct {
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	} `json:"usage"`
}

// parseUsage extracts token counts from a raw SSE data payload, if present.
func parseUsage(data []byte) (Usage, bool) {
	var cu chunkUsage
	if err := json.Unmarshal(data, &cu); err != nil || cu.Usage == nil {
		return Usage{}, false
	}
	u := Usage{
		InputTokens:  cu.Usage.PromptTokens,
		OutputTokens: cu.Usage.CompletionTokens,
	}
	if cu.Usage.InputTokens > 0 {
		u.InputTokens = cu.Usage.InputTokens
	}
	if cu.Usage.OutputTokens > 0 {
		u.OutputTokens = cu.Usage.OutputTokens
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return Usage{}, false
	}
	return u, true
}

// pump reads SSE lines from body and forwards data events onto s.ch until the
// body is drained, the terminator arrives, or the reader fails. It closes the
// channel on exit; the caller closes body (typically via context
// cancellation, which unblocks the read).
func (s *Stream) pump(body io.Reader) {
	defer close(s.ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			return
		}
		if u, ok := parseUsage(data); ok {
			s.mergeUsage(u)
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.ch <- Chunk{Data: cp}
	}
	if err := scanner.Err(); err != nil {
		s.setErr(err)
	}
}
