package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Wire roles accepted by the generation endpoint.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one prior conversation turn sent to the model.
// Role is RoleUser or RoleModel.
type Message struct {
	Role string
	Text string
}

// GenerateRequest describes one streamed generation call.
type GenerateRequest struct {
	System   string
	Messages []Message
}

// Wire types for the streamGenerateContent request body.
type generatePayload struct {
	SystemInstruction *wireContent  `json:"systemInstruction,omitempty"`
	Contents          []wireContent `json:"contents"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

// streamChunk is the subset of a streamed response frame we consume.
type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Stream delivers decoded text fragments from one model response.
// It is not safe for concurrent use.
type Stream struct {
	body    io.ReadCloser
	parser  frameParser
	pending []string
	readBuf []byte
	done    bool
}

// GenerateStream starts a streamed generation call against the named
// model. Rate-limit and unknown-model rejections surface as
// *ProviderError with the matching status code so callers can drive
// their retry and model-fallback policy.
func (c *Client) GenerateStream(ctx context.Context, model string, req GenerateRequest) (*Stream, error) {
	payload := generatePayload{
		Contents: make([]wireContent, 0, len(req.Messages)),
	}
	if req.System != "" {
		payload.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		payload.Contents = append(payload.Contents, wireContent{
			Role:  m.Role,
			Parts: []wirePart{{Text: m.Text}},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{StatusCode: http.StatusBadGateway, Status: "UNAVAILABLE", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		perr := &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status}
		if readErr == nil {
			var eb apiErrorBody
			if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
				perr.Status = eb.Error.Status
				perr.Message = eb.Error.Message
			} else {
				perr.Message = string(raw)
			}
		}
		return nil, perr
	}

	return &Stream{body: resp.Body, readBuf: make([]byte, 4096)}, nil
}

// Next returns the next text fragment. It returns io.EOF when the
// provider closes the stream. Malformed frames are skipped without
// aborting the stream.
func (s *Stream) Next() (string, error) {
	for {
		if len(s.pending) > 0 {
			frag := s.pending[0]
			s.pending = s.pending[1:]
			return frag, nil
		}
		if s.done {
			return "", io.EOF
		}

		n, err := s.body.Read(s.readBuf)
		if n > 0 {
			for _, frame := range s.parser.feed(s.readBuf[:n]) {
				if text := decodeFrame(frame); text != "" {
					s.pending = append(s.pending, text)
				}
			}
		}
		if err != nil {
			s.done = true
			if err != io.EOF {
				return "", fmt.Errorf("reading stream: %w", err)
			}
			// A final frame without a trailing delimiter is still data.
			if frame := s.parser.flush(); len(frame) > 0 {
				if text := decodeFrame(frame); text != "" {
					s.pending = append(s.pending, text)
				}
			}
		}
	}
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

// decodeFrame extracts the text of one SSE frame. Frames that are
// comments, empty, or undecodable yield "".
func decodeFrame(frame []byte) string {
	var data []byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, bytes.TrimPrefix(rest, []byte(" "))...)
		}
	}
	if len(data) == 0 {
		return ""
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		// Incomplete or malformed frame; skip it.
		return ""
	}

	var text string
	for _, cand := range chunk.Candidates {
		for _, part := range cand.Content.Parts {
			text += part.Text
		}
	}
	return text
}

// frameParser reassembles SSE frames from arbitrary read boundaries.
// Partial frames are carried in buf until the blank-line delimiter
// arrives; the network owes us no alignment between reads and frames.
type frameParser struct {
	buf []byte
}

// feed appends b and returns every complete frame now available.
// Both LF and CRLF blank-line delimiters are accepted.
func (p *frameParser) feed(b []byte) [][]byte {
	p.buf = append(p.buf, b...)

	var frames [][]byte
	for {
		i, width := p.delimiter()
		if i < 0 {
			return frames
		}
		frame := make([]byte, i)
		copy(frame, p.buf[:i])
		p.buf = p.buf[i+width:]
		frames = append(frames, frame)
	}
}

// delimiter locates the earliest frame boundary in buf.
func (p *frameParser) delimiter() (pos, width int) {
	lf := bytes.Index(p.buf, []byte("\n\n"))
	crlf := bytes.Index(p.buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// flush returns whatever is buffered as a final frame.
func (p *frameParser) flush() []byte {
	frame := p.buf
	p.buf = nil
	return frame
}
