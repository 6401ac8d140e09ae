// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/jeranaias/parley/internal/logging"
)

// =============================================================================
// STREAM READER
// =============================================================================

// FrameCallback receives each decoded frame in arrival order. Returning
// a non-nil error aborts the stream.
type FrameCallback func(*Frame) error

// StreamReader handles line-by-line JSON parsing of streaming
// responses. One decoded line is one frame; a line that fails to decode
// is skipped without aborting the rest of the stream.
type StreamReader struct {
	reader     *bufio.Reader
	frameCount int
	skipCount  int
	model      string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		reader: bufio.NewReader(r),
	}
}

// Process reads the stream and calls the callback for each frame.
// Blocks until the stream is complete, the callback aborts, or the
// context is cancelled. A final line without a trailing newline is
// still decoded before EOF is reported.
func (s *StreamReader) Process(ctx context.Context, callback FrameCallback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			frame, err := s.readFrame()
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}

			if frame != nil {
				if err := callback(frame); err != nil {
					return err
				}
				if frame.Done {
					return nil
				}
			}
		}
	}
}

// readFrame reads and parses a single line from the stream. Returns
// (nil, nil) for blank or malformed lines.
func (s *StreamReader) readFrame() (*Frame, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		// Try to process the last line even on EOF
		if len(line) == 0 {
			return nil, err
		}
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var frame Frame
	if err := json.Unmarshal(line, &frame); err != nil {
		// Skip malformed lines; the rest of the stream is still usable.
		s.skipCount++
		logging.WithField("line", string(line)).Debug("skipping undecodable stream line")
		return nil, nil
	}

	s.frameCount++
	if frame.Model != "" {
		s.model = frame.Model
	}
	return &frame, nil
}

// FrameCount returns the number of frames decoded so far.
func (s *StreamReader) FrameCount() int {
	return s.frameCount
}

// SkipCount returns the number of malformed lines dropped so far.
func (s *StreamReader) SkipCount() int {
	return s.skipCount
}

// Model returns the model name last reported by the stream.
func (s *StreamReader) Model() string {
	return s.model
}
