package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Event string
	ID    string
	Data  []byte
}

// sseDecoder reads the text/event-stream line protocol: "data:" lines are
// joined with newlines, a blank line dispatches the event, and lines
// beginning with ":" are comments (keepalives).
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReader(r)}
}

// Next returns the next event carrying data. It returns io.EOF when the
// stream ends cleanly; a final event not followed by a blank line is still
// dispatched.
func (d *sseDecoder) Next() (sseEvent, error) {
	var (
		ev      sseEvent
		data    bytes.Buffer
		hasData bool
	)

	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return sseEvent{}, err
		}
		eof := err != nil

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				ev.Data = data.Bytes()
				return ev, nil
			}
			if eof {
				return sseEvent{}, io.EOF
			}
			ev = sseEvent{}
			continue
		}

		if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")

			switch field {
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			case "event":
				ev.Event = value
			case "id":
				ev.ID = value
			}
		}

		if eof {
			if hasData {
				ev.Data = data.Bytes()
				return ev, nil
			}
			return sseEvent{}, io.EOF
		}
	}
}
