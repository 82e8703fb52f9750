package mcpclient

import (
	"bufio"
	"strconv"
	"strings"
)

// sseEvent is one parsed server-sent event frame.
type sseEvent struct {
	ID    string
	Event string
	Data  string
	Retry int
}

// readSSEEvent reads one SSE frame (delimited by a blank line) from
// reader, honoring `data:`/`id:`/`event:`/`retry:` lines and ignoring
// `:`-comment lines. Multiple `data:` lines in one frame are
// concatenated with newlines.
func readSSEEvent(reader *bufio.Reader) (*sseEvent, error) {
	ev := &sseEvent{}
	var dataLines []string
	sawAny := false

	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			if sawAny {
				break
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if sawAny {
				break
			}
			if err != nil {
				return nil, err
			}
			continue
		}
		sawAny = true

		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value := splitField(line)
		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.ID = value
		case "event":
			ev.Event = value
		case "retry":
			if n, convErr := strconv.Atoi(value); convErr == nil {
				ev.Retry = n
			}
		}
		if err != nil {
			break
		}
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, nil
}

func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
