package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
)

// Record is one parsed line of the log together with its raw bytes (without
// the trailing newline).
type Record struct {
	Event Event
	Raw   []byte
}

// ReadFrom reads complete lines starting at byte offset and returns those
// whose event time is at or after sinceMs, plus the offset just past the last
// complete line. A trailing line without a newline is left for a later call.
// Malformed lines are skipped. If the file is shorter than offset it is
// assumed to have been replaced and is read from the start. A missing file
// yields no records and offset 0.
func ReadFrom(path string, offset, sinceMs int64) ([]Record, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("eventlog: stat %s: %w", path, err)
	}
	if fi.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("eventlog: seek: %w", err)
	}

	var out []Record
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return out, offset, nil
		}
		if err != nil {
			return out, offset, fmt.Errorf("eventlog: read: %w", err)
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			slog.Debug("eventlog: skipping malformed line", "path", path, "err", err)
			continue
		}
		if ev.T < sinceMs {
			continue
		}
		out = append(out, Record{Event: ev, Raw: line})
	}
}

// ReadSince returns every event in the log at path with time at or after
// sinceMs, in file order.
func ReadSince(path string, sinceMs int64) ([]Event, error) {
	recs, _, err := ReadFrom(path, 0, sinceMs)
	if err != nil {
		return nil, err
	}
	out := make([]Event, len(recs))
	for i, r := range recs {
		out[i] = r.Event
	}
	return out, nil
}
