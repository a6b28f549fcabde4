package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineSize bounds a single feed line; records carrying OCR text for
// hundreds of pages run to several megabytes.
const maxLineSize = 64 << 20

// Entry is one non-empty line of a shard. Payload is the line's "record"
// field; Err is set when the line could not be unwrapped.
type Entry struct {
	Payload json.RawMessage
	Err     error
}

// Decode validates the entry's payload.
func (e Entry) Decode() (*Record, error) {
	if e.Err != nil {
		return nil, &MalformedError{Reason: e.Err.Error()}
	}
	return Decode(e.Payload)
}

// Shard is the ordered content of one numbered feed chunk.
type Shard struct {
	Index   int
	Entries []Entry
}

// ReadShard splits newline-delimited JSON into entries. Blank lines are
// skipped and do not count towards record offsets. A bad line becomes an
// entry with Err set so offsets stay stable.
func ReadShard(index int, r io.Reader) (*Shard, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	s := &Shard{Index: index}
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var env struct {
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			s.Entries = append(s.Entries, Entry{Err: fmt.Errorf("line %d: %w", len(s.Entries)+1, err)})
			continue
		}
		if len(env.Record) == 0 || bytes.Equal(env.Record, []byte("null")) {
			s.Entries = append(s.Entries, Entry{Err: errors.New("line has no record field")})
			continue
		}
		s.Entries = append(s.Entries, Entry{Payload: env.Record})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("source: read shard %d: %w", index, err)
	}
	return s, nil
}
