package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"optibatch/internal/logging"
)

const (
	defaultPoll   = 250 * time.Millisecond
	maxLineLength = 1024 * 1024
)

// Chunk is a batch of lines and the offset just past the last one.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Filter keeps lines that carry every non-empty field.
type Filter struct {
	RunID  string
	ItemID int64
	Level  string
}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if f.RunID != "" && !hasField(line, logging.FieldRunID, f.RunID) {
		return false
	}
	if f.ItemID != 0 {
		id := strconv.FormatInt(f.ItemID, 10)
		if !hasField(line, logging.FieldItemID, id) && !hasSubjectItem(line, id) {
			return false
		}
	}
	if f.Level != "" && !hasLevel(line, f.Level) {
		return false
	}
	return true
}

func (f Filter) apply(lines []string) []string {
	if f == (Filter{}) {
		return lines
	}
	kept := lines[:0]
	for _, line := range lines {
		if f.Match(line) {
			kept = append(kept, line)
		}
	}
	return kept
}

// hasField matches key=value (console), "key":"value" and "key":value (JSON).
func hasField(line, key, value string) bool {
	return strings.Contains(line, key+"="+value) ||
		strings.Contains(line, `"`+key+`":"`+value+`"`) ||
		strings.Contains(line, `"`+key+`":`+value+",") ||
		strings.Contains(line, `"`+key+`":`+value+"}")
}

// hasSubjectItem matches the console handler's "[job · item #id]" prefix.
func hasSubjectItem(line, id string) bool {
	return strings.Contains(line, "item #"+id+"]")
}

func hasLevel(line, level string) bool {
	level = strings.ToUpper(strings.TrimSpace(level))
	return strings.Contains(line, " "+level+" ") ||
		strings.Contains(line, "level="+level) ||
		strings.Contains(line, `"level":"`+level+`"`)
}

// Last returns up to n matching lines from the end of the file. A missing
// file yields an empty chunk at offset zero.
func Last(path string, n int, filter Filter) (Chunk, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	if n <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Chunk{}, fmt.Errorf("seek log file: %w", err)
		}
		return Chunk{Offset: offset}, nil
	}

	scanner := newScanner(file)
	ring := make([]string, n)
	count, idx := 0, 0
	for scanner.Scan() {
		line := scanner.Text()
		if !filter.Match(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % n
		if count < n {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == n {
		for i := range count {
			lines[i] = ring[(idx+i)%n]
		}
	} else {
		copy(lines, ring[:count])
	}
	return Chunk{Lines: lines, Offset: offset}, nil
}

// Since returns matching lines written after offset. An offset past the end
// of the file (after rotation or truncation) restarts from the beginning.
func Since(path string, offset int64, filter Filter) (Chunk, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Chunk{}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}

	// Count consumed bytes so a partially written last line is re-read.
	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	consumed := offset
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return Chunk{Lines: filter.apply(lines), Offset: consumed}, nil
}

// Follow polls for lines appended after offset and hands each matching line
// to fn until ctx ends or fn fails. A zero poll interval uses 250ms.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, filter Filter, fn func(string) error) error {
	if poll <= 0 {
		poll = defaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		chunk, err := Since(path, offset, filter)
		if err != nil {
			return err
		}
		for _, line := range chunk.Lines {
			if err := fn(line); err != nil {
				return err
			}
		}
		if chunk.Offset > 0 || offset == 0 {
			offset = chunk.Offset
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return scanner
}
