package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

const maxLineSize = 4 * 1024 * 1024

type Options struct {
	// Strict fails on the first malformed entry instead of skipping it.
	Strict bool
	// Filter drops valid entries that do not match it.
	Filter Filter
	// Limit stops reading after that many entries passed the filter. 0 reads
	// everything.
	Limit int
}

// Issue describes a record that was skipped. Position is 1-based: the line
// for JSON lines input, the element for a JSON array.
type Issue struct {
	Position int
	Err      error
}

func (i Issue) String() string {
	return fmt.Sprintf("entry %d: %v", i.Position, i.Err)
}

type Result struct {
	Entries []models.AccessEntry
	Issues  []Issue
}

func ReadFile(path string, opts Options) (*Result, error) {
	file, err := os.Open(filepath.Clean(path)) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.L.Warn("failed to close input file", zap.String("path", path), zap.Error(err))
		}
	}()

	return Read(file, opts)
}

// ReadText parses log text passed inline on the command line.
func ReadText(text string, opts Options) (*Result, error) {
	return Read(strings.NewReader(text), opts)
}

// Read accepts either a JSON array of entries or one JSON object per line.
func Read(r io.Reader, opts Options) (*Result, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if first == '[' {
		return readArray(br, opts)
	}

	return readLines(br, opts)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}

		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}

		return b, br.UnreadByte()
	}
}

func readArray(r io.Reader, opts Options) (*Result, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}

	res := &Result{}
	for pos := 1; dec.More(); pos++ {
		if opts.Limit > 0 && len(res.Entries) >= opts.Limit {
			break
		}

		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("invalid JSON array element %d: %w", pos, err)
		}

		if err := res.add(pos, msg, opts); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func readLines(r io.Reader, opts Options) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	res := &Result{}
	lineNum := 0

	for scanner.Scan() {
		if opts.Limit > 0 && len(res.Entries) >= opts.Limit {
			break
		}

		line := bytes.TrimSpace(scanner.Bytes())
		lineNum++

		if len(line) == 0 {
			continue
		}

		if err := res.add(lineNum, line, opts); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return res, nil
}

func (res *Result) add(pos int, data []byte, opts Options) error {
	var raw models.RawEntry
	err := json.Unmarshal(data, &raw)
	if err != nil {
		err = fmt.Errorf("%w: invalid JSON: %v", models.ErrMalformedEntry, err)
	}

	var entry models.AccessEntry
	if err == nil {
		entry, err = models.NewAccessEntry(raw)
	}

	if err != nil {
		if opts.Strict {
			return fmt.Errorf("entry %d: %w", pos, err)
		}

		logging.L.Warn("skipping malformed entry", zap.Int("position", pos), zap.Error(err))
		res.Issues = append(res.Issues, Issue{Position: pos, Err: err})
		return nil
	}

	if opts.Filter.Match(entry) {
		res.Entries = append(res.Entries, entry)
	}
	return nil
}
