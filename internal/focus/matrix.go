package focus

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/openvela/mediad/internal/errors"
)

// Suggestion is the arbiter's verdict for a focus request, or the
// content of a passive notification delivered to an entry another
// request displaced.
type Suggestion int32

const (
	SuggestPlay           Suggestion = 0
	SuggestStop           Suggestion = 1
	SuggestPause          Suggestion = 2
	SuggestPlaySilent     Suggestion = 3
	SuggestPlayWithDuck   Suggestion = 4
	SuggestPlayWithKeep   Suggestion = 5
)

func (s Suggestion) valid() bool {
	return s >= SuggestPlay && s <= SuggestPlayWithKeep
}

// cell is one entry of the n×n interaction matrix: the proactive
// suggestion returned to a newly requesting client given the current
// top's stream type, and the passive suggestion delivered to an
// already-stacked entry of that type when displaced.
type cell struct {
	proactive Suggestion
	passive   Suggestion
}

// matrix is an n×n table of cells indexed [requester.level][incumbent.level].
type matrix struct {
	names []string
	cells [][]cell
}

func (m *matrix) levelOf(name string) (int, bool) {
	for i, n := range m.names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func (m *matrix) at(requester, incumbent int) cell {
	return m.cells[requester][incumbent]
}

var tokenRE = regexp.MustCompile(`^[A-Za-z0-9:]+$`)

// parseMatrix reads the focus interaction matrix resource file:
//
//	# comment lines start with '#'
//	Stream, <name1>, <name2>, ..., <nameN>
//	<name1>, <pro>:<pas>, <pro>:<pas>, ...
//	...
//	<nameN>, <pro>:<pas>, <pro>:<pas>, ...
//
// Whitespace around tokens is ignored; any line containing a character
// outside [A-Za-z0-9:,] (after trimming), an empty field (adjacent
// delimiters), or a malformed cell is rejected. The parser is total and
// fail-closed: any of the above returns an error, never a partial matrix.
func parseMatrix(r io.Reader) (*matrix, error) {
	scanner := bufio.NewScanner(r)

	var header []string
	var rows [][]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitFields(line)
		if err != nil {
			return nil, err
		}
		if header == nil {
			if !strings.EqualFold(fields[0], "Stream") {
				return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("first data line must start with Stream, got %q", fields[0]))
			}
			header = fields[1:]
			continue
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIOError("focus.matrix", err)
	}
	if header == nil {
		return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("missing Stream header line"))
	}

	n := len(header)
	if len(rows) != n {
		return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("expected %d rows, got %d", n, len(rows)))
	}

	cells := make([][]cell, n)
	for i, row := range rows {
		if row[0] != header[i] {
			return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("row %d label %q does not match header name %q", i, row[0], header[i]))
		}
		if len(row)-1 != n {
			return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("row %q has %d cells, want %d", row[0], len(row)-1, n))
		}
		cells[i] = make([]cell, n)
		for j, raw := range row[1:] {
			c, err := parseCell(raw)
			if err != nil {
				return nil, err
			}
			cells[i][j] = c
		}
	}

	return &matrix{names: header, cells: cells}, nil
}

func splitFields(line string) ([]string, error) {
	parts := strings.Split(line, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		f := strings.TrimSpace(part)
		if f == "" {
			return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("empty field in line %q", line))
		}
		if !tokenRE.MatchString(f) {
			return nil, errors.NewProtocolError("focus.matrix", fmt.Errorf("invalid characters in field %q", f))
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseCell(raw string) (cell, error) {
	pair := strings.SplitN(raw, ":", 2)
	if len(pair) != 2 {
		return cell{}, errors.NewProtocolError("focus.matrix", fmt.Errorf("cell %q is not pro:pas", raw))
	}
	pro, err := strconv.Atoi(pair[0])
	if err != nil {
		return cell{}, errors.NewProtocolError("focus.matrix", fmt.Errorf("cell %q: %w", raw, err))
	}
	pas, err := strconv.Atoi(pair[1])
	if err != nil {
		return cell{}, errors.NewProtocolError("focus.matrix", fmt.Errorf("cell %q: %w", raw, err))
	}
	p, a := Suggestion(pro), Suggestion(pas)
	if !p.valid() || !a.valid() {
		return cell{}, errors.NewProtocolError("focus.matrix", fmt.Errorf("cell %q out of range 0-5", raw))
	}
	return cell{proactive: p, passive: a}, nil
}
