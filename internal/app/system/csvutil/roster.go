package csvutil

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dalemusser/classroll/internal/app/system/inputval"
	"github.com/dalemusser/classroll/internal/app/system/normalize"
)

// ErrTooManyRows is returned when the file has more data rows than allowed.
var ErrTooManyRows = errors.New("too many rows in CSV")

// RosterRow is one seat to create. Names are as typed; the store normalizes them.
type RosterRow struct {
	Line   int    `json:"line"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
	Email  string `json:"email,omitempty"`
}

// RowError describes a rejected line.
type RowError struct {
	Line   int      `json:"line"`
	Reason string   `json:"reason"`
	Raw    []string `json:"raw,omitempty"`
}

// ParseResult holds accepted rows and per-line errors.
type ParseResult struct {
	Rows   []RosterRow `json:"rows"`
	Errors []RowError  `json:"errors,omitempty"`
}

func (r *ParseResult) HasErrors() bool { return len(r.Errors) > 0 }

// Summary is a short plain-text description of the first maxShow errors.
func (r *ParseResult) Summary(maxShow int) string {
	if len(r.Errors) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d row(s) are invalid", len(r.Errors))
	n := min(maxShow, len(r.Errors))
	for _, e := range r.Errors[:n] {
		fmt.Fprintf(&b, "; line %d: %s", e.Line, e.Reason)
	}
	if rest := len(r.Errors) - n; rest > 0 {
		fmt.Fprintf(&b, "; and %d more", rest)
	}
	return b.String()
}

// ParseOptions configures ParseRoster.
type ParseOptions struct {
	// MaxRows caps data rows; 0 means unlimited.
	MaxRows int
}

func DefaultParseOptions() ParseOptions {
	return ParseOptions{MaxRows: MaxRows}
}

var (
	surnameHeaders = []string{"nom", "surname", "last name", "lastname", "family name"}
	givenHeaders   = []string{"prenom", "prénom", "given name", "first name", "firstname"}
)

func oneOf(s string, set []string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isHeader(rec []string) bool {
	return len(rec) >= 2 && oneOf(rec[0], surnameHeaders) && oneOf(rec[1], givenHeaders)
}

// sniffDelimiter picks ';' for spreadsheet exports that use it, else ','.
func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

// ParseRoster reads "nom,prenom[,email]" rows. A header row is skipped, a
// UTF-8 BOM is ignored, blank lines are dropped, and names that repeat an
// earlier row (accent and case insensitive) are reported as errors.
func ParseRoster(r io.Reader, opts ParseOptions) (*ParseResult, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	res := &ParseResult{}
	seen := map[string]int{}
	first := true
	data := 0

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Errors = append(res.Errors, RowError{Line: pe.Line, Reason: pe.Err.Error()})
				continue
			}
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if first {
			first = false
			if isHeader(rec) {
				continue
			}
		}
		if blank(rec) {
			continue
		}

		data++
		if opts.MaxRows > 0 && data > opts.MaxRows {
			return nil, ErrTooManyRows
		}

		row := RosterRow{Line: line, Nom: field(rec, 0), Prenom: field(rec, 1), Email: field(rec, 2)}
		if reason := checkRow(row); reason != "" {
			res.Errors = append(res.Errors, RowError{Line: line, Reason: reason, Raw: rec})
			continue
		}
		key := normalize.DedupKey(row.Nom, row.Prenom)
		if prev, dup := seen[key]; dup {
			res.Errors = append(res.Errors, RowError{
				Line:   line,
				Reason: fmt.Sprintf("duplicate of line %d", prev),
				Raw:    rec,
			})
			continue
		}
		seen[key] = line
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func checkRow(row RosterRow) string {
	switch {
	case row.Nom == "":
		return "missing surname"
	case row.Prenom == "":
		return "missing given name"
	case !inputval.IsValidPersonName(row.Nom) || !inputval.IsValidPersonName(row.Prenom):
		return "names may contain only letters, spaces, - or _"
	case row.Email != "" && !inputval.IsValidEmail(row.Email):
		return "invalid email"
	}
	return ""
}
