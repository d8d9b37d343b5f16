package engine

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mark is the symbol a player places on the board.
type Mark string

const (
	MarkEmpty Mark = ""
	MarkX     Mark = "X" // always played by the session creator
	MarkO     Mark = "O"

	// BoardSize is the number of cells on the board.
	BoardSize = 9
)

// Valid reports whether m is a player mark.
func (m Mark) Valid() bool {
	return m == MarkX || m == MarkO
}

// Other returns the opposing player mark, or MarkEmpty for an empty mark.
func (m Mark) Other() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	}
	return MarkEmpty
}

// Board is the 3x3 grid in row-major order. It is a value type: assigning
// or passing a Board copies all nine cells.
type Board [BoardSize]Mark

// String renders the board as three rows, using '.' for empty cells.
func (b Board) String() string {
	var sb strings.Builder
	for i, m := range b {
		if m == MarkEmpty {
			sb.WriteByte('.')
		} else {
			sb.WriteString(string(m))
		}
		if i%3 == 2 && i != BoardSize-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// MarshalJSON encodes empty cells as null so clients can test cells with a
// plain null check.
func (b Board) MarshalJSON() ([]byte, error) {
	cells := make([]*string, BoardSize)
	for i, m := range b {
		if m != MarkEmpty {
			s := string(m)
			cells[i] = &s
		}
	}
	return json.Marshal(cells)
}

// UnmarshalJSON accepts null or "" for empty cells.
func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []*string
	if err := json.Unmarshal(data, &cells); err != nil {
		return errors.Wrap(err, "decode board")
	}
	if len(cells) != BoardSize {
		return errors.Newf("board must have %d cells, got %d", BoardSize, len(cells))
	}
	var out Board
	for i, c := range cells {
		if c == nil || *c == "" {
			continue
		}
		m := Mark(*c)
		if !m.Valid() {
			return errors.Newf("invalid mark %q at cell %d", *c, i)
		}
		out[i] = m
	}
	*b = out
	return nil
}
