package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Encoder writes rows of a Table as CSV to an io.WriteCloser. The header
// row is written lazily before the first data row, so an Encoder that
// never receives a row produces no output unless EncodeHeader is called
// explicitly.
type Encoder struct {
	columns     []string
	csv         *csv.Writer
	cwc         *countingWriteCloser
	wroteHeader bool
}

func NewEncoder(w io.WriteCloser, columns []string) *Encoder {
	cwc := &countingWriteCloser{w: w}

	return &Encoder{
		columns: columns,
		csv:     csv.NewWriter(cwc),
		cwc:     cwc,
	}
}

// Encode writes a single row, which must have exactly as many cells as the
// Encoder has columns.
func (e *Encoder) Encode(row []string) error {
	if len(row) != len(e.columns) {
		return fmt.Errorf("row has %d cells but expected %d", len(row), len(e.columns))
	}
	if err := e.EncodeHeader(); err != nil {
		return err
	}

	return e.csv.Write(row)
}

// EncodeHeader writes the header row if it has not been written yet.
// Encode does this on its own; callers producing a table with no rows call
// it themselves so the output still names its columns.
func (e *Encoder) EncodeHeader() error {
	if e.wroteHeader {
		return nil
	}

	if err := e.csv.Write(e.columns); err != nil {
		return fmt.Errorf("writing header row: %w", err)
	}
	e.wroteHeader = true

	return nil
}

// Written returns the number of bytes flushed to the underlying writer so
// far.
func (e *Encoder) Written() int64 {
	return e.cwc.written
}

// Close flushes any buffered output and closes the underlying writer.
func (e *Encoder) Close() error {
	e.csv.Flush()
	if err := e.csv.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	return e.cwc.Close()
}

// WriteTable encodes the entire table and closes w, returning the number
// of bytes written. A table with no rows still gets its header, so the
// output is always a readable CSV.
func WriteTable(w io.WriteCloser, t *Table) (int64, error) {
	enc := NewEncoder(w, t.Columns)

	err := enc.EncodeHeader()
	for _, row := range t.Rows {
		if err != nil {
			break
		}
		err = enc.Encode(row)
	}
	// Close regardless so the writer is never left dangling, but report
	// the first error.
	if closeErr := enc.Close(); err == nil {
		err = closeErr
	}

	return enc.Written(), err
}

// ReadTable decodes CSV from r. The first row is taken as the header and
// every subsequent row must have the same number of cells.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	} else if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		rows = append(rows, rec)
	}

	return &Table{Columns: header, Rows: rows}, nil
}

// countingWriteCloser counts the bytes written through it.
type countingWriteCloser struct {
	written int64
	w       io.WriteCloser
}

func (c *countingWriteCloser) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("countingWriteCloser writing: %w", err)
	}
	c.written += int64(n)

	return n, nil
}

func (c *countingWriteCloser) Close() error {
	if err := c.w.Close(); err != nil {
		return fmt.Errorf("countingWriteCloser closing: %w", err)
	}

	return nil
}
