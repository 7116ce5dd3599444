package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ErrUnparseable marks a CSV record that cannot become a transaction. Such
// rows are skipped and counted, never fatal.
var ErrUnparseable = errors.New("unparseable row")

// Row is one statement line after parsing. Columns are
// date, amount, description, balance, e.g.
//
//	26/10/2024,'-7.73','UBER* TRIP','+232.41'
type Row struct {
	Line        int
	Date        civil.Date
	Amount      decimal.Decimal
	Description string
	Balance     *decimal.Decimal
}

var dateLayouts = []string{
	"2/1/2006",
	time.DateOnly,
}

func newReader(r io.Reader) *csv.Reader {
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true
	return csvr
}

// isHeader reports whether a first record is a column header.
func isHeader(rec []string) bool {
	for _, cell := range rec {
		if strings.EqualFold(cleanCell(cell), "date") {
			return true
		}
	}
	return false
}

// cleanCell trims whitespace and one layer of surrounding quotes.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{"'", `"`} {
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// ParseRecord turns one CSV record into a Row.
func ParseRecord(line int, rec []string) (Row, error) {
	if len(rec) < 3 {
		return Row{}, fmt.Errorf("line %d: expected at least 3 columns, got %d: %w", line, len(rec), ErrUnparseable)
	}

	date, err := parseDate(rec[0])
	if err != nil {
		return Row{}, fmt.Errorf("line %d date: %v: %w", line, err, ErrUnparseable)
	}
	amount, err := parseAmount(rec[1])
	if err != nil {
		return Row{}, fmt.Errorf("line %d amount: %v: %w", line, err, ErrUnparseable)
	}
	desc := cleanCell(rec[2])
	if desc == "" {
		return Row{}, fmt.Errorf("line %d: empty description: %w", line, ErrUnparseable)
	}

	row := Row{Line: line, Date: date, Amount: amount, Description: desc}
	if len(rec) > 3 {
		bal, err := parseBalance(rec[3])
		if err != nil {
			return Row{}, fmt.Errorf("line %d balance: %v: %w", line, err, ErrUnparseable)
		}
		row.Balance = bal
	}
	return row, nil
}

func parseDate(s string) (civil.Date, error) {
	s = cleanCell(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

func parseDecimal(s string) (decimal.Decimal, bool, error) {
	s = strings.ReplaceAll(cleanCell(s), ",", "")
	s = strings.Replace(s, "$", "", 1)
	if s == "" {
		return decimal.Zero, false, errors.New("empty value")
	}
	signed := strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, signed, nil
}

// parseAmount reads a signed amount. Statements mark credits with an explicit
// plus, so an unsigned amount is a debit.
func parseAmount(s string) (decimal.Decimal, error) {
	d, signed, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !signed {
		d = d.Neg()
	}
	return d, nil
}

// parseBalance reads an optional balance; unsigned values are positive.
func parseBalance(s string) (*decimal.Decimal, error) {
	if cleanCell(s) == "" {
		return nil, nil
	}
	d, _, err := parseDecimal(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CountRows returns the number of data rows in r, excluding a header.
func CountRows(r io.Reader) (int, error) {
	csvr := newReader(r)
	n := 0
	for i := 0; ; i++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				n++
				continue
			}
			return 0, fmt.Errorf("CountRows: %w", err)
		}
		if i == 0 && isHeader(rec) {
			continue
		}
		n++
	}
	return n, nil
}

// rowsPerMinute is the observed classification throughput of a local model.
const rowsPerMinute = 30

// EstimateMinutes returns the expected processing time for rows, rounded
// up to a tenth of a minute.
func EstimateMinutes(rows int) decimal.Decimal {
	if rows <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(rows)).
		Div(decimal.NewFromInt(rowsPerMinute)).
		RoundUp(1)
}
