// Package projector turns the rows of one source table into attributed
// records and persists them one at a time.
package projector

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"amcache/internal/casestore"
	"amcache/internal/catalog"
)

// Rows is a forward-only row iterator.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}

// Source opens a row scan for a table.
type Source interface {
	Rows(ctx context.Context, table string) (Rows, error)
}

// Stats counts the rows seen for one table. Rows == Persisted + Skipped.
type Stats struct {
	Rows      int64
	Persisted int64
	Skipped   int64
}

// maxSampleErrors is how many distinct row errors are echoed per table.
const maxSampleErrors = 3

// Projector persists rows as records through Store.
type Projector struct {
	Source Source
	Store  casestore.Store
	// Module is written as the source of every attribute.
	Module string
	RunID  string
}

// ProjectRows streams every row of table into the store, one record per row
// with attributes in column order. A row that cannot be read or persisted is
// skipped. The returned error is set only when the scan cannot start or
// breaks off.
func (p *Projector) ProjectRows(
	ctx context.Context,
	table string,
	columns []catalog.ColumnDescriptor,
	attrs []casestore.AttributeType,
	kind casestore.ArtifactKind,
	owner casestore.FileHandle,
) (Stats, error) {
	var st Stats
	if len(attrs) != len(columns) {
		return st, fmt.Errorf("projector: %s: %d columns but %d attribute types", table, len(columns), len(attrs))
	}

	rows, err := p.Source.Rows(ctx, table)
	if err != nil {
		return st, fmt.Errorf("projector: %s: %w", table, err)
	}
	defer rows.Close()

	index, byName := alignColumns(columns, rows.Columns())
	if !byName {
		log.Printf("projector: table=%s result columns %v do not cover descriptors; aligning by position", table, rows.Columns())
	}

	agg := newErrAgg(maxSampleErrors)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			agg.log(table)
			return st, fmt.Errorf("projector: %s: %w", table, err)
		}
		st.Rows++

		vals, err := rows.Values()
		if err != nil {
			st.Skipped++
			agg.add(fmt.Sprintf("scan: %v", err))
			continue
		}
		rec, err := p.buildRecord(vals, index, columns, attrs, kind, owner)
		if err != nil {
			st.Skipped++
			agg.add(err.Error())
			continue
		}
		if _, err := p.Store.AddRecord(ctx, rec); err != nil {
			st.Skipped++
			agg.add(fmt.Sprintf("persist: %v", err))
			continue
		}
		st.Persisted++
	}
	if err := rows.Err(); err != nil {
		agg.log(table)
		return st, fmt.Errorf("projector: %s: iterate: %w", table, err)
	}
	agg.log(table)
	return st, nil
}

func (p *Projector) buildRecord(
	vals []any,
	index []int,
	columns []catalog.ColumnDescriptor,
	attrs []casestore.AttributeType,
	kind casestore.ArtifactKind,
	owner casestore.FileHandle,
) (casestore.Record, error) {
	rec := casestore.Record{
		Owner:      owner,
		Kind:       kind,
		RunID:      p.RunID,
		Attributes: make([]casestore.Attribute, 0, len(columns)),
	}
	h := xxh3.New()
	var num [8]byte
	for i, col := range columns {
		var cell any
		if j := index[i]; j >= 0 && j < len(vals) {
			cell = vals[j]
		}
		a := casestore.Attribute{Type: attrs[i], Source: p.Module}
		// The registered kind may differ from the column's declared kind
		// when an earlier table registered the name first.
		switch attrs[i].ValueKind {
		case casestore.ValueLong:
			n, err := extractLong(cell)
			if err != nil {
				return rec, fmt.Errorf("column %s: %w", col.Name, err)
			}
			a.Int = n
			binary.LittleEndian.PutUint64(num[:], uint64(n))
			h.Write(num[:])
		case casestore.ValueString:
			s, err := extractText(cell)
			if err != nil {
				return rec, fmt.Errorf("column %s: %w", col.Name, err)
			}
			a.Text = s
			h.WriteString(s)
		default:
			s, err := extractText(cell)
			if err != nil {
				return rec, fmt.Errorf("column %s: %w", col.Name, err)
			}
			a.Type.ValueKind = casestore.ValueString
			a.Text = s
			h.WriteString(s)
		}
		h.Write([]byte{0})
		rec.AddAttribute(a)
	}
	rec.Fingerprint = h.Sum64()
	return rec, nil
}

// alignColumns maps each descriptor to its result-set position. It matches
// by name (case-insensitively) when every descriptor is present and falls
// back to position otherwise.
func alignColumns(columns []catalog.ColumnDescriptor, result []string) ([]int, bool) {
	pos := make(map[string]int, len(result))
	for i, name := range result {
		key := strings.ToLower(name)
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}
	index := make([]int, len(columns))
	for i, c := range columns {
		j, ok := pos[strings.ToLower(c.Name)]
		if !ok {
			for k := range index {
				index[k] = k
			}
			return index, false
		}
		index[i] = j
	}
	return index, true
}

// sqliteTimeLayout renders a time.Time the way SQLite date functions
// store it.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// extractText renders a cell as text. NULL is the empty string.
func extractText(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.Format(sqliteTimeLayout), nil
	default:
		return "", fmt.Errorf("unsupported cell type %T", v)
	}
}

// extractLong converts a cell the way SQLite's integer affinity reads it:
// integers as is, reals truncated, text by its leading number, NULL and
// non-numeric text as 0.
func extractLong(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case float64:
		return truncate(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseLeadingNumber(x), nil
	case []byte:
		return parseLeadingNumber(string(x)), nil
	case time.Time:
		return parseLeadingNumber(x.Format(sqliteTimeLayout)), nil
	default:
		return 0, fmt.Errorf("unsupported cell type %T", v)
	}
}

func truncate(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// parseLeadingNumber parses the longest numeric prefix of s after leading
// spaces, like CAST(s AS INTEGER).
func parseLeadingNumber(s string) int64 {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	intPart := s[:end]
	// A fractional or exponent tail makes this a real; truncate it.
	if end < len(s) && (s[end] == '.' || s[end] == 'e' || s[end] == 'E') {
		j := end
		if s[j] == '.' {
			j++
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
		}
		if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
			k := j + 1
			if k < len(s) && (s[k] == '+' || s[k] == '-') {
				k++
			}
			if k < len(s) && s[k] >= '0' && s[k] <= '9' {
				for k < len(s) && s[k] >= '0' && s[k] <= '9' {
					k++
				}
				j = k
			}
		}
		if f, err := strconv.ParseFloat(s[:j], 64); err == nil {
			return truncate(f)
		}
	}
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		if intPart[0] == '-' {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n
}
