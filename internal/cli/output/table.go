package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Tabular is implemented by values that choose their own columns.
type Tabular interface {
	Table(wide bool) *Table
}

// TableFormatter formats data as aligned columns.
//
// Struct fields are selected with the `table` tag:
//
//	Name   string `table:"NAME"`
//	Host   string `table:"HOST,wide"` // only with Wide
//	Secret string `table:"-"`         // never
//
// Untagged exported fields use their upper-cased snake name.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

// Format formats data as a table. Types with no tabular shape fall back to
// indented JSON.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}

	var t *Table
	switch v := data.(type) {
	case *Table:
		t = v
	case Table:
		t = &v
	case Tabular:
		t = v.Table(f.Wide)
	default:
		var err error
		if t, err = toTable(data, f.Wide); err != nil {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		}
	}
	return t.RenderWithOptions(w, f.NoHeaders)
}

func toTable(data any, wide bool) (*Table, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return &Table{}, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return sliceToTable(v, wide)
	case reflect.Map:
		return mapToTable(v), nil
	case reflect.Struct:
		return structToTable(v, wide), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", v.Kind())
	}
}

type column struct {
	header string
	index  int
}

func columnsOf(t reflect.Type, wide bool) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		header := strings.ToUpper(toSnakeCase(field.Name))
		if tag, ok := field.Tag.Lookup("table"); ok {
			name, opts, _ := strings.Cut(tag, ",")
			if name == "-" {
				continue
			}
			if opts == "wide" && !wide {
				continue
			}
			if name != "" {
				header = name
			}
		}
		cols = append(cols, column{header: header, index: i})
	}
	return cols
}

func sliceToTable(v reflect.Value, wide bool) (*Table, error) {
	elemType := v.Type().Elem()
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(FormatCell(v.Index(i)))
		}
		return t, nil
	}

	cols := columnsOf(elemType, wide)
	t := &Table{}
	for _, c := range cols {
		t.Headers = append(t.Headers, c.header)
	}
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		if elem.Kind() == reflect.Ptr {
			if elem.IsNil() {
				continue
			}
			elem = elem.Elem()
		}
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = FormatCell(elem.Field(c.index))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func mapToTable(v reflect.Value) *Table {
	t := &Table{Headers: []string{"KEY", "VALUE"}}
	iter := v.MapRange()
	for iter.Next() {
		t.AddRow(FormatCell(iter.Key()), FormatCell(iter.Value()))
	}
	return t
}

func structToTable(v reflect.Value, wide bool) *Table {
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	for _, c := range columnsOf(v.Type(), wide) {
		t.AddRow(c.header, FormatCell(v.Field(c.index)))
	}
	return t
}

var timeType = reflect.TypeOf(time.Time{})

// FormatCell renders one value as a table cell. Times are relative.
func FormatCell(v reflect.Value) string {
	if !v.IsValid() {
		return "-"
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "-"
		}
		v = v.Elem()
	}

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return humanize.Time(t)
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return emptyDash(s.String())
	}

	switch v.Kind() {
	case reflect.String:
		return emptyDash(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return humanize.Comma(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return humanize.FormatFloat("#,###.##", v.Float())
	case reflect.Bool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func emptyDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// toSnakeCase converts CamelCase to Camel_Case.
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	return t.RenderWithOptions(w, false)
}

// RenderWithOptions renders the table, optionally without the header row.
func (t *Table) RenderWithOptions(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// SetHeaders sets the table headers.
func (t *Table) SetHeaders(headers ...string) {
	t.Headers = headers
}

// Records returns the rows keyed by lower-cased header, for the JSON and
// YAML encoders.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(row) {
				rec[strings.ToLower(h)] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}
