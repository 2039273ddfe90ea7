package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// TableFormatter formats data as an aligned table.
//
// A *Table is rendered as is. A slice of structs becomes one row per
// element, a single struct a FIELD/VALUE listing and a map a KEY/VALUE
// listing with sorted keys. Anything else falls back to JSON.
type TableFormatter struct {
	Wide      bool
	NoHeaders bool
}

func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	switch t := data.(type) {
	case *Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	case Table:
		return t.RenderWithOptions(w, f.NoHeaders)
	}

	table, err := toTable(reflect.ValueOf(data), f.Wide)
	if err != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return table.RenderWithOptions(w, f.NoHeaders)
}

func toTable(v reflect.Value, wide bool) (*Table, error) {
	v = indirect(v)
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

// column is a struct field shown in a table.
type column struct {
	index int
	name  string
}

// columns lists the visible fields of struct type t.
func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("table")
		if tag == "-" || (tag == "wide" && !wide) {
			continue
		}
		name := f.Name
		if j, _, _ := strings.Cut(f.Tag.Get("json"), ","); j != "" && j != "-" {
			name = j
		}
		cols = append(cols, column{index: i, name: name})
	}
	return cols
}

func sliceToTable(v reflect.Value, wide bool) (*Table, error) {
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(formatValue(v.Index(i)))
		}
		return t, nil
	}

	cols := columns(elem, wide)
	t := &Table{}
	for _, c := range cols {
		t.Headers = append(t.Headers, strings.ToUpper(toSnakeCase(c.name)))
	}
	for i := 0; i < v.Len(); i++ {
		e := indirect(v.Index(i))
		if !e.IsValid() {
			continue
		}
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = formatValue(e.Field(c.index))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func mapToTable(v reflect.Value) *Table {
	t := &Table{Headers: []string{"KEY", "VALUE"}}
	for _, k := range sortedKeys(v) {
		t.AddRow(formatValue(k), formatValue(v.MapIndex(k)))
	}
	return t
}

func structToTable(v reflect.Value, wide bool) *Table {
	t := &Table{Headers: []string{"FIELD", "VALUE"}}
	for _, c := range columns(v.Type(), wide) {
		t.AddRow(c.name, formatValue(v.Field(c.index)))
	}
	return t
}

func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(formatValue(a), formatValue(b))
	})
	return keys
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// formatValue renders a single cell. Empty values render as "-".
func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}

	switch v.Type() {
	case timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	case durationType:
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.String() == "" {
			return "-"
		}
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', 2, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	default:
		return fmt.Sprint(v.Interface())
	}
}

// toSnakeCase converts CamelCase to Camel_Case. Runs of capitals stay
// together, so BodySize becomes Body_Size and NextID becomes Next_ID.
func toSnakeCase(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		if i > 0 && isUpper(r) && (!isUpper(rs[i-1]) || (i+1 < len(rs) && !isUpper(rs[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

// Table is preformatted tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table with headers.
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

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}
