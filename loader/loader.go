// Package loader reads tabular files into tables. Cell types are
// inferred per format: text formats try int, then float, then bool;
// binary formats map their native types directly.
package loader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/pipelang/pipeq/table"
)

// Load reads one file into a table, picking the format from the
// extension.
func Load(path string) (*table.Table, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return loadCSV(path)
	case ".json":
		return loadJSON(path)
	case ".jsonl":
		return loadJSONL(path)
	case ".avro":
		return loadAvro(path)
	case ".parquet":
		return loadParquet(path)
	default:
		return nil, fmt.Errorf("unsupported file format %q (supported: .csv, .json, .jsonl, .avro, .parquet)", ext)
	}
}

func loadCSV(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read csv header from %s: %w", path, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	t := table.NewTable(cols)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read csv row from %s: %w", path, err)
		}
		vals := make([]table.Value, len(cols))
		for i := range cols {
			if i < len(record) {
				vals[i] = inferValue(strings.TrimSpace(record[i]))
			} else {
				vals[i] = table.Null()
			}
		}
		t.AddRow(vals)
	}
	return t, nil
}

// inferValue types a text cell: empty and "null" become null, then
// int, float and bool are tried before falling back to string.
func inferValue(s string) table.Value {
	if s == "" || strings.EqualFold(s, "null") {
		return table.Null()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return table.IntVal(v)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return table.FloatVal(v)
	}
	switch strings.ToLower(s) {
	case "true":
		return table.BoolVal(true)
	case "false":
		return table.BoolVal(false)
	}
	return table.StrVal(s)
}

func loadJSON(path string) (*table.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w (expected an array of objects)", path, err)
	}
	return tableFromRecords(records), nil
}

func loadJSONL(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid json: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return tableFromRecords(records), nil
}

// tableFromRecords unions the keys of all records into one column set.
// Keys are taken in first-seen order, sorted within each record, so
// the result does not depend on map iteration order.
func tableFromRecords(records []map[string]any) *table.Table {
	seen := map[string]bool{}
	var cols []string
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}

	t := table.NewTable(cols)
	for _, rec := range records {
		vals := make([]table.Value, len(cols))
		for i, c := range cols {
			vals[i] = jsonValue(rec[c])
		}
		t.AddRow(vals)
	}
	return t
}

func jsonValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case float64:
		// encoding/json decodes every number as float64; keep whole
		// numbers integral.
		if val == float64(int64(val)) {
			return table.IntVal(int64(val))
		}
		return table.FloatVal(val)
	case string:
		return table.StrVal(val)
	case bool:
		return table.BoolVal(val)
	case []any:
		list := make([]table.Value, len(val))
		for i, e := range val {
			list[i] = jsonValue(e)
		}
		return table.ListVal(list)
	default:
		b, _ := json.Marshal(val)
		return table.StrVal(string(b))
	}
}

func loadAvro(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	ocf, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read avro container from %s: %w", path, err)
	}

	// Column order follows the record schema.
	var schema struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(ocf.Codec().Schema()), &schema); err != nil {
		return nil, fmt.Errorf("cannot parse avro schema of %s: %w", path, err)
	}
	cols := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		cols[i] = field.Name
	}

	t := table.NewTable(cols)
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("cannot read avro record from %s: %w", path, err)
		}
		rec, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected avro record type %T", path, datum)
		}
		vals := make([]table.Value, len(cols))
		for i, c := range cols {
			vals[i] = avroValue(rec[c])
		}
		t.AddRow(vals)
	}
	if err := ocf.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return t, nil
}

func avroValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case int32:
		return table.IntVal(int64(val))
	case int64:
		return table.IntVal(val)
	case float32:
		return table.FloatVal(float64(val))
	case float64:
		return table.FloatVal(val)
	case string:
		return table.StrVal(val)
	case bool:
		return table.BoolVal(val)
	case []byte:
		return table.StrVal(string(val))
	case []any:
		list := make([]table.Value, len(val))
		for i, e := range val {
			list[i] = avroValue(e)
		}
		return table.ListVal(list)
	case map[string]any:
		// Union values decode as a single {"type": value} entry.
		for _, inner := range val {
			return avroValue(inner)
		}
		return table.Null()
	default:
		return table.StrVal(fmt.Sprintf("%v", val))
	}
}

func loadParquet(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	pq, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("cannot open parquet file %s: %w", path, err)
	}

	fields := pq.Schema().Fields()
	cols := make([]string, len(fields))
	for i, field := range fields {
		cols[i] = field.Name()
	}

	t := table.NewTable(cols)
	r := parquet.NewReader(pq)
	defer r.Close()
	for {
		rec := map[string]any{}
		if err := r.Read(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("cannot read parquet row from %s: %w", path, err)
		}
		vals := make([]table.Value, len(cols))
		for i, c := range cols {
			vals[i] = parquetValue(rec[c])
		}
		t.AddRow(vals)
	}
	return t, nil
}

func parquetValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case int:
		return table.IntVal(int64(val))
	case int32:
		return table.IntVal(int64(val))
	case int64:
		return table.IntVal(val)
	case float32:
		return table.FloatVal(float64(val))
	case float64:
		return table.FloatVal(val)
	case string:
		return table.StrVal(val)
	case bool:
		return table.BoolVal(val)
	case []byte:
		return table.StrVal(string(val))
	default:
		return table.StrVal(fmt.Sprintf("%v", val))
	}
}
