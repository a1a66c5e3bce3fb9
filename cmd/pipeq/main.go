package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/pipelang/pipeq/engine"
	"github.com/pipelang/pipeq/loader"
	"github.com/pipelang/pipeq/optimizer"
	"github.com/pipelang/pipeq/parser"
	"github.com/pipelang/pipeq/planner"
	"github.com/pipelang/pipeq/registry"
	"github.com/pipelang/pipeq/table"
)

// mountList collects repeated -t name=path flags.
type mountList []string

func (m *mountList) String() string { return strings.Join(*m, ",") }

func (m *mountList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("want name=path, got %q", v)
	}
	*m = append(*m, v)
	return nil
}

func main() {
	var (
		mounts  mountList
		format  = flag.String("f", "table", "output format: table, csv or json")
		verbose = flag.Bool("v", false, "log compilation and execution detail")
	)
	flag.Var(&mounts, "t", "mount a file as a named table (name=path, repeatable)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: pipeq [flags] '<query>'")
		fmt.Fprintln(os.Stderr, "example: pipeq -t sales=sales.csv 'cache=sales | filter amount > 100 | select name amount'")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	query := flag.Arg(0)

	logger := zap.NewNop()
	if *verbose {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	files := loader.NewMounts()
	for _, m := range mounts {
		name, path, _ := strings.Cut(m, "=")
		files.Mount(name, path)
		logger.Debug("mounted table", zap.String("name", name), zap.String("path", path))
	}
	resolver, err := registry.NewCached(files, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	pipe, err := parser.Parse(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		os.Exit(1)
	}
	p, err := planner.Plan(pipe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plan error: %v\n", err)
		os.Exit(1)
	}

	opt := optimizer.New()
	opt.Trace = func(rule string, pass int) {
		logger.Debug("rewrite applied", zap.String("rule", rule), zap.Int("pass", pass))
	}
	p = opt.Optimize(p)
	logger.Debug("query compiled", zap.Duration("took", time.Since(start)))

	start = time.Now()
	result, err := engine.New(resolver).Execute(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("query executed",
		zap.Int("columns", len(result.Columns)),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("took", time.Since(start)))

	if err := render(result, *format); err != nil {
		fmt.Fprintf(os.Stderr, "output error: %v\n", err)
		os.Exit(1)
	}
}

func render(t *table.Table, format string) error {
	switch format {
	case "table":
		renderTable(t)
		return nil
	case "csv":
		return renderCSV(t)
	case "json":
		return renderJSON(t)
	default:
		return fmt.Errorf("unknown format %q (want table, csv or json)", format)
	}
}

func renderTable(t *table.Table) {
	if len(t.Columns) == 0 {
		return
	}
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader(t.Columns)
	w.SetAutoFormatHeaders(false)
	w.SetAutoWrapText(false)
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			cells[i] = row.Values[i].AsString()
		}
		w.Append(cells)
	}
	w.Render()
}

func renderCSV(t *table.Table) error {
	w := csv.NewWriter(os.Stdout)
	if err := w.Write(t.Columns); err != nil {
		return err
	}
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			cells[i] = row.Values[i].AsString()
		}
		if err := w.Write(cells); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// renderJSON prints an array of objects. Keys come out alphabetically,
// matching how the json loader orders columns on the way in.
func renderJSON(t *table.Table) error {
	records := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, col := range t.Columns {
			rec[col] = jsonCell(row.Values[j])
		}
		records[i] = rec
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func jsonCell(v table.Value) any {
	switch v.Type {
	case table.TypeNull:
		return nil
	case table.TypeInt:
		return v.Int
	case table.TypeFloat:
		return v.Float
	case table.TypeString:
		return v.Str
	case table.TypeBool:
		return v.Bool
	case table.TypeList:
		elems := make([]any, len(v.List))
		for i, e := range v.List {
			elems[i] = jsonCell(e)
		}
		return elems
	default:
		return v.AsString()
	}
}
