package parser

import (
	"errors"
	"testing"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/lexer"
)

func TestParseSimple(t *testing.T) {
	q, err := Parse("sales | head 10")
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(q.Stages))
	}
	src, ok := q.Stages[0].(*ast.SourceStage)
	if !ok {
		t.Fatalf("expected SourceStage, got %T", q.Stages[0])
	}
	if src.Name != "sales" {
		t.Errorf("expected 'sales', got %q", src.Name)
	}
	head, ok := q.Stages[1].(*ast.HeadStage)
	if !ok {
		t.Fatalf("expected HeadStage, got %T", q.Stages[1])
	}
	if head.N != 10 {
		t.Errorf("expected 10, got %d", head.N)
	}
}

func TestParsePipeline(t *testing.T) {
	q, err := Parse(`sales | filter amount > 20 | select region, amount | head 5`)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Stages) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(q.Stages))
	}
	if _, ok := q.Stages[1].(*ast.FilterStage); !ok {
		t.Errorf("stage[1]: expected FilterStage, got %T", q.Stages[1])
	}
	if _, ok := q.Stages[2].(*ast.SelectStage); !ok {
		t.Errorf("stage[2]: expected SelectStage, got %T", q.Stages[2])
	}
	if _, ok := q.Stages[3].(*ast.HeadStage); !ok {
		t.Errorf("stage[3]: expected HeadStage, got %T", q.Stages[3])
	}
}

func TestParseCacheSource(t *testing.T) {
	q, err := Parse("cache=sales | head 3")
	if err != nil {
		t.Fatal(err)
	}
	c, ok := q.Stages[0].(*ast.CacheStage)
	if !ok {
		t.Fatalf("expected CacheStage, got %T", q.Stages[0])
	}
	if c.Name != "sales" {
		t.Errorf("expected 'sales', got %q", c.Name)
	}
}

func TestParseSearchSource(t *testing.T) {
	q, err := Parse(`search index=web status=500 earliest="-5m" | head 3`)
	if err != nil {
		t.Fatal(err)
	}
	s, ok := q.Stages[0].(*ast.SearchStage)
	if !ok {
		t.Fatalf("expected SearchStage, got %T", q.Stages[0])
	}
	if s.Index != "web" {
		t.Errorf("expected index 'web', got %q", s.Index)
	}
	if s.Params["status"] != "500" {
		t.Errorf("expected status param '500', got %q", s.Params["status"])
	}
	if s.Params["earliest"] != "-5m" {
		t.Errorf("expected earliest param '-5m', got %q", s.Params["earliest"])
	}
}

func TestParseSearchMissingIndex(t *testing.T) {
	_, err := Parse("search status=500 | head 3")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
	if aerr.Command != "search" {
		t.Errorf("expected command 'search', got %q", aerr.Command)
	}
}

func TestParseDottedSource(t *testing.T) {
	q, err := Parse("users.csv | head 5")
	if err != nil {
		t.Fatal(err)
	}
	src := q.Stages[0].(*ast.SourceStage)
	if src.Name != "users.csv" {
		t.Errorf("expected 'users.csv', got %q", src.Name)
	}
}

func TestParseCacheMidPipeline(t *testing.T) {
	_, err := Parse("sales | cache=other")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
	if aerr.Stage != 1 {
		t.Errorf("expected stage 1, got %d", aerr.Stage)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse("sales | head 5 | frobnicate x")
	var uerr *UnknownCommandError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownCommandError, got %T: %v", err, err)
	}
	if uerr.Name != "frobnicate" {
		t.Errorf("expected 'frobnicate', got %q", uerr.Name)
	}
	if uerr.Stage != 2 {
		t.Errorf("expected stage 2, got %d", uerr.Stage)
	}

	_, err = Parse("cache=x | unknown_cmd foo")
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownCommandError, got %T: %v", err, err)
	}
	if uerr.Stage != 1 {
		t.Errorf("expected stage 1, got %d", uerr.Stage)
	}
}

func TestParseHeadDefault(t *testing.T) {
	q, err := Parse("sales | head")
	if err != nil {
		t.Fatal(err)
	}
	head := q.Stages[1].(*ast.HeadStage)
	if head.N != 10 {
		t.Errorf("expected default 10, got %d", head.N)
	}
}

func TestParseHeadNegative(t *testing.T) {
	_, err := Parse("sales | head -5")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
	if aerr.Command != "head" {
		t.Errorf("expected command 'head', got %q", aerr.Command)
	}
}

func TestParseStrayTokens(t *testing.T) {
	_, err := Parse("sales | head 5 extra")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
	if aerr.Command != "head" {
		t.Errorf("expected command 'head', got %q", aerr.Command)
	}
}

func TestParseAliases(t *testing.T) {
	q, err := Parse("sales | where amount > 5 | fields region | limit 3")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Stages[1].(*ast.FilterStage); !ok {
		t.Errorf("where: expected FilterStage, got %T", q.Stages[1])
	}
	if _, ok := q.Stages[2].(*ast.SelectStage); !ok {
		t.Errorf("fields: expected SelectStage, got %T", q.Stages[2])
	}
	if _, ok := q.Stages[3].(*ast.HeadStage); !ok {
		t.Errorf("limit: expected HeadStage, got %T", q.Stages[3])
	}
}

func TestParseStats(t *testing.T) {
	q, err := Parse("sales | stats sum(amount) as total, count by region, city")
	if err != nil {
		t.Fatal(err)
	}
	s := q.Stages[1].(*ast.StatsStage)
	if len(s.Aggs) != 2 {
		t.Fatalf("expected 2 aggs, got %d", len(s.Aggs))
	}
	if s.Aggs[0].Func != "sum" || s.Aggs[0].Field != "amount" || s.Aggs[0].As != "total" {
		t.Errorf("agg[0]: got %+v", s.Aggs[0])
	}
	if s.Aggs[1].Func != "count" || s.Aggs[1].Field != "" || s.Aggs[1].As != "" {
		t.Errorf("agg[1]: got %+v", s.Aggs[1])
	}
	if len(s.By) != 2 || s.By[0] != "region" || s.By[1] != "city" {
		t.Errorf("expected by [region city], got %v", s.By)
	}
}

func TestParseStatsEmptyParens(t *testing.T) {
	q, err := Parse("sales | stats count() by region")
	if err != nil {
		t.Fatal(err)
	}
	s := q.Stages[1].(*ast.StatsStage)
	if s.Aggs[0].Func != "count" || s.Aggs[0].Field != "" {
		t.Errorf("got %+v", s.Aggs[0])
	}
}

func TestParseSort(t *testing.T) {
	q, err := Parse("sales | sort -amount, region")
	if err != nil {
		t.Fatal(err)
	}
	s := q.Stages[1].(*ast.SortStage)
	if len(s.Keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(s.Keys))
	}
	if s.Keys[0].Field != "amount" || !s.Keys[0].Desc {
		t.Errorf("key[0]: got %+v", s.Keys[0])
	}
	if s.Keys[1].Field != "region" || s.Keys[1].Desc {
		t.Errorf("key[1]: got %+v", s.Keys[1])
	}
}

func TestParseSelectExclude(t *testing.T) {
	q, err := Parse("sales | select -internal_id, -notes")
	if err != nil {
		t.Fatal(err)
	}
	s := q.Stages[1].(*ast.SelectStage)
	if !s.Exclude {
		t.Error("expected exclude mode")
	}
	if len(s.Fields) != 2 || s.Fields[0] != "internal_id" {
		t.Errorf("got %v", s.Fields)
	}
}

func TestParseSelectMixedSign(t *testing.T) {
	_, err := Parse("sales | select region, -notes")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
}

func TestParseRename(t *testing.T) {
	q, err := Parse("sales | rename amt as amount, qty=quantity")
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.RenameStage)
	if len(r.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(r.Pairs))
	}
	if r.Pairs[0].Old != "amt" || r.Pairs[0].New != "amount" {
		t.Errorf("pair[0]: got %+v", r.Pairs[0])
	}
	if r.Pairs[1].Old != "qty" || r.Pairs[1].New != "quantity" {
		t.Errorf("pair[1]: got %+v", r.Pairs[1])
	}
}

func TestParseEval(t *testing.T) {
	q, err := Parse(`sales | eval total = price * quantity, label = upper(region)`)
	if err != nil {
		t.Fatal(err)
	}
	e := q.Stages[1].(*ast.EvalStage)
	if len(e.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(e.Assignments))
	}
	if e.Assignments[0].Field != "total" {
		t.Errorf("expected 'total', got %q", e.Assignments[0].Field)
	}
	if _, ok := e.Assignments[1].Expr.(*ast.FuncCallExpr); !ok {
		t.Errorf("expected FuncCallExpr, got %T", e.Assignments[1].Expr)
	}
}

func TestParseJoin(t *testing.T) {
	q, err := Parse("sales | join dept type=inner [cache=departments | select dept, name]")
	if err != nil {
		t.Fatal(err)
	}
	j := q.Stages[1].(*ast.JoinStage)
	if len(j.Fields) != 1 || j.Fields[0] != "dept" {
		t.Errorf("expected [dept], got %v", j.Fields)
	}
	if j.Kind != "inner" {
		t.Errorf("expected inner, got %q", j.Kind)
	}
	if j.Sub == nil || len(j.Sub.Stages) != 2 {
		t.Fatalf("expected sub-search with 2 stages, got %+v", j.Sub)
	}
	if _, ok := j.Sub.Stages[0].(*ast.CacheStage); !ok {
		t.Errorf("sub stage[0]: expected CacheStage, got %T", j.Sub.Stages[0])
	}
}

func TestParseJoinDefaultKind(t *testing.T) {
	q, err := Parse("sales | join dept [departments]")
	if err != nil {
		t.Fatal(err)
	}
	j := q.Stages[1].(*ast.JoinStage)
	if j.Kind != "left" {
		t.Errorf("expected left, got %q", j.Kind)
	}
}

func TestParseJoinMissingSub(t *testing.T) {
	_, err := Parse("sales | join dept")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
	if aerr.Command != "join" {
		t.Errorf("expected command 'join', got %q", aerr.Command)
	}
}

func TestParseAppend(t *testing.T) {
	q, err := Parse("sales | append [cache=archive | filter year == 2023]")
	if err != nil {
		t.Fatal(err)
	}
	a := q.Stages[1].(*ast.AppendStage)
	if a.Sub == nil || len(a.Sub.Stages) != 2 {
		t.Fatalf("expected sub-search with 2 stages, got %+v", a.Sub)
	}
}

func TestParseNestedSubSearch(t *testing.T) {
	q, err := Parse("a | join k [b | join j [c]]")
	if err != nil {
		t.Fatal(err)
	}
	outer := q.Stages[1].(*ast.JoinStage)
	inner, ok := outer.Sub.Stages[1].(*ast.JoinStage)
	if !ok {
		t.Fatalf("expected nested JoinStage, got %T", outer.Sub.Stages[1])
	}
	if src := inner.Sub.Stages[0].(*ast.SourceStage); src.Name != "c" {
		t.Errorf("expected source 'c', got %q", src.Name)
	}
}

func TestParseLookup(t *testing.T) {
	q, err := Parse(`sales | lookup table=regions field=region_id lookup_field=id output=name, manager default="unknown"`)
	if err != nil {
		t.Fatal(err)
	}
	l := q.Stages[1].(*ast.LookupStage)
	if l.Table != "regions" || l.Field != "region_id" || l.LookupField != "id" {
		t.Errorf("got %+v", l)
	}
	if len(l.Output) != 2 || l.Output[0] != "name" {
		t.Errorf("expected output [name manager], got %v", l.Output)
	}
	lit, ok := l.Default.(*ast.LiteralExpr)
	if !ok || lit.Str != "unknown" {
		t.Errorf("expected default 'unknown', got %+v", l.Default)
	}
}

func TestParseLookupDefaultsLookupField(t *testing.T) {
	q, err := Parse("sales | lookup table=regions field=region")
	if err != nil {
		t.Fatal(err)
	}
	l := q.Stages[1].(*ast.LookupStage)
	if l.LookupField != "region" {
		t.Errorf("expected lookup_field to default to 'region', got %q", l.LookupField)
	}
}

func TestParseRex(t *testing.T) {
	q, err := Parse(`logs | rex field=message "(?<code>\d+)" max_match=3`)
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.RexStage)
	if r.Field != "message" {
		t.Errorf("expected 'message', got %q", r.Field)
	}
	if r.Pattern != `(?<code>\d+)` {
		t.Errorf("pattern escapes lost: %q", r.Pattern)
	}
	if r.MaxMatch != 3 {
		t.Errorf("expected max_match 3, got %d", r.MaxMatch)
	}
	if r.Sed {
		t.Error("expected extract mode")
	}
}

func TestParseRexSed(t *testing.T) {
	q, err := Parse(`logs | rex field=message mode=sed "s/error/warn/g"`)
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.RexStage)
	if !r.Sed {
		t.Error("expected sed mode")
	}
	if r.Pattern != "s/error/warn/g" {
		t.Errorf("got %q", r.Pattern)
	}
}

func TestParseRexMissingField(t *testing.T) {
	_, err := Parse(`logs | rex "(?<code>\d+)"`)
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
}

func TestParseReplace(t *testing.T) {
	q, err := Parse(`sales | replace status "active" with "enabled"`)
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.ReplaceStage)
	if r.Field != "status" {
		t.Errorf("expected 'status', got %q", r.Field)
	}
	old := r.Old.(*ast.LiteralExpr)
	if old.Str != "active" {
		t.Errorf("expected 'active', got %q", old.Str)
	}
	if r.Regex {
		t.Error("expected literal mode")
	}
}

func TestParseReplaceRegex(t *testing.T) {
	q, err := Parse(`sales | replace code "^E-" with "" regex=true`)
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.ReplaceStage)
	if !r.Regex {
		t.Error("expected regex mode")
	}
}

func TestParseReplaceNegativeLiteral(t *testing.T) {
	q, err := Parse("sales | replace delta -1 with 0")
	if err != nil {
		t.Fatal(err)
	}
	r := q.Stages[1].(*ast.ReplaceStage)
	old := r.Old.(*ast.LiteralExpr)
	if old.Kind != "int" || old.Int != -1 {
		t.Errorf("expected -1, got %+v", old)
	}
}

func TestParseTop(t *testing.T) {
	q, err := Parse("sales | top 3 region by city showperc=true")
	if err != nil {
		t.Fatal(err)
	}
	tp := q.Stages[1].(*ast.TopStage)
	if tp.N != 3 || tp.Rare {
		t.Errorf("got %+v", tp)
	}
	if len(tp.Fields) != 1 || tp.Fields[0] != "region" {
		t.Errorf("expected [region], got %v", tp.Fields)
	}
	if len(tp.By) != 1 || tp.By[0] != "city" {
		t.Errorf("expected by [city], got %v", tp.By)
	}
	if !tp.ShowCount || !tp.ShowPerc {
		t.Errorf("expected showcount and showperc, got %+v", tp)
	}
}

func TestParseRare(t *testing.T) {
	q, err := Parse("sales | rare region")
	if err != nil {
		t.Fatal(err)
	}
	tp := q.Stages[1].(*ast.TopStage)
	if !tp.Rare {
		t.Error("expected rare")
	}
	if tp.N != 10 {
		t.Errorf("expected default 10, got %d", tp.N)
	}
}

func TestParseDedup(t *testing.T) {
	q, err := Parse("sales | dedup region, city keep=last consecutive=true")
	if err != nil {
		t.Fatal(err)
	}
	d := q.Stages[1].(*ast.DedupStage)
	if len(d.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(d.Fields))
	}
	if !d.KeepLast || !d.Consecutive {
		t.Errorf("got %+v", d)
	}
}

func TestParseMvexpand(t *testing.T) {
	q, err := Parse(`sales | mvexpand tags delim=";" limit=5`)
	if err != nil {
		t.Fatal(err)
	}
	m := q.Stages[1].(*ast.MvexpandStage)
	if m.Field != "tags" || m.Delim != ";" || m.Limit != 5 {
		t.Errorf("got %+v", m)
	}
}

func TestParseFillnull(t *testing.T) {
	q, err := Parse("sales | fillnull value=0 amount, quantity")
	if err != nil {
		t.Fatal(err)
	}
	f := q.Stages[1].(*ast.FillnullStage)
	lit := f.Value.(*ast.LiteralExpr)
	if lit.Kind != "int" || lit.Int != 0 {
		t.Errorf("expected 0, got %+v", lit)
	}
	if len(f.Fields) != 2 {
		t.Errorf("expected 2 fields, got %v", f.Fields)
	}
}

func TestParseFillnullMethod(t *testing.T) {
	q, err := Parse("sales | fillnull method=ffill")
	if err != nil {
		t.Fatal(err)
	}
	f := q.Stages[1].(*ast.FillnullStage)
	if f.Method != "ffill" {
		t.Errorf("expected ffill, got %q", f.Method)
	}
}

func TestParseBucket(t *testing.T) {
	q, err := Parse("sales | bucket amount span=100")
	if err != nil {
		t.Fatal(err)
	}
	b := q.Stages[1].(*ast.BucketStage)
	if b.Field != "amount" || b.Span != 100 {
		t.Errorf("got %+v", b)
	}
}

func TestParseBucketMissingSpan(t *testing.T) {
	_, err := Parse("sales | bucket amount")
	var aerr *ArgumentError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ArgumentError, got %T: %v", err, err)
	}
}

func TestParseTranspose(t *testing.T) {
	q, err := Parse("sales | transpose header_field=region include_header=false")
	if err != nil {
		t.Fatal(err)
	}
	tr := q.Stages[1].(*ast.TransposeStage)
	if tr.HeaderField != "region" || tr.IncludeHeader {
		t.Errorf("got %+v", tr)
	}
}

func TestParseLexErrorPassthrough(t *testing.T) {
	_, err := Parse(`sales | filter name == "Ali`)
	var lerr *lexer.LexError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LexError, got %T: %v", err, err)
	}
}

func TestParseFullQuery(t *testing.T) {
	q, err := Parse(`cache=sales | filter region != "EMEA" and amount > 0 ` +
		`| eval total = price * quantity | stats sum(total) as revenue, count by region ` +
		`| sort -revenue | head 3 | select region, revenue`)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Stages) != 7 {
		t.Errorf("expected 7 stages, got %d", len(q.Stages))
	}
}
