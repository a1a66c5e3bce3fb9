package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/lexer"
)

// Parser converts a token stream into a pipeline AST.
type Parser struct {
	tokens []lexer.Token
	pos    int
}

// Alias command names map onto their canonical form before dispatch.
var aliases = map[string]string{
	"where":      "filter",
	"fields":     "select",
	"table":      "select",
	"project":    "select",
	"limit":      "head",
	"calculate":  "eval",
	"compute":    "eval",
	"eventstats": "stats",
	"distinct":   "dedup",
	"unique":     "dedup",
	"fillna":     "fillnull",
	"fill":       "fillnull",
	"dropna":     "dropnull",
	"expand":     "mvexpand",
	"explode":    "mvexpand",
	"regex":      "rex",
	"extract":    "rex",
	"rand":       "sample",
	"pivot":      "transpose",
	"union":      "append",
	"bin":        "bucket",
}

// Parse parses a full pipeline string into an AST.
func Parse(input string) (*ast.Pipeline, error) {
	tokens, err := lexer.Lex(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens, pos: 0}
	pipeline, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != lexer.TokenEOF {
		return nil, exprErr(p.peek(), "unexpected token %s (%q) after pipeline", p.peek().Type, p.peek().Val)
	}
	return pipeline, nil
}

func (p *Parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Type: lexer.TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// parsePipeline reads a source stage plus pipe-separated command stages.
// It stops at EOF or ']' so sub-searches can share it.
func (p *Parser) parsePipeline() (*ast.Pipeline, error) {
	source, err := p.parseSourceStage()
	if err != nil {
		return nil, err
	}
	stages := []ast.Stage{source}

	idx := 0
	for p.peek().Type == lexer.TokenPipe {
		p.advance() // consume |
		idx++
		stage, err := p.parseStage(idx)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	return &ast.Pipeline{Stages: stages}, nil
}

// parseSourceStage reads the leading segment: cache=name, search
// index=name [k=v ...], or a bare identifier resolved as-is.
func (p *Parser) parseSourceStage() (ast.Stage, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent && tok.Type != lexer.TokenString {
		return nil, exprErr(tok, "expected source (cache=name, search index=..., or a table name), got %s (%q)", tok.Type, tok.Val)
	}

	if tok.Type == lexer.TokenIdent && strings.ToLower(tok.Val) == "cache" && p.peekAt(1).Type == lexer.TokenEquals {
		p.advance() // cache
		p.advance() // =
		name := p.advance()
		if name.Type != lexer.TokenIdent && name.Type != lexer.TokenString {
			return nil, &ArgumentError{Command: "cache", Stage: 0, Pos: tok.Pos, Msg: fmt.Sprintf("expected table name after cache=, got %s (%q)", name.Type, name.Val)}
		}
		if err := p.endOfStage("cache", 0, tok.Pos); err != nil {
			return nil, err
		}
		return &ast.CacheStage{Name: name.Val, Pos: tok.Pos}, nil
	}

	if tok.Type == lexer.TokenIdent && strings.ToLower(tok.Val) == "search" {
		p.advance() // search
		params := map[string]string{}
		for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
			key := strings.ToLower(p.advance().Val)
			p.advance() // =
			val := p.advance()
			switch val.Type {
			case lexer.TokenIdent, lexer.TokenString, lexer.TokenInt, lexer.TokenFloat:
				params[key] = val.Val
			default:
				return nil, &ArgumentError{Command: "search", Stage: 0, Pos: tok.Pos, Msg: fmt.Sprintf("expected value after %s=, got %s (%q)", key, val.Type, val.Val)}
			}
		}
		index, ok := params["index"]
		if !ok {
			return nil, &ArgumentError{Command: "search", Stage: 0, Pos: tok.Pos, Msg: "index= is required"}
		}
		delete(params, "index")
		if err := p.endOfStage("search", 0, tok.Pos); err != nil {
			return nil, err
		}
		return &ast.SearchStage{Index: index, Params: params, Pos: tok.Pos}, nil
	}

	// Bare source name (possibly dotted, like users.csv)
	p.advance()
	if err := p.endOfStage("source", 0, tok.Pos); err != nil {
		return nil, err
	}
	return &ast.SourceStage{Name: tok.Val, Pos: tok.Pos}, nil
}

// parseStage reads one pipe command. Unknown names fail with
// UnknownCommandError; bad arguments with ArgumentError. Expression
// errors pass through unchanged.
func (p *Parser) parseStage(idx int) (ast.Stage, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent {
		return nil, exprErr(tok, "expected command name, got %s (%q)", tok.Type, tok.Val)
	}

	name := strings.ToLower(tok.Val)
	canonical := name
	if c, ok := aliases[name]; ok {
		canonical = c
	}

	var stage ast.Stage
	var err error
	switch canonical {
	case "filter":
		stage, err = p.parseFilter(tok.Pos)
	case "head":
		stage, err = p.parseHead(tok.Pos)
	case "tail":
		stage, err = p.parseTail(tok.Pos)
	case "sample":
		stage, err = p.parseSample(tok.Pos)
	case "dedup":
		stage, err = p.parseDedup(tok.Pos)
	case "dropnull":
		stage, err = p.parseDropnull(tok.Pos)
	case "select":
		stage, err = p.parseSelect(tok.Pos)
	case "rename":
		stage, err = p.parseRename(tok.Pos)
	case "eval":
		stage, err = p.parseEval(tok.Pos)
	case "stats":
		stage, err = p.parseStats(tok.Pos)
	case "top":
		stage, err = p.parseTop(tok.Pos, false)
	case "rare":
		stage, err = p.parseTop(tok.Pos, true)
	case "sort":
		stage, err = p.parseSort(tok.Pos)
	case "reverse":
		p.advance()
		stage = &ast.ReverseStage{Pos: tok.Pos}
	case "transpose":
		stage, err = p.parseTranspose(tok.Pos)
	case "fillnull":
		stage, err = p.parseFillnull(tok.Pos)
	case "replace":
		stage, err = p.parseReplace(tok.Pos)
	case "mvexpand":
		stage, err = p.parseMvexpand(tok.Pos)
	case "rex":
		stage, err = p.parseRex(tok.Pos)
	case "join":
		stage, err = p.parseJoin(tok.Pos)
	case "lookup":
		stage, err = p.parseLookup(tok.Pos)
	case "append":
		stage, err = p.parseAppend(tok.Pos)
	case "bucket":
		stage, err = p.parseBucket(tok.Pos)
	case "cache", "search":
		return nil, &ArgumentError{Command: canonical, Stage: idx, Pos: tok.Pos, Msg: "must be the first stage of a pipeline"}
	default:
		return nil, &UnknownCommandError{Name: tok.Val, Stage: idx, Pos: tok.Pos}
	}
	if err != nil {
		return nil, p.stageErr(canonical, idx, tok.Pos, err)
	}
	if err := p.endOfStage(canonical, idx, tok.Pos); err != nil {
		return nil, err
	}
	return stage, nil
}

// stageErr types a command-argument failure as ArgumentError unless the
// error is already one of the parser's typed errors.
func (p *Parser) stageErr(command string, idx, pos int, err error) error {
	var perr *ParseError
	var aerr *ArgumentError
	var uerr *UnknownCommandError
	if errors.As(err, &perr) || errors.As(err, &aerr) || errors.As(err, &uerr) {
		return err
	}
	return &ArgumentError{Command: command, Stage: idx, Pos: pos, Msg: err.Error()}
}

// endOfStage verifies the segment is fully consumed.
func (p *Parser) endOfStage(command string, idx, pos int) error {
	switch p.peek().Type {
	case lexer.TokenPipe, lexer.TokenRBracket, lexer.TokenEOF:
		return nil
	}
	return &ArgumentError{Command: command, Stage: idx, Pos: pos,
		Msg: fmt.Sprintf("unexpected token %s (%q) at position %d", p.peek().Type, p.peek().Val, p.peek().Pos)}
}

func (p *Parser) peekAt(offset int) lexer.Token {
	if p.pos+offset >= len(p.tokens) {
		return lexer.Token{Type: lexer.TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) atStageEnd() bool {
	switch p.peek().Type {
	case lexer.TokenPipe, lexer.TokenRBracket, lexer.TokenEOF:
		return true
	}
	return false
}

// --- Per-command grammars ---

func (p *Parser) parseFilter(pos int) (ast.Stage, error) {
	p.advance() // consume command
	pred, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.FilterStage{Pred: pred, Pos: pos}, nil
}

func (p *Parser) parseHead(pos int) (ast.Stage, error) {
	p.advance()
	n, err := p.parseOptionalCount()
	if err != nil {
		return nil, err
	}
	return &ast.HeadStage{N: n, Pos: pos}, nil
}

func (p *Parser) parseTail(pos int) (ast.Stage, error) {
	p.advance()
	n, err := p.parseOptionalCount()
	if err != nil {
		return nil, err
	}
	return &ast.TailStage{N: n, Pos: pos}, nil
}

func (p *Parser) parseSample(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.SampleStage{N: 10, Pos: pos}
	if p.peek().Type == lexer.TokenInt {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("count must be non-negative, got %d", n)
		}
		stage.N = n
	}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "ratio":
			f, err := p.parseNumber()
			if err != nil {
				return nil, fmt.Errorf("ratio: %w", err)
			}
			if f <= 0 || f > 1 {
				return nil, fmt.Errorf("ratio must be in (0, 1], got %g", f)
			}
			stage.Ratio = f
		case "seed":
			n, err := p.parseInt()
			if err != nil {
				return nil, fmt.Errorf("seed: %w", err)
			}
			stage.Seed = int64(n)
			stage.SeedSet = true
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return stage, nil
}

func (p *Parser) parseDedup(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.DedupStage{Pos: pos}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	stage.Fields = fields
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "keep":
			val := p.advance()
			switch strings.ToLower(val.Val) {
			case "first":
				stage.KeepLast = false
			case "last":
				stage.KeepLast = true
			default:
				return nil, fmt.Errorf("keep must be first or last, got %q", val.Val)
			}
		case "consecutive":
			b, err := p.parseBool()
			if err != nil {
				return nil, fmt.Errorf("consecutive: %w", err)
			}
			stage.Consecutive = b
		case "sortby":
			key, err := p.parseSortKey()
			if err != nil {
				return nil, fmt.Errorf("sortby: %w", err)
			}
			stage.SortBy = []ast.SortKey{key}
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return stage, nil
}

func (p *Parser) parseDropnull(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.DropnullStage{Pos: pos}
	if p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type != lexer.TokenEquals {
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		stage.Fields = fields
	}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		if key != "how" {
			return nil, fmt.Errorf("unknown option %q", key)
		}
		val := p.advance()
		switch strings.ToLower(val.Val) {
		case "any":
			stage.All = false
		case "all":
			stage.All = true
		default:
			return nil, fmt.Errorf("how must be any or all, got %q", val.Val)
		}
	}
	return stage, nil
}

func (p *Parser) parseSelect(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.SelectStage{Pos: pos}
	first := true
	for {
		exclude := false
		if p.peek().Type == lexer.TokenMinus {
			p.advance()
			exclude = true
		}
		tok := p.advance()
		if tok.Type != lexer.TokenIdent {
			return nil, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
		}
		if first {
			stage.Exclude = exclude
			first = false
		} else if exclude != stage.Exclude {
			return nil, fmt.Errorf("cannot mix included and excluded fields")
		}
		stage.Fields = append(stage.Fields, tok.Val)
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	return stage, nil
}

func (p *Parser) parseRename(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.RenameStage{Pos: pos}
	for {
		oldTok := p.advance()
		if oldTok.Type != lexer.TokenIdent {
			return nil, fmt.Errorf("expected field name, got %s (%q)", oldTok.Type, oldTok.Val)
		}
		sep := p.advance()
		if sep.Type != lexer.TokenAs && sep.Type != lexer.TokenEquals {
			return nil, fmt.Errorf("expected 'as' or '=' after %q, got %s (%q)", oldTok.Val, sep.Type, sep.Val)
		}
		newTok := p.advance()
		if newTok.Type != lexer.TokenIdent {
			return nil, fmt.Errorf("expected new field name, got %s (%q)", newTok.Type, newTok.Val)
		}
		stage.Pairs = append(stage.Pairs, ast.RenamePair{Old: oldTok.Val, New: newTok.Val})
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	return stage, nil
}

func (p *Parser) parseEval(pos int) (ast.Stage, error) {
	p.advance()
	var assignments []ast.Assignment
	for {
		fieldTok := p.advance()
		if fieldTok.Type != lexer.TokenIdent {
			return nil, fmt.Errorf("expected field name in assignment, got %s (%q)", fieldTok.Type, fieldTok.Val)
		}
		if eq := p.advance(); eq.Type != lexer.TokenEquals {
			return nil, fmt.Errorf("expected '=' after %q, got %s (%q)", fieldTok.Val, eq.Type, eq.Val)
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, ast.Assignment{Field: fieldTok.Val, Expr: expr})
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	return &ast.EvalStage{Assignments: assignments, Pos: pos}, nil
}

func (p *Parser) parseStats(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.StatsStage{Pos: pos}
	for {
		spec, err := p.parseAggSpec()
		if err != nil {
			return nil, err
		}
		stage.Aggs = append(stage.Aggs, spec)
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	if p.peek().Type == lexer.TokenBy {
		p.advance()
		by, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		stage.By = by
	}
	return stage, nil
}

// parseAggSpec reads func[(field)] [as alias].
func (p *Parser) parseAggSpec() (ast.AggSpec, error) {
	fnTok := p.advance()
	if fnTok.Type != lexer.TokenIdent {
		return ast.AggSpec{}, fmt.Errorf("expected aggregation function, got %s (%q)", fnTok.Type, fnTok.Val)
	}
	spec := ast.AggSpec{Func: strings.ToLower(fnTok.Val)}
	if p.peek().Type == lexer.TokenLParen {
		p.advance()
		if p.peek().Type == lexer.TokenIdent {
			spec.Field = p.advance().Val
		}
		if rp := p.advance(); rp.Type != lexer.TokenRParen {
			return ast.AggSpec{}, fmt.Errorf("expected ')' after %s(, got %s (%q)", spec.Func, rp.Type, rp.Val)
		}
	}
	if p.peek().Type == lexer.TokenAs {
		p.advance()
		alias := p.advance()
		if alias.Type != lexer.TokenIdent {
			return ast.AggSpec{}, fmt.Errorf("expected alias after 'as', got %s (%q)", alias.Type, alias.Val)
		}
		spec.As = alias.Val
	}
	return spec, nil
}

func (p *Parser) parseTop(pos int, rare bool) (ast.Stage, error) {
	p.advance()
	stage := &ast.TopStage{N: 10, ShowCount: true, Rare: rare, Pos: pos}
	if p.peek().Type == lexer.TokenInt {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("count must be non-negative, got %d", n)
		}
		stage.N = n
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	stage.Fields = fields
	if p.peek().Type == lexer.TokenBy {
		p.advance()
		by, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		stage.By = by
	}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "limit":
			n, err := p.parseInt()
			if err != nil {
				return nil, fmt.Errorf("limit: %w", err)
			}
			stage.N = n
		case "showcount":
			b, err := p.parseBool()
			if err != nil {
				return nil, fmt.Errorf("showcount: %w", err)
			}
			stage.ShowCount = b
		case "showperc":
			b, err := p.parseBool()
			if err != nil {
				return nil, fmt.Errorf("showperc: %w", err)
			}
			stage.ShowPerc = b
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return stage, nil
}

func (p *Parser) parseSort(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.SortStage{Pos: pos}
	for {
		key, err := p.parseSortKey()
		if err != nil {
			return nil, err
		}
		stage.Keys = append(stage.Keys, key)
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	return stage, nil
}

func (p *Parser) parseTranspose(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.TransposeStage{IncludeHeader: true, Pos: pos}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "header_field":
			tok := p.advance()
			if tok.Type != lexer.TokenIdent {
				return nil, fmt.Errorf("expected field name for header_field, got %s (%q)", tok.Type, tok.Val)
			}
			stage.HeaderField = tok.Val
		case "include_header":
			b, err := p.parseBool()
			if err != nil {
				return nil, fmt.Errorf("include_header: %w", err)
			}
			stage.IncludeHeader = b
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return stage, nil
}

func (p *Parser) parseFillnull(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.FillnullStage{Pos: pos}
	for !p.atStageEnd() {
		if p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
			key := strings.ToLower(p.advance().Val)
			p.advance() // =
			switch key {
			case "value":
				lit, err := p.parseLiteral()
				if err != nil {
					return nil, fmt.Errorf("value: %w", err)
				}
				stage.Value = lit
			case "method":
				val := p.advance()
				m := strings.ToLower(val.Val)
				if m != "ffill" && m != "bfill" {
					return nil, fmt.Errorf("method must be ffill or bfill, got %q", val.Val)
				}
				stage.Method = m
			default:
				return nil, fmt.Errorf("unknown option %q", key)
			}
			continue
		}
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		stage.Fields = append(stage.Fields, fields...)
	}
	return stage, nil
}

func (p *Parser) parseReplace(pos int) (ast.Stage, error) {
	p.advance()
	fieldTok := p.advance()
	if fieldTok.Type != lexer.TokenIdent {
		return nil, fmt.Errorf("expected field name, got %s (%q)", fieldTok.Type, fieldTok.Val)
	}
	old, err := p.parseLiteral()
	if err != nil {
		return nil, fmt.Errorf("old value: %w", err)
	}
	if w := p.advance(); w.Type != lexer.TokenWith {
		return nil, fmt.Errorf("expected 'with', got %s (%q)", w.Type, w.Val)
	}
	nu, err := p.parseLiteral()
	if err != nil {
		return nil, fmt.Errorf("new value: %w", err)
	}
	stage := &ast.ReplaceStage{Field: fieldTok.Val, Old: old, New: nu, Pos: pos}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		if key != "regex" {
			return nil, fmt.Errorf("unknown option %q", key)
		}
		b, err := p.parseBool()
		if err != nil {
			return nil, fmt.Errorf("regex: %w", err)
		}
		stage.Regex = b
	}
	return stage, nil
}

func (p *Parser) parseMvexpand(pos int) (ast.Stage, error) {
	p.advance()
	fieldTok := p.advance()
	if fieldTok.Type != lexer.TokenIdent {
		return nil, fmt.Errorf("expected field name, got %s (%q)", fieldTok.Type, fieldTok.Val)
	}
	stage := &ast.MvexpandStage{Field: fieldTok.Val, Delim: ",", Pos: pos}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "delim":
			val := p.advance()
			if val.Type != lexer.TokenString {
				return nil, fmt.Errorf("delim must be a string, got %s (%q)", val.Type, val.Val)
			}
			stage.Delim = val.Val
		case "limit":
			n, err := p.parseInt()
			if err != nil {
				return nil, fmt.Errorf("limit: %w", err)
			}
			stage.Limit = n
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return stage, nil
}

func (p *Parser) parseRex(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.RexStage{MaxMatch: 1, Pos: pos}
	for !p.atStageEnd() {
		if p.peek().Type == lexer.TokenString {
			stage.Pattern = p.advance().Val
			continue
		}
		if p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
			key := strings.ToLower(p.advance().Val)
			p.advance() // =
			switch key {
			case "field":
				tok := p.advance()
				if tok.Type != lexer.TokenIdent && tok.Type != lexer.TokenString {
					return nil, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
				}
				stage.Field = tok.Val
			case "mode":
				val := p.advance()
				switch strings.ToLower(val.Val) {
				case "extract":
					stage.Sed = false
				case "sed":
					stage.Sed = true
				default:
					return nil, fmt.Errorf("mode must be extract or sed, got %q", val.Val)
				}
			case "max_match":
				n, err := p.parseInt()
				if err != nil {
					return nil, fmt.Errorf("max_match: %w", err)
				}
				stage.MaxMatch = n
			default:
				return nil, fmt.Errorf("unknown option %q", key)
			}
			continue
		}
		return nil, fmt.Errorf("unexpected token %s (%q)", p.peek().Type, p.peek().Val)
	}
	if stage.Field == "" {
		return nil, fmt.Errorf("field= is required")
	}
	if stage.Pattern == "" {
		return nil, fmt.Errorf("a quoted pattern is required")
	}
	return stage, nil
}

func (p *Parser) parseJoin(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.JoinStage{Kind: "left", Pos: pos}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one key field is required")
	}
	stage.Fields = fields
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		if key != "type" {
			return nil, fmt.Errorf("unknown option %q", key)
		}
		val := p.advance()
		kind := strings.ToLower(val.Val)
		if kind != "left" && kind != "inner" {
			return nil, fmt.Errorf("type must be left or inner, got %q", val.Val)
		}
		stage.Kind = kind
	}
	sub, err := p.parseSubSearch()
	if err != nil {
		return nil, err
	}
	stage.Sub = sub
	return stage, nil
}

func (p *Parser) parseLookup(pos int) (ast.Stage, error) {
	p.advance()
	stage := &ast.LookupStage{Pos: pos}
	for p.peek().Type == lexer.TokenIdent && p.peekAt(1).Type == lexer.TokenEquals {
		key := strings.ToLower(p.advance().Val)
		p.advance() // =
		switch key {
		case "table":
			tok := p.advance()
			if tok.Type != lexer.TokenIdent && tok.Type != lexer.TokenString {
				return nil, fmt.Errorf("expected table name, got %s (%q)", tok.Type, tok.Val)
			}
			stage.Table = tok.Val
		case "field":
			tok := p.advance()
			if tok.Type != lexer.TokenIdent {
				return nil, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
			}
			stage.Field = tok.Val
		case "lookup_field":
			tok := p.advance()
			if tok.Type != lexer.TokenIdent {
				return nil, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
			}
			stage.LookupField = tok.Val
		case "output":
			out, err := p.parseFieldList()
			if err != nil {
				return nil, fmt.Errorf("output: %w", err)
			}
			stage.Output = out
		case "default":
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, fmt.Errorf("default: %w", err)
			}
			stage.Default = lit
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	if stage.Table == "" {
		return nil, fmt.Errorf("table= is required")
	}
	if stage.Field == "" {
		return nil, fmt.Errorf("field= is required")
	}
	if stage.LookupField == "" {
		stage.LookupField = stage.Field
	}
	return stage, nil
}

func (p *Parser) parseAppend(pos int) (ast.Stage, error) {
	p.advance()
	sub, err := p.parseSubSearch()
	if err != nil {
		return nil, err
	}
	return &ast.AppendStage{Sub: sub, Pos: pos}, nil
}

func (p *Parser) parseBucket(pos int) (ast.Stage, error) {
	p.advance()
	fieldTok := p.advance()
	if fieldTok.Type != lexer.TokenIdent {
		return nil, fmt.Errorf("expected field name, got %s (%q)", fieldTok.Type, fieldTok.Val)
	}
	stage := &ast.BucketStage{Field: fieldTok.Val, Pos: pos}
	if p.peek().Type != lexer.TokenIdent || strings.ToLower(p.peek().Val) != "span" || p.peekAt(1).Type != lexer.TokenEquals {
		return nil, fmt.Errorf("span= is required")
	}
	p.advance() // span
	p.advance() // =
	f, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("span: %w", err)
	}
	if f <= 0 {
		return nil, fmt.Errorf("span must be positive, got %g", f)
	}
	stage.Span = f
	return stage, nil
}

// parseSubSearch reads a bracketed nested pipeline.
func (p *Parser) parseSubSearch() (*ast.Pipeline, error) {
	if p.peek().Type != lexer.TokenLBracket {
		return nil, fmt.Errorf("expected '[' sub-search, got %s (%q)", p.peek().Type, p.peek().Val)
	}
	p.advance() // [
	sub, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != lexer.TokenRBracket {
		return nil, exprErr(p.peek(), "expected ']' to close sub-search, got %s (%q)", p.peek().Type, p.peek().Val)
	}
	p.advance() // ]
	return sub, nil
}

// --- Shared argument helpers ---

func (p *Parser) parseInt() (int, error) {
	tok := p.advance()
	if tok.Type != lexer.TokenInt {
		return 0, fmt.Errorf("expected integer, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	n, err := strconv.Atoi(tok.Val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", tok.Val, err)
	}
	return n, nil
}

func (p *Parser) parseNumber() (float64, error) {
	tok := p.advance()
	if tok.Type != lexer.TokenInt && tok.Type != lexer.TokenFloat {
		return 0, fmt.Errorf("expected number, got %s (%q) at position %d", tok.Type, tok.Val, tok.Pos)
	}
	f, err := strconv.ParseFloat(tok.Val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", tok.Val, err)
	}
	return f, nil
}

func (p *Parser) parseBool() (bool, error) {
	tok := p.advance()
	switch tok.Type {
	case lexer.TokenTrue:
		return true, nil
	case lexer.TokenFalse:
		return false, nil
	case lexer.TokenIdent:
		switch strings.ToLower(tok.Val) {
		case "true", "t", "yes":
			return true, nil
		case "false", "f", "no":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected true or false, got %s (%q)", tok.Type, tok.Val)
}

// parseOptionalCount reads the optional row count of head/tail,
// defaulting to 10.
func (p *Parser) parseOptionalCount() (int, error) {
	if p.atStageEnd() {
		return 10, nil
	}
	if p.peek().Type == lexer.TokenMinus && p.peekAt(1).Type == lexer.TokenInt {
		p.advance()
		n, _ := p.parseInt()
		return 0, fmt.Errorf("count must be non-negative, got -%d", n)
	}
	n, err := p.parseInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("count must be non-negative, got %d", n)
	}
	return n, nil
}

// parseFieldList reads comma-separated field names.
func (p *Parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		tok := p.peek()
		if tok.Type != lexer.TokenIdent {
			if len(fields) == 0 {
				return nil, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
			}
			return nil, fmt.Errorf("expected field name after ',', got %s (%q)", tok.Type, tok.Val)
		}
		p.advance()
		fields = append(fields, tok.Val)
		if p.peek().Type != lexer.TokenComma {
			break
		}
		p.advance()
	}
	return fields, nil
}

// parseSortKey reads [-]field.
func (p *Parser) parseSortKey() (ast.SortKey, error) {
	desc := false
	if p.peek().Type == lexer.TokenMinus {
		p.advance()
		desc = true
	}
	tok := p.advance()
	if tok.Type != lexer.TokenIdent {
		return ast.SortKey{}, fmt.Errorf("expected field name, got %s (%q)", tok.Type, tok.Val)
	}
	return ast.SortKey{Field: tok.Val, Desc: desc}, nil
}

// parseLiteral reads a literal token into a LiteralExpr.
func (p *Parser) parseLiteral() (ast.Expr, error) {
	neg := false
	if p.peek().Type == lexer.TokenMinus {
		p.advance()
		neg = true
	}
	tok := p.advance()
	if neg {
		switch tok.Type {
		case lexer.TokenInt:
			v, err := strconv.ParseInt(tok.Val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", tok.Val)
			}
			return &ast.LiteralExpr{Kind: "int", Int: -v}, nil
		case lexer.TokenFloat:
			v, err := strconv.ParseFloat(tok.Val, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid float %q", tok.Val)
			}
			return &ast.LiteralExpr{Kind: "float", Float: -v}, nil
		}
		return nil, fmt.Errorf("expected a number after '-', got %s (%q)", tok.Type, tok.Val)
	}
	switch tok.Type {
	case lexer.TokenInt:
		v, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", tok.Val)
		}
		return &ast.LiteralExpr{Kind: "int", Int: v}, nil
	case lexer.TokenFloat:
		v, err := strconv.ParseFloat(tok.Val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", tok.Val)
		}
		return &ast.LiteralExpr{Kind: "float", Float: v}, nil
	case lexer.TokenString:
		return &ast.LiteralExpr{Kind: "string", Str: tok.Val}, nil
	case lexer.TokenTrue:
		return &ast.LiteralExpr{Kind: "bool", Bool: true}, nil
	case lexer.TokenFalse:
		return &ast.LiteralExpr{Kind: "bool", Bool: false}, nil
	case lexer.TokenNull:
		return &ast.LiteralExpr{Kind: "null"}, nil
	}
	return nil, fmt.Errorf("expected a literal value, got %s (%q)", tok.Type, tok.Val)
}
