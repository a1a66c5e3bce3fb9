package engine

import (
	"github.com/pipelang/pipeq/optimizer"
	"github.com/pipelang/pipeq/parser"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/planner"
	"github.com/pipelang/pipeq/registry"
	"github.com/pipelang/pipeq/table"
)

// Compile parses, plans and optimizes a pipeline.
func Compile(text string) (*plan.Plan, error) {
	pipe, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	p, err := planner.Plan(pipe)
	if err != nil {
		return nil, err
	}
	return optimizer.New().Optimize(p), nil
}

// Run compiles and executes a pipeline against the resolver's tables.
// An error from any phase surfaces unchanged; there is no partial
// result.
func Run(text string, r registry.Resolver) (*table.Table, error) {
	p, err := Compile(text)
	if err != nil {
		return nil, err
	}
	return New(r).Execute(p)
}
