package parser

import "fmt"

// ParseError reports a malformed expression.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

// UnknownCommandError reports a stage whose leading identifier is not a
// recognized command.
type UnknownCommandError struct {
	Name  string
	Stage int
	Pos   int
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q (stage %d, position %d)", e.Name, e.Stage, e.Pos)
}

// ArgumentError reports malformed arguments for a known command.
type ArgumentError struct {
	Command string
	Stage   int
	Pos     int
	Msg     string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s (stage %d, position %d)", e.Command, e.Msg, e.Stage, e.Pos)
}
