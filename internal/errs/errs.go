// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package errs holds the failures shared by the template parser, the
// condition language and the pruning engine. Every failure is fatal to the
// pruning call that produced it.
package errs

import (
	"fmt"
	"strings"
)

// Position is a location in a template or condition. Line and Column are
// 1-based; a zero Line means the position is unknown.
type Position struct {
	Line   int
	Column int
	// multiline is true when the source text spans several lines, in which
	// case the line number is reported.
	multiline bool
}

// At returns the position of offset in input.
func At(input string, offset int) Position {
	if offset > len(input) {
		offset = len(input)
	}
	line := 1 + strings.Count(input[:offset], "\n")
	lineStart := strings.LastIndexByte(input[:offset], '\n') + 1
	return Position{
		Line:      line,
		Column:    offset - lineStart + 1,
		multiline: strings.ContainsRune(input, '\n'),
	}
}

// NewPosition returns the position at line and column of a source text,
// which spans several lines if multiline is true.
func NewPosition(line, column int, multiline bool) Position {
	return Position{Line: line, Column: column, multiline: multiline}
}

func (p Position) String() string {
	if p.Line == 0 {
		return ""
	}
	if p.multiline {
		return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
	}
	return fmt.Sprintf("column %d", p.Column)
}

// prefix returns the position formatted as a message prefix.
func (p Position) prefix() string {
	if s := p.String(); s != "" {
		return s + ": "
	}
	return ""
}

// SyntaxError reports malformed markup or a malformed condition.
type SyntaxError struct {
	Pos Position
	// Source is "template" or "condition".
	Source string
	Msg    string
}

func (e *SyntaxError) Error() string {
	return e.Pos.prefix() + e.Msg
}

// Syntaxf builds a template SyntaxError.
func Syntaxf(pos Position, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Source: "template", Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedTagError reports a well formed tag outside if, elsif, else and
// a.
type UnsupportedTagError struct {
	Pos Position
	Tag string
}

func (e *UnsupportedTagError) Error() string {
	return fmt.Sprintf("%sunsupported tag <%s>, expected one of <if>, <elsif>, <else>, <a>", e.Pos.prefix(), e.Tag)
}

// ConditionInferenceError reports an if or elsif tag that has no c
// attribute and whose condition cannot be derived from its body.
type ConditionInferenceError struct {
	Pos    Position
	Tag    string
	Reason string
}

func (e *ConditionInferenceError) Error() string {
	return fmt.Sprintf("%scannot infer condition for <%s>: %s", e.Pos.prefix(), e.Tag, e.Reason)
}

// AmbiguousParameterError reports a repeat block whose body references more
// than one parameter.
type AmbiguousParameterError struct {
	Pos   Position
	Names []string
}

func (e *AmbiguousParameterError) Error() string {
	return fmt.Sprintf("%srepeat block must reference exactly one parameter, found %s", e.Pos.prefix(), strings.Join(e.Names, ", "))
}

// UnboundVariableError reports a parameter that has no binding.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("parameter %q is not bound", e.Name)
}

// ComparisonError reports a comparison between operands that cannot be
// coerced to a common form.
type ComparisonError struct {
	Op          string
	Left, Right string
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("cannot compare %s %s %s", e.Left, e.Op, e.Right)
}
