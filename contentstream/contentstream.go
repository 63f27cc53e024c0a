// Package contentstream scans PDF content streams and rewrites their color
// operators.
package contentstream

import (
	"context"
	"fmt"
)

// Operation is an operator with its operands. Start and End span the
// operands through the operator.
type Operation struct {
	Operator   string
	Operands   []Token
	Start, End int
}

type Processor interface {
	Process(ctx context.Context, stream []byte) error
	RegisterHandler(op string, h OperatorHandler)
}

type OperatorHandler interface {
	Handle(ctx *ExecutionContext, op Operation) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx *ExecutionContext, op Operation) error

func (f HandlerFunc) Handle(ctx *ExecutionContext, op Operation) error { return f(ctx, op) }

type ExecutionContext struct {
	Stream []byte
	// Depth is the q/Q nesting level before the operator runs.
	Depth int
}

// operandKeywords are keywords that act as operands.
var operandKeywords = map[string]bool{"true": true, "false": true, "null": true}

type simpleProcessor struct{ handlers map[string]OperatorHandler }

func NewProcessor() Processor {
	return &simpleProcessor{handlers: make(map[string]OperatorHandler)}
}

func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

func (p *simpleProcessor) Process(ctx context.Context, stream []byte) error {
	tokens, err := tokenize(stream)
	if err != nil {
		return err
	}
	ec := &ExecutionContext{Stream: stream}
	var operands []Token

	for i, tok := range tokens {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if tok.Kind != TokenKeyword || operandKeywords[tok.Text] {
			operands = append(operands, tok)
			continue
		}
		op := Operation{Operator: tok.Text, Operands: operands, Start: tok.Start, End: tok.End}
		if len(operands) > 0 {
			op.Start = operands[0].Start
		}
		if h, ok := p.handlers[tok.Text]; ok {
			if err := h.Handle(ec, op); err != nil {
				return err
			}
		}
		switch tok.Text {
		case "q":
			ec.Depth++
		case "Q":
			if ec.Depth > 0 {
				ec.Depth--
			}
		}
		operands = nil
	}

	if len(operands) > 0 {
		return fmt.Errorf("dangling operands: %d", len(operands))
	}
	return nil
}
