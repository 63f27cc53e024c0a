package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// predicate is a compiled `when` expression. Programs are immutable and shared
// by every Policy using the rule set; each Policy runs them on its own
// runtime.
type predicate struct {
	src  string
	prog *goja.Program
}

func compilePredicate(src string) (*predicate, error) {
	prog, err := goja.Compile("when", "("+src+")", true)
	if err != nil {
		return nil, fmt.Errorf("when %q: %w", src, err)
	}
	return &predicate{src: src, prog: prog}, nil
}

// predicateVM evaluates predicates against one conversion at a time.
type predicateVM struct {
	vm      *goja.Runtime
	timeout time.Duration
}

func newPredicateVM(timeout time.Duration) *predicateVM {
	return &predicateVM{vm: goja.New(), timeout: timeout}
}

func (p *predicateVM) eval(pred *predicate, env map[string]interface{}) (bool, error) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	for k, v := range env {
		if err := p.vm.Set(k, v); err != nil {
			return false, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	defer p.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			p.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := p.vm.RunProgram(pred.prog)
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return false, fmt.Errorf("when %q: %w", pred.src, cause)
			}
			return false, fmt.Errorf("when %q: %w", pred.src, context.Canceled)
		}
		return false, fmt.Errorf("when %q: %w", pred.src, err)
	}
	return val.ToBoolean(), nil
}
