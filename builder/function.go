package builder

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/ir"
)

// call materializes a function frame, runs the callee body in its own
// interpreter, and writes the returned values to the call's destination.
// Writing to a subcomponent input still participates in the firing rule.
func (s *scope) call(b ir.CallBucket) error {
	fn := s.ctx.circuit.FunctionByHeader(b.Symbol)
	if fn == nil {
		return fmt.Errorf("builder: no function %q", b.Symbol)
	}

	frame := make([]Var, b.Arena)
	pos := 0
	for i, arg := range b.Args {
		size := 1
		if i < len(b.ArgSizes) {
			size = b.ArgSizes[i]
		}
		vars, err := s.calcExpressionN(arg, size)
		if err != nil {
			return fmt.Errorf("function %s argument %d: %w", fn.Name, i, err)
		}
		if pos+len(vars) > len(frame) {
			return fmt.Errorf("builder: function %s arguments overflow the %d-slot frame", fn.Name, b.Arena)
		}
		copy(frame[pos:], vars)
		pos += len(vars)
	}

	ret, err := s.ctx.runFunction(fn, frame)
	if err != nil {
		return err
	}

	size := b.Return.Size
	if size == 0 {
		size = 1
	}
	if len(ret) != size {
		return fmt.Errorf("builder: function %s returned %d values, destination wants %d", fn.Name, len(ret), size)
	}

	switch a := b.Return.Address.(type) {
	case ir.VariableAddress:
		idx, err := s.indexedOffset(b.Return.Dest)
		if err != nil {
			return err
		}
		return s.writeVars(idx, ret)

	case ir.SignalAddress:
		if s.isFunction {
			return fmt.Errorf("%w: signal store inside a function", ErrUnsupported)
		}
		idx, err := s.indexedOffset(b.Return.Dest)
		if err != nil {
			return err
		}
		nodeIdxs, err := s.varsToNodes(ret)
		if err != nil {
			return err
		}
		return s.writeSignals(s.signalOffset+idx, nodeIdxs)

	case ir.SubcmpAddress:
		if s.isFunction {
			return fmt.Errorf("%w: subcomponent store inside a function", ErrUnsupported)
		}
		nodeIdxs, err := s.varsToNodes(ret)
		if err != nil {
			return err
		}
		return s.storeSubcmpSignals(a, b.Return.Dest, nodeIdxs)
	}
	return fmt.Errorf("%w: call return address %T", ErrUnsupported, b.Return.Address)
}

func (s *scope) varsToNodes(vars []Var) ([]int, error) {
	out := make([]int, len(vars))
	var err error
	for i, v := range vars {
		out[i], err = s.varToNode(v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runFunction executes a function body over its own frame. Functions
// never touch the signal table; their control flow must fold completely
// at compile time.
func (ctx *context) runFunction(fn *ir.Function, frame []Var) ([]Var, error) {
	log.Debugf("run function %s, %d instructions", fn.Name, len(fn.Body))

	fs := &scope{
		ctx:        ctx,
		vars:       frame,
		isFunction: true,
	}
	if err := fs.run(fn.Body); err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.Name, err)
	}
	if fs.ret == nil {
		return nil, fmt.Errorf("builder: function %s finished without returning", fn.Name)
	}
	return fs.ret, nil
}

// returnValue finishes the enclosing function body with one value or a
// slice of the local frame.
func (s *scope) returnValue(b ir.ReturnBucket) error {
	if !s.isFunction {
		return fmt.Errorf("%w: return outside a function", ErrUnsupported)
	}
	size := b.Size
	if size == 0 {
		size = 1
	}
	vars, err := s.calcExpressionN(b.Value, size)
	if err != nil {
		return err
	}
	s.ret = vars
	return nil
}
