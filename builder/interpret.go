package builder

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/user-none/witnesscalc/field"
	"github.com/user-none/witnesscalc/graph"
	"github.com/user-none/witnesscalc/ir"
)

// scope is the execution state of one template instance or one function
// frame. Template scopes own a signal block and a subcomponent table;
// function scopes only own their frame and must not touch signals.
type scope struct {
	ctx          *context
	signalOffset int
	vars         []Var
	subcmps      []*instance

	// function-frame mode
	isFunction bool
	ret        []Var
}

// run executes a bucket list in order, stopping early when a function
// body returns.
func (s *scope) run(insts []ir.Instruction) error {
	for _, inst := range insts {
		if err := s.instruction(inst); err != nil {
			return err
		}
		if s.ret != nil {
			return nil
		}
	}
	return nil
}

func (s *scope) instruction(inst ir.Instruction) error {
	switch b := inst.(type) {
	case ir.StoreBucket:
		return s.store(b)
	case ir.BranchBucket:
		return s.branch(b)
	case ir.LoopBucket:
		return s.loop(b)
	case ir.CreateCmpBucket:
		return s.createCmp(b)
	case ir.CallBucket:
		return s.call(b)
	case ir.ReturnBucket:
		return s.returnValue(b)
	case ir.AssertBucket, ir.LogBucket:
		// No witness semantics.
		return nil
	}
	return fmt.Errorf("%w: %T at statement position", ErrUnsupported, inst)
}

// calcExpression reduces an expression bucket to a Var. Constants and
// variables keep it a compile-time value; reading a signal yields a node
// handle, which is fine for arithmetic but fatal for indexes.
func (s *scope) calcExpression(inst ir.Instruction) (Var, error) {
	switch b := inst.(type) {
	case ir.ValueBucket:
		return s.literal(b)
	case ir.LoadBucket:
		vars, err := s.load(b.Address, b.Src, 1)
		if err != nil {
			return Var{}, err
		}
		return vars[0], nil
	case ir.ComputeBucket:
		return s.compute(b)
	}
	return Var{}, fmt.Errorf("%w: %T in expression position", ErrUnsupported, inst)
}

// calcExpressionN reduces an expression to size consecutive Vars. Sizes
// above one require the expression to be a slice load.
func (s *scope) calcExpressionN(inst ir.Instruction, size int) ([]Var, error) {
	if size <= 0 {
		return nil, fmt.Errorf("builder: invalid expression size %d", size)
	}
	if size == 1 {
		v, err := s.calcExpression(inst)
		if err != nil {
			return nil, err
		}
		return []Var{v}, nil
	}
	b, ok := inst.(ir.LoadBucket)
	if !ok {
		return nil, fmt.Errorf("%w: %T as a slice of %d", ErrUnsupported, inst, size)
	}
	return s.load(b.Address, b.Src, size)
}

// literal turns a Value bucket into a compile-time Var: a U32 literal
// directly, a BigInt through the constants prefix of the node array.
func (s *scope) literal(b ir.ValueBucket) (Var, error) {
	switch b.Parse {
	case ir.U32:
		var v Var
		v.kind = valueVar
		v.value.SetUint64(uint64(b.Value))
		return v, nil
	case ir.BigInt:
		if b.Value < 0 || b.Value >= len(s.ctx.nodes) {
			return Var{}, fmt.Errorf("builder: constant reference %d out of range", b.Value)
		}
		n := s.ctx.nodes[b.Value]
		if n.Kind != graph.KindConstant {
			return Var{}, fmt.Errorf("builder: node %d referenced as constant is %s", b.Value, n)
		}
		return ValueVar(n.Const), nil
	}
	return Var{}, fmt.Errorf("%w: value parse kind %d", ErrUnsupported, b.Parse)
}

// indexedOffset resolves an Indexed location to its constant offset.
func (s *scope) indexedOffset(loc ir.Location) (int, error) {
	l, ok := loc.(ir.IndexedLocation)
	if !ok {
		return 0, fmt.Errorf("%w: location %T, want indexed", ErrUnsupported, loc)
	}
	v, err := s.calcExpression(l.Location)
	if err != nil {
		return 0, err
	}
	return v.index()
}

// subcmpOffset resolves a load/store location inside a subcomponent's
// signal block: an indexed expression, or a mapped lookup through the
// template-instance I/O map.
func (s *scope) subcmpOffset(sub *instance, loc ir.Location) (int, error) {
	switch l := loc.(type) {
	case ir.IndexedLocation:
		v, err := s.calcExpression(l.Location)
		if err != nil {
			return 0, err
		}
		return v.index()
	case ir.MappedLocation:
		defs, ok := s.ctx.circuit.IOMap[sub.templateID]
		if !ok {
			return 0, fmt.Errorf("builder: no I/O map for template %d", sub.templateID)
		}
		if l.SignalCode < 0 || l.SignalCode >= len(defs) {
			return 0, fmt.Errorf("builder: signal code %d out of range for template %d", l.SignalCode, sub.templateID)
		}
		offset := defs[l.SignalCode].Offset
		switch len(l.Indexes) {
		case 0:
			return offset, nil
		case 1:
			v, err := s.calcExpression(l.Indexes[0])
			if err != nil {
				return 0, err
			}
			idx, err := v.index()
			if err != nil {
				return 0, err
			}
			return offset + idx, nil
		}
		return 0, fmt.Errorf("%w: multi-dimensional mapped signal", ErrUnsupported)
	}
	return 0, fmt.Errorf("%w: location %T", ErrUnsupported, loc)
}

// subcomponent resolves a compile-time subcomponent slot index to its
// live instance.
func (s *scope) subcomponent(cmpAddress ir.Instruction) (*instance, error) {
	v, err := s.calcExpression(cmpAddress)
	if err != nil {
		return nil, err
	}
	idx, err := v.index()
	if err != nil {
		return nil, err
	}
	if idx >= len(s.subcmps) {
		return nil, fmt.Errorf("builder: subcomponent index %d out of range (%d slots)", idx, len(s.subcmps))
	}
	sub := s.subcmps[idx]
	if sub == nil {
		return nil, fmt.Errorf("builder: subcomponent %d is not created yet", idx)
	}
	return sub, nil
}

// load reads size consecutive slots behind an address/location pair.
// Signal loads produce node handles and require the slots to be set;
// variable loads return the stored Vars, keeping constants constant.
func (s *scope) load(addr ir.AddressType, loc ir.Location, size int) ([]Var, error) {
	switch a := addr.(type) {
	case ir.SignalAddress:
		if s.isFunction {
			return nil, fmt.Errorf("%w: signal load inside a function", ErrUnsupported)
		}
		idx, err := s.indexedOffset(loc)
		if err != nil {
			return nil, err
		}
		return s.loadSignals(s.signalOffset+idx, size)

	case ir.SubcmpAddress:
		if s.isFunction {
			return nil, fmt.Errorf("%w: subcomponent load inside a function", ErrUnsupported)
		}
		sub, err := s.subcomponent(a.CmpAddress)
		if err != nil {
			return nil, err
		}
		idx, err := s.subcmpOffset(sub, loc)
		if err != nil {
			return nil, err
		}
		return s.loadSignals(sub.signalOffset+idx, size)

	case ir.VariableAddress:
		idx, err := s.indexedOffset(loc)
		if err != nil {
			return nil, err
		}
		if idx+size > len(s.vars) {
			return nil, fmt.Errorf("builder: variable slice %d..%d out of frame (%d slots)", idx, idx+size, len(s.vars))
		}
		out := make([]Var, size)
		for i := 0; i < size; i++ {
			v := s.vars[idx+i]
			if !v.isSet() {
				return nil, fmt.Errorf("%w: variable %d", ErrVariableNotSet, idx+i)
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: address %T", ErrUnsupported, addr)
}

func (s *scope) loadSignals(abs, size int) ([]Var, error) {
	if abs < 0 || abs+size > len(s.ctx.signals) {
		return nil, fmt.Errorf("builder: signal slice %d..%d out of table", abs, abs+size)
	}
	out := make([]Var, size)
	for i := 0; i < size; i++ {
		n := s.ctx.signals[abs+i]
		if n == unsetSignal {
			return nil, fmt.Errorf("%w: signal %d", ErrSignalNotSet, abs+i)
		}
		out[i] = NodeVar(n)
	}
	return out, nil
}

// varToNode materializes a Var as a graph node index, pushing a constant
// node when the Var is a compile-time value.
func (s *scope) varToNode(v Var) (int, error) {
	switch v.kind {
	case nodeVar:
		return v.node, nil
	case valueVar:
		return s.ctx.pushNode(graph.Constant(v.value)), nil
	}
	return 0, fmt.Errorf("builder: unset value used as operand")
}

// computeNodes evaluates an expression to size graph node indices.
func (s *scope) computeNodes(inst ir.Instruction, size int) ([]int, error) {
	vars, err := s.calcExpressionN(inst, size)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vars))
	for i, v := range vars {
		out[i], err = s.varToNode(v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *scope) store(b ir.StoreBucket) error {
	size := b.Size
	if size == 0 {
		size = 1
	}

	switch a := b.Address.(type) {
	case ir.SignalAddress:
		if s.isFunction {
			return fmt.Errorf("%w: signal store inside a function", ErrUnsupported)
		}
		idx, err := s.indexedOffset(b.Dest)
		if err != nil {
			return err
		}
		nodeIdxs, err := s.computeNodes(b.Src, size)
		if err != nil {
			return err
		}
		return s.writeSignals(s.signalOffset+idx, nodeIdxs)

	case ir.VariableAddress:
		idx, err := s.indexedOffset(b.Dest)
		if err != nil {
			return err
		}
		vars, err := s.calcExpressionN(b.Src, size)
		if err != nil {
			return err
		}
		return s.writeVars(idx, vars)

	case ir.SubcmpAddress:
		if s.isFunction {
			return fmt.Errorf("%w: subcomponent store inside a function", ErrUnsupported)
		}
		nodeIdxs, err := s.computeNodes(b.Src, size)
		if err != nil {
			return err
		}
		return s.storeSubcmpSignals(a, b.Dest, nodeIdxs)
	}
	return fmt.Errorf("%w: store address %T", ErrUnsupported, b.Address)
}

// writeSignals assigns node indices to consecutive signal slots. Each
// slot transitions unset -> set exactly once.
func (s *scope) writeSignals(abs int, nodeIdxs []int) error {
	if abs < 0 || abs+len(nodeIdxs) > len(s.ctx.signals) {
		return fmt.Errorf("builder: signal slice %d..%d out of table", abs, abs+len(nodeIdxs))
	}
	for i, n := range nodeIdxs {
		if s.ctx.signals[abs+i] != unsetSignal {
			return fmt.Errorf("%w: signal %d", ErrSignalSet, abs+i)
		}
		s.ctx.signals[abs+i] = n
	}
	return nil
}

func (s *scope) writeVars(idx int, vars []Var) error {
	if idx < 0 || idx+len(vars) > len(s.vars) {
		return fmt.Errorf("builder: variable slice %d..%d out of frame (%d slots)", idx, idx+len(vars), len(s.vars))
	}
	copy(s.vars[idx:], vars)
	return nil
}

// storeSubcmpSignals writes nodes into a subcomponent's input signals,
// decrements its missing-input count and fires the callee according to
// the store's input status.
func (s *scope) storeSubcmpSignals(a ir.SubcmpAddress, dest ir.Location, nodeIdxs []int) error {
	if !a.IsInput {
		return fmt.Errorf("%w: subcomponent store without input information", ErrUnsupported)
	}
	sub, err := s.subcomponent(a.CmpAddress)
	if err != nil {
		return err
	}
	idx, err := s.subcmpOffset(sub, dest)
	if err != nil {
		return err
	}
	if err := s.writeSignals(sub.signalOffset+idx, nodeIdxs); err != nil {
		return err
	}
	sub.remainingInputs -= len(nodeIdxs)

	fire := false
	switch a.Status {
	case ir.Last:
		if sub.remainingInputs != 0 {
			return fmt.Errorf("builder: last input stored but %d inputs remain", sub.remainingInputs)
		}
		fire = true
	case ir.NoLast:
		if sub.remainingInputs <= 0 {
			return fmt.Errorf("builder: non-last input stored but no inputs remain")
		}
	case ir.Unknown:
		fire = sub.remainingInputs == 0
	default:
		return fmt.Errorf("%w: input status %d", ErrUnsupported, a.Status)
	}

	if fire {
		return s.ctx.runTemplate(sub.templateID, sub.signalOffset)
	}
	return nil
}

// signalStore recognizes the "store to own signal" shape used by the
// ternary branch lowering and resolves its destination.
func (s *scope) signalStore(inst ir.Instruction) (int, ir.Instruction, bool, error) {
	b, ok := inst.(ir.StoreBucket)
	if !ok {
		return 0, nil, false, nil
	}
	if _, ok := b.Address.(ir.SignalAddress); !ok {
		return 0, nil, false, nil
	}
	idx, err := s.indexedOffset(b.Dest)
	if err != nil {
		return 0, nil, false, err
	}
	return s.signalOffset + idx, b.Src, true, nil
}

func (s *scope) branch(b ir.BranchBucket) error {
	cond, err := s.calcExpression(b.Cond)
	if err != nil {
		return err
	}

	if cond.IsValue() {
		if !cond.value.IsZero() {
			return s.run(b.If)
		}
		return s.run(b.Else)
	}

	// A runtime condition is only legal as a ternary: both arms are a
	// single store to the same signal, combined into one TernCond node.
	if s.isFunction {
		return fmt.Errorf("%w: branch inside a function", ErrNonConstantCondition)
	}
	if len(b.If) != 1 || len(b.Else) != 1 {
		return fmt.Errorf("%w: branch arms must be single stores", ErrNonConstantCondition)
	}
	ifSignal, ifSrc, ifOK, err := s.signalStore(b.If[0])
	if err != nil {
		return err
	}
	elseSignal, elseSrc, elseOK, err := s.signalStore(b.Else[0])
	if err != nil {
		return err
	}
	if !ifOK || !elseOK {
		return fmt.Errorf("%w: branch arms must store to a signal", ErrNonConstantCondition)
	}
	if ifSignal != elseSignal {
		return fmt.Errorf("%w: branch arms store different signals (%d, %d)", ErrNonConstantCondition, ifSignal, elseSignal)
	}

	ifNode, err := s.computeNodes(ifSrc, 1)
	if err != nil {
		return err
	}
	elseNode, err := s.computeNodes(elseSrc, 1)
	if err != nil {
		return err
	}
	n := s.ctx.pushNode(graph.NewTresOp(field.TernCond, cond.node, ifNode[0], elseNode[0]))
	return s.writeSignals(ifSignal, []int{n})
}

func (s *scope) loop(b ir.LoopBucket) error {
	for {
		cond, err := s.calcExpression(b.Cond)
		if err != nil {
			return err
		}
		if !cond.IsValue() {
			return fmt.Errorf("%w: loop condition", ErrNonConstantCondition)
		}
		if cond.value.IsZero() {
			return nil
		}
		if err := s.run(b.Body); err != nil {
			return err
		}
		if s.ret != nil {
			return nil
		}
	}
}

func (s *scope) createCmp(b ir.CreateCmpBucket) error {
	if s.isFunction {
		return fmt.Errorf("%w: subcomponent creation inside a function", ErrUnsupported)
	}
	v, err := s.calcExpression(b.SubCmpID)
	if err != nil {
		return err
	}
	first, err := v.index()
	if err != nil {
		return err
	}
	if first+b.NumberOfCmp > len(s.subcmps) {
		return fmt.Errorf("builder: subcomponent slots %d..%d out of range (%d slots)",
			first, first+b.NumberOfCmp, len(s.subcmps))
	}
	if b.TemplateID < 0 || b.TemplateID >= len(s.ctx.circuit.Templates) {
		return fmt.Errorf("builder: no template with id %d", b.TemplateID)
	}

	offset := b.SignalOffset
	for i := first; i < first+b.NumberOfCmp; i++ {
		if s.subcmps[i] != nil {
			return fmt.Errorf("builder: subcomponent %d is already created", i)
		}
		sub := &instance{
			templateID:      b.TemplateID,
			signalOffset:    s.signalOffset + offset,
			remainingInputs: s.ctx.circuit.Templates[b.TemplateID].NumberOfInputs,
		}
		s.subcmps[i] = sub
		offset += b.SignalOffsetJump

		log.Debugf("create component %q slot %d, template %d, signals at %d",
			b.Name, i, b.TemplateID, sub.signalOffset)

		// Instances without inputs have nothing to wait for.
		if !b.HasInputs {
			if err := s.ctx.runTemplate(sub.templateID, sub.signalOffset); err != nil {
				return err
			}
		}
	}
	return nil
}
