package ir

import (
	"encoding/json"
	"fmt"
)

// The JSON encoding of the IR is the file format the front end hands to
// the build command. Every closed sum is a tag-discriminated object;
// unknown tags are decode errors, never silent defaults.

var operatorNames = map[OperatorType]string{
	OpMul:        "mul",
	OpDiv:        "div",
	OpAdd:        "add",
	OpSub:        "sub",
	OpPow:        "pow",
	OpIntDiv:     "intdiv",
	OpMod:        "mod",
	OpShiftL:     "shl",
	OpShiftR:     "shr",
	OpLesserEq:   "leq",
	OpGreaterEq:  "geq",
	OpLesser:     "lt",
	OpGreater:    "gt",
	OpEq:         "eq",
	OpNotEq:      "neq",
	OpBoolOr:     "lor",
	OpBoolAnd:    "land",
	OpBitOr:      "bor",
	OpBitAnd:     "band",
	OpBitXor:     "bxor",
	OpPrefixSub:  "prefix_sub",
	OpToAddress:  "to_address",
	OpMulAddress: "mul_address",
	OpAddAddress: "add_address",
}

var operatorValues = func() map[string]OperatorType {
	m := make(map[string]OperatorType, len(operatorNames))
	for k, v := range operatorNames {
		m[v] = k
	}
	return m
}()

var statusNames = map[StatusInput]string{
	Last:    "last",
	NoLast:  "no_last",
	Unknown: "unknown",
}

var statusValues = map[string]StatusInput{
	"last":    Last,
	"no_last": NoLast,
	"unknown": Unknown,
}

// MarshalJSON encodes the operator as its name.
func (op OperatorType) MarshalJSON() ([]byte, error) {
	name, ok := operatorNames[op]
	if !ok {
		return nil, fmt.Errorf("ir: unknown operator %d", uint8(op))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes an operator name.
func (op *OperatorType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := operatorValues[name]
	if !ok {
		return fmt.Errorf("ir: unknown operator %q", name)
	}
	*op = v
	return nil
}

// MarshalJSON encodes the status as its name.
func (s StatusInput) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("ir: unknown input status %d", uint8(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a status name.
func (s *StatusInput) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := statusValues[name]
	if !ok {
		return fmt.Errorf("ir: unknown input status %q", name)
	}
	*s = v
	return nil
}

func encodeInstructions(insts []Instruction) ([]json.RawMessage, error) {
	if insts == nil {
		return nil, nil
	}
	out := make([]json.RawMessage, len(insts))
	for i, inst := range insts {
		raw, err := encodeInstruction(inst)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func decodeInstructions(raws []json.RawMessage) ([]Instruction, error) {
	if raws == nil {
		return nil, nil
	}
	out := make([]Instruction, len(raws))
	for i, raw := range raws {
		inst, err := decodeInstruction(raw)
		if err != nil {
			return nil, err
		}
		out[i] = inst
	}
	return out, nil
}

func encodeOptInstruction(inst Instruction) (json.RawMessage, error) {
	if inst == nil {
		return nil, nil
	}
	return encodeInstruction(inst)
}

func decodeOptInstruction(raw json.RawMessage) (Instruction, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeInstruction(raw)
}

type jsonValue struct {
	Bucket string `json:"bucket"`
	Parse  string `json:"parse"`
	Value  int    `json:"value"`
}

type jsonLoad struct {
	Bucket  string          `json:"bucket"`
	Address json.RawMessage `json:"address"`
	Src     json.RawMessage `json:"src"`
	Size    int             `json:"size"`
}

type jsonStore struct {
	Bucket  string          `json:"bucket"`
	Address json.RawMessage `json:"address"`
	Dest    json.RawMessage `json:"dest"`
	Src     json.RawMessage `json:"src"`
	Size    int             `json:"size"`
}

type jsonCompute struct {
	Bucket string            `json:"bucket"`
	Op     OperatorType      `json:"op"`
	Stack  []json.RawMessage `json:"stack"`
}

type jsonBranch struct {
	Bucket string            `json:"bucket"`
	Cond   json.RawMessage   `json:"cond"`
	If     []json.RawMessage `json:"if"`
	Else   []json.RawMessage `json:"else"`
}

type jsonLoop struct {
	Bucket string            `json:"bucket"`
	Cond   json.RawMessage   `json:"cond"`
	Body   []json.RawMessage `json:"body"`
}

type jsonFinalReturn struct {
	Address json.RawMessage `json:"address"`
	Dest    json.RawMessage `json:"dest"`
	Size    int             `json:"size"`
}

type jsonCall struct {
	Bucket   string            `json:"bucket"`
	Symbol   string            `json:"symbol"`
	Arena    int               `json:"arena"`
	Args     []json.RawMessage `json:"args"`
	ArgSizes []int             `json:"arg_sizes"`
	Return   jsonFinalReturn   `json:"return"`
}

type jsonReturn struct {
	Bucket string          `json:"bucket"`
	Value  json.RawMessage `json:"value"`
	Size   int             `json:"size"`
}

type jsonCreateCmp struct {
	Bucket           string          `json:"bucket"`
	TemplateID       int             `json:"template_id"`
	SubCmpID         json.RawMessage `json:"sub_cmp_id"`
	Name             string          `json:"name"`
	SignalOffset     int             `json:"signal_offset"`
	SignalOffsetJump int             `json:"signal_offset_jump"`
	NumberOfCmp      int             `json:"number_of_cmp"`
	HasInputs        bool            `json:"has_inputs"`
}

type jsonAssert struct {
	Bucket   string          `json:"bucket"`
	Evaluate json.RawMessage `json:"evaluate"`
}

type jsonLog struct {
	Bucket string            `json:"bucket"`
	Args   []json.RawMessage `json:"args"`
}

func encodeInstruction(inst Instruction) (json.RawMessage, error) {
	switch b := inst.(type) {
	case ValueBucket:
		parse := "u32"
		if b.Parse == BigInt {
			parse = "bigint"
		}
		return json.Marshal(jsonValue{"value", parse, b.Value})

	case LoadBucket:
		addr, err := encodeAddress(b.Address)
		if err != nil {
			return nil, err
		}
		src, err := encodeLocation(b.Src)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonLoad{"load", addr, src, b.Size})

	case StoreBucket:
		addr, err := encodeAddress(b.Address)
		if err != nil {
			return nil, err
		}
		dest, err := encodeLocation(b.Dest)
		if err != nil {
			return nil, err
		}
		src, err := encodeInstruction(b.Src)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonStore{"store", addr, dest, src, b.Size})

	case ComputeBucket:
		stack, err := encodeInstructions(b.Stack)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonCompute{"compute", b.Op, stack})

	case BranchBucket:
		cond, err := encodeInstruction(b.Cond)
		if err != nil {
			return nil, err
		}
		ifArm, err := encodeInstructions(b.If)
		if err != nil {
			return nil, err
		}
		elseArm, err := encodeInstructions(b.Else)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonBranch{"branch", cond, ifArm, elseArm})

	case LoopBucket:
		cond, err := encodeInstruction(b.Cond)
		if err != nil {
			return nil, err
		}
		body, err := encodeInstructions(b.Body)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonLoop{"loop", cond, body})

	case CallBucket:
		args, err := encodeInstructions(b.Args)
		if err != nil {
			return nil, err
		}
		addr, err := encodeAddress(b.Return.Address)
		if err != nil {
			return nil, err
		}
		dest, err := encodeLocation(b.Return.Dest)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonCall{
			Bucket:   "call",
			Symbol:   b.Symbol,
			Arena:    b.Arena,
			Args:     args,
			ArgSizes: b.ArgSizes,
			Return:   jsonFinalReturn{addr, dest, b.Return.Size},
		})

	case ReturnBucket:
		value, err := encodeInstruction(b.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonReturn{"return", value, b.Size})

	case CreateCmpBucket:
		subCmpID, err := encodeInstruction(b.SubCmpID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonCreateCmp{
			Bucket:           "create_cmp",
			TemplateID:       b.TemplateID,
			SubCmpID:         subCmpID,
			Name:             b.Name,
			SignalOffset:     b.SignalOffset,
			SignalOffsetJump: b.SignalOffsetJump,
			NumberOfCmp:      b.NumberOfCmp,
			HasInputs:        b.HasInputs,
		})

	case AssertBucket:
		eval, err := encodeOptInstruction(b.Evaluate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonAssert{"assert", eval})

	case LogBucket:
		args, err := encodeInstructions(b.Args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonLog{"log", args})
	}
	return nil, fmt.Errorf("ir: cannot encode instruction %T", inst)
}

func decodeInstruction(raw json.RawMessage) (Instruction, error) {
	var head struct {
		Bucket string `json:"bucket"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Bucket {
	case "value":
		var v jsonValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		var parse ValueType
		switch v.Parse {
		case "u32":
			parse = U32
		case "bigint":
			parse = BigInt
		default:
			return nil, fmt.Errorf("ir: unknown value parse kind %q", v.Parse)
		}
		return ValueBucket{parse, v.Value}, nil

	case "load":
		var v jsonLoad
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		addr, err := decodeAddress(v.Address)
		if err != nil {
			return nil, err
		}
		src, err := decodeLocation(v.Src)
		if err != nil {
			return nil, err
		}
		return LoadBucket{addr, src, v.Size}, nil

	case "store":
		var v jsonStore
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		addr, err := decodeAddress(v.Address)
		if err != nil {
			return nil, err
		}
		dest, err := decodeLocation(v.Dest)
		if err != nil {
			return nil, err
		}
		src, err := decodeInstruction(v.Src)
		if err != nil {
			return nil, err
		}
		return StoreBucket{addr, dest, src, v.Size}, nil

	case "compute":
		var v jsonCompute
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		stack, err := decodeInstructions(v.Stack)
		if err != nil {
			return nil, err
		}
		return ComputeBucket{v.Op, stack}, nil

	case "branch":
		var v jsonBranch
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		cond, err := decodeInstruction(v.Cond)
		if err != nil {
			return nil, err
		}
		ifArm, err := decodeInstructions(v.If)
		if err != nil {
			return nil, err
		}
		elseArm, err := decodeInstructions(v.Else)
		if err != nil {
			return nil, err
		}
		return BranchBucket{cond, ifArm, elseArm}, nil

	case "loop":
		var v jsonLoop
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		cond, err := decodeInstruction(v.Cond)
		if err != nil {
			return nil, err
		}
		body, err := decodeInstructions(v.Body)
		if err != nil {
			return nil, err
		}
		return LoopBucket{cond, body}, nil

	case "call":
		var v jsonCall
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		args, err := decodeInstructions(v.Args)
		if err != nil {
			return nil, err
		}
		addr, err := decodeAddress(v.Return.Address)
		if err != nil {
			return nil, err
		}
		dest, err := decodeLocation(v.Return.Dest)
		if err != nil {
			return nil, err
		}
		return CallBucket{
			Symbol:   v.Symbol,
			Arena:    v.Arena,
			Args:     args,
			ArgSizes: v.ArgSizes,
			Return:   FinalReturn{addr, dest, v.Return.Size},
		}, nil

	case "return":
		var v jsonReturn
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value, err := decodeInstruction(v.Value)
		if err != nil {
			return nil, err
		}
		return ReturnBucket{value, v.Size}, nil

	case "create_cmp":
		var v jsonCreateCmp
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		subCmpID, err := decodeInstruction(v.SubCmpID)
		if err != nil {
			return nil, err
		}
		return CreateCmpBucket{
			TemplateID:       v.TemplateID,
			SubCmpID:         subCmpID,
			Name:             v.Name,
			SignalOffset:     v.SignalOffset,
			SignalOffsetJump: v.SignalOffsetJump,
			NumberOfCmp:      v.NumberOfCmp,
			HasInputs:        v.HasInputs,
		}, nil

	case "assert":
		var v jsonAssert
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		eval, err := decodeOptInstruction(v.Evaluate)
		if err != nil {
			return nil, err
		}
		return AssertBucket{eval}, nil

	case "log":
		var v jsonLog
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		args, err := decodeInstructions(v.Args)
		if err != nil {
			return nil, err
		}
		return LogBucket{args}, nil
	}
	return nil, fmt.Errorf("ir: unknown bucket %q", head.Bucket)
}

type jsonSubcmpAddress struct {
	Type       string          `json:"type"`
	CmpAddress json.RawMessage `json:"cmp_address"`
	IsInput    bool            `json:"is_input"`
	Status     StatusInput     `json:"status"`
}

func encodeAddress(addr AddressType) (json.RawMessage, error) {
	switch a := addr.(type) {
	case SignalAddress:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"signal"})
	case VariableAddress:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"variable"})
	case SubcmpAddress:
		cmp, err := encodeInstruction(a.CmpAddress)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonSubcmpAddress{"subcmp", cmp, a.IsInput, a.Status})
	}
	return nil, fmt.Errorf("ir: cannot encode address type %T", addr)
}

func decodeAddress(raw json.RawMessage) (AddressType, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "signal":
		return SignalAddress{}, nil
	case "variable":
		return VariableAddress{}, nil
	case "subcmp":
		var v jsonSubcmpAddress
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		cmp, err := decodeInstruction(v.CmpAddress)
		if err != nil {
			return nil, err
		}
		return SubcmpAddress{cmp, v.IsInput, v.Status}, nil
	}
	return nil, fmt.Errorf("ir: unknown address type %q", head.Type)
}

type jsonIndexedLocation struct {
	Type           string          `json:"type"`
	Location       json.RawMessage `json:"location"`
	TemplateHeader string          `json:"template_header,omitempty"`
}

type jsonMappedLocation struct {
	Type       string            `json:"type"`
	SignalCode int               `json:"signal_code"`
	Indexes    []json.RawMessage `json:"indexes"`
}

func encodeLocation(loc Location) (json.RawMessage, error) {
	switch l := loc.(type) {
	case IndexedLocation:
		inner, err := encodeInstruction(l.Location)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonIndexedLocation{"indexed", inner, l.TemplateHeader})
	case MappedLocation:
		indexes, err := encodeInstructions(l.Indexes)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonMappedLocation{"mapped", l.SignalCode, indexes})
	}
	return nil, fmt.Errorf("ir: cannot encode location %T", loc)
}

func decodeLocation(raw json.RawMessage) (Location, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "indexed":
		var v jsonIndexedLocation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		inner, err := decodeInstruction(v.Location)
		if err != nil {
			return nil, err
		}
		return IndexedLocation{inner, v.TemplateHeader}, nil
	case "mapped":
		var v jsonMappedLocation
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		indexes, err := decodeInstructions(v.Indexes)
		if err != nil {
			return nil, err
		}
		return MappedLocation{v.SignalCode, indexes}, nil
	}
	return nil, fmt.Errorf("ir: unknown location type %q", head.Type)
}

type jsonTemplate struct {
	ID                 int               `json:"id"`
	Name               string            `json:"name"`
	NumberOfInputs     int               `json:"number_of_inputs"`
	NumberOfComponents int               `json:"number_of_components"`
	VarStackDepth      int               `json:"var_stack_depth"`
	Body               []json.RawMessage `json:"body"`
}

type jsonFunction struct {
	Name   string            `json:"name"`
	Header string            `json:"header"`
	Body   []json.RawMessage `json:"body"`
}

type jsonCircuit struct {
	FieldTracking []string        `json:"field_tracking"`
	TotalSignals  int             `json:"total_signals"`
	MainID        int             `json:"main_id"`
	Inputs        []InputSignal   `json:"inputs"`
	Witness       []int           `json:"witness"`
	Templates     []jsonTemplate  `json:"templates"`
	Functions     []jsonFunction  `json:"functions"`
	IOMap         map[int][]IODef `json:"io_map,omitempty"`
}

// MarshalCircuit encodes a compiled circuit to its JSON interchange
// form.
func MarshalCircuit(c *Circuit) ([]byte, error) {
	jc := jsonCircuit{
		FieldTracking: c.FieldTracking,
		TotalSignals:  c.TotalSignals,
		MainID:        c.MainID,
		Inputs:        c.Inputs,
		Witness:       c.Witness,
		IOMap:         c.IOMap,
	}
	for _, t := range c.Templates {
		body, err := encodeInstructions(t.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Name, err)
		}
		jc.Templates = append(jc.Templates, jsonTemplate{
			ID:                 t.ID,
			Name:               t.Name,
			NumberOfInputs:     t.NumberOfInputs,
			NumberOfComponents: t.NumberOfComponents,
			VarStackDepth:      t.VarStackDepth,
			Body:               body,
		})
	}
	for _, f := range c.Functions {
		body, err := encodeInstructions(f.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		jc.Functions = append(jc.Functions, jsonFunction{f.Name, f.Header, body})
	}
	return json.Marshal(jc)
}

// UnmarshalCircuit decodes a compiled circuit from its JSON interchange
// form.
func UnmarshalCircuit(data []byte) (*Circuit, error) {
	var jc jsonCircuit
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, err
	}
	c := &Circuit{
		FieldTracking: jc.FieldTracking,
		TotalSignals:  jc.TotalSignals,
		MainID:        jc.MainID,
		Inputs:        jc.Inputs,
		Witness:       jc.Witness,
		IOMap:         jc.IOMap,
	}
	for _, t := range jc.Templates {
		body, err := decodeInstructions(t.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Name, err)
		}
		c.Templates = append(c.Templates, Template{
			ID:                 t.ID,
			Name:               t.Name,
			NumberOfInputs:     t.NumberOfInputs,
			NumberOfComponents: t.NumberOfComponents,
			VarStackDepth:      t.VarStackDepth,
			Body:               body,
		})
	}
	for _, f := range jc.Functions {
		body, err := decodeInstructions(f.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		c.Functions = append(c.Functions, Function{f.Name, f.Header, body})
	}
	return c, nil
}
