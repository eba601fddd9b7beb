package interpreter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"rexx/interpreter-go/pkg/activity"
)

// Assembly is a parsed program assembly file: a YAML document listing
// routines and their clauses.
//
//	routines:
//	  - name: main
//	    body:
//	      - say: {op: "||", left: "a", right: {var: x}}
//	      - call: {name: sub, args: ["1"]}
//	      - loop: {count: "3", control: i, body: [{say: {var: i}}]}
//	      - return: {call: length, args: ["abc"]}
//
// Expressions are a bare string (literal), {lit: ...}, {var: name},
// {call: name, args: [...]} or {op: ..., left: ..., right: ...}.
type Assembly struct {
	Source   string
	Routines []AssemblyRoutine
}

type AssemblyRoutine struct {
	Name string
	Body []map[string]any
}

type assemblyDisk struct {
	Routines []struct {
		Name string           `yaml:"name"`
		Body []map[string]any `yaml:"body"`
	} `yaml:"routines"`
}

// ParseAssembly decodes an assembly document without touching a heap.
func ParseAssembly(source string, data []byte) (*Assembly, error) {
	var disk assemblyDisk
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&disk); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("assembly %s: empty document", source)
		}
		return nil, fmt.Errorf("assembly %s: %w", source, err)
	}
	if len(disk.Routines) == 0 {
		return nil, fmt.Errorf("assembly %s: no routines", source)
	}
	asm := &Assembly{Source: source}
	seen := make(map[string]bool)
	for idx, r := range disk.Routines {
		name := strings.ToUpper(strings.TrimSpace(r.Name))
		if name == "" {
			return nil, fmt.Errorf("assembly %s: routine %d has no name", source, idx+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("assembly %s: duplicate routine %s", source, name)
		}
		seen[name] = true
		asm.Routines = append(asm.Routines, AssemblyRoutine{Name: name, Body: r.Body})
	}
	return asm, nil
}

// Build allocates the routines on b's heap. The first routine is the
// program's entry point.
func (asm *Assembly) Build(b *Builder) ([]*Routine, error) {
	routines := make([]*Routine, 0, len(asm.Routines))
	for _, r := range asm.Routines {
		b.At(1)
		instrs, err := decodeBody(b, r.Body)
		if err != nil {
			return nil, fmt.Errorf("assembly %s: routine %s: %w", asm.Source, r.Name, err)
		}
		routine, err := b.Routine(r.Name, instrs...)
		if err != nil {
			return nil, fmt.Errorf("assembly %s: %w", asm.Source, err)
		}
		routines = append(routines, routine)
	}
	return routines, nil
}

// LoadAssembly parses data, builds its routines and registers them.
func (i *Interpreter) LoadAssembly(source string, data []byte) ([]*Routine, error) {
	asm, err := ParseAssembly(source, data)
	if err != nil {
		return nil, err
	}
	var routines []*Routine
	err = i.Do(func(*activity.Activity) error {
		built, err := asm.Build(NewBuilder(i.heap))
		if err != nil {
			return err
		}
		for _, r := range built {
			i.RegisterRoutine(r)
			i.SetProgramOrigin(r.Name(), source)
		}
		routines = built
		return nil
	})
	return routines, err
}

type instructionDecoder func(b *Builder, verb string, arg any) (Instruction, bool, error)

var instructionDecoders []instructionDecoder

func init() {
	instructionDecoders = []instructionDecoder{
		decodeOutputInstructions,
		decodeFlowInstructions,
		decodeVariableInstructions,
	}
}

func decodeBody(b *Builder, body []map[string]any) ([]Instruction, error) {
	instrs := make([]Instruction, 0, len(body))
	for idx, node := range body {
		instr, err := decodeInstruction(b, node)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", idx+1, err)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeInstruction(b *Builder, node map[string]any) (Instruction, error) {
	if line, ok := node["line"]; ok {
		n, ok := line.(int)
		if !ok || n < 1 {
			return nil, fmt.Errorf("invalid line %v", line)
		}
		b.At(n)
	}
	verbs := make([]string, 0, 1)
	for key := range node {
		if key != "line" {
			verbs = append(verbs, key)
		}
	}
	if len(verbs) != 1 {
		sort.Strings(verbs)
		return nil, fmt.Errorf("expected one instruction, found %v", verbs)
	}
	verb := verbs[0]
	for _, decoder := range instructionDecoders {
		instr, handled, err := decoder(b, verb, node[verb])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", verb, err)
		}
		if handled {
			return instr, nil
		}
	}
	return nil, fmt.Errorf("unknown instruction %q: %w", verb, fs.ErrInvalid)
}

func decodeOutputInstructions(b *Builder, verb string, arg any) (Instruction, bool, error) {
	switch verb {
	case "say":
		if arg == nil {
			return b.Say(nil), true, nil
		}
		expr, err := decodeExpression(b, arg)
		if err != nil {
			return nil, true, err
		}
		return b.Say(expr), true, nil
	case "trace":
		text, _ := arg.(string)
		setting, err := ParseTraceSetting(text)
		if err != nil {
			return nil, true, err
		}
		return b.Trace(setting), true, nil
	case "nop":
		return b.Nop(), true, nil
	default:
		return nil, false, nil
	}
}

func decodeFlowInstructions(b *Builder, verb string, arg any) (Instruction, bool, error) {
	switch verb {
	case "call":
		node, ok := arg.(map[string]any)
		if !ok {
			name, isName := arg.(string)
			if !isName {
				return nil, true, fmt.Errorf("expected a routine name or mapping, found %T", arg)
			}
			return b.CallStmt(name), true, nil
		}
		name, args, err := decodeCallTarget(b, node)
		if err != nil {
			return nil, true, err
		}
		return b.CallStmt(name, args...), true, nil
	case "return", "exit":
		var expr Expression
		if arg != nil {
			decoded, err := decodeExpression(b, arg)
			if err != nil {
				return nil, true, err
			}
			expr = decoded
		}
		if verb == "exit" {
			return b.Exit(expr), true, nil
		}
		return b.Return(expr), true, nil
	case "label":
		name, ok := arg.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, true, fmt.Errorf("label needs a name")
		}
		return b.Label(strings.TrimSpace(name)), true, nil
	case "signal_on":
		node, ok := arg.(map[string]any)
		if !ok {
			return nil, true, fmt.Errorf("expected a mapping, found %T", arg)
		}
		condition, _ := node["condition"].(string)
		label, _ := node["name"].(string)
		condition = strings.ToUpper(strings.TrimSpace(condition))
		switch condition {
		case ConditionSyntax, ConditionHalt, ConditionError, ConditionNoValue:
		default:
			return nil, true, fmt.Errorf("unknown condition %q", condition)
		}
		if label == "" {
			label = condition
		}
		return b.SignalOn(condition, label), true, nil
	case "loop":
		node, ok := arg.(map[string]any)
		if !ok {
			return nil, true, fmt.Errorf("expected a mapping, found %T", arg)
		}
		count, err := decodeExpression(b, node["count"])
		if err != nil {
			return nil, true, fmt.Errorf("count: %w", err)
		}
		control, _ := node["control"].(string)
		rawBody, _ := node["body"].([]any)
		body := make([]map[string]any, 0, len(rawBody))
		for _, raw := range rawBody {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, true, fmt.Errorf("invalid loop clause %T", raw)
			}
			body = append(body, child)
		}
		instrs, err := decodeBody(b, body)
		if err != nil {
			return nil, true, err
		}
		return b.Loop(count, control, instrs...), true, nil
	default:
		return nil, false, nil
	}
}

func decodeVariableInstructions(b *Builder, verb string, arg any) (Instruction, bool, error) {
	switch verb {
	case "assign":
		node, ok := arg.(map[string]any)
		if !ok {
			return nil, true, fmt.Errorf("expected a mapping, found %T", arg)
		}
		name, _ := node["name"].(string)
		if strings.TrimSpace(name) == "" {
			return nil, true, fmt.Errorf("assignment needs a name")
		}
		expr, err := decodeExpression(b, node["value"])
		if err != nil {
			return nil, true, err
		}
		return b.Assign(strings.TrimSpace(name), expr), true, nil
	case "drop":
		var names []string
		switch v := arg.(type) {
		case string:
			names = strings.Fields(v)
		case []any:
			for _, raw := range v {
				name, ok := raw.(string)
				if !ok {
					return nil, true, fmt.Errorf("invalid variable name %v", raw)
				}
				names = append(names, name)
			}
		default:
			return nil, true, fmt.Errorf("expected variable names, found %T", arg)
		}
		return b.Drop(names...), true, nil
	default:
		return nil, false, nil
	}
}

func decodeCallTarget(b *Builder, node map[string]any) (string, []Expression, error) {
	name, _ := node["name"].(string)
	if name == "" {
		name, _ = node["call"].(string)
	}
	if strings.TrimSpace(name) == "" {
		return "", nil, fmt.Errorf("call needs a routine name")
	}
	rawArgs, _ := node["args"].([]any)
	args := make([]Expression, 0, len(rawArgs))
	for idx, raw := range rawArgs {
		arg, err := decodeExpression(b, raw)
		if err != nil {
			return "", nil, fmt.Errorf("argument %d: %w", idx+1, err)
		}
		args = append(args, arg)
	}
	return strings.TrimSpace(name), args, nil
}

func decodeExpression(b *Builder, raw any) (Expression, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("missing expression")
	case string:
		return b.Lit(v), nil
	case int, int64, float64, bool:
		return b.Lit(fmt.Sprint(v)), nil
	case map[string]any:
		switch {
		case v["lit"] != nil:
			return b.Lit(fmt.Sprint(v["lit"])), nil
		case v["var"] != nil:
			name, _ := v["var"].(string)
			if name == "" {
				return nil, fmt.Errorf("invalid variable %v", v["var"])
			}
			return b.Var(name), nil
		case v["call"] != nil:
			name, args, err := decodeCallTarget(b, v)
			if err != nil {
				return nil, err
			}
			return b.Call(name, args...), nil
		case v["op"] != nil:
			op, _ := v["op"].(string)
			if !validOperator(op) {
				return nil, fmt.Errorf("unknown operator %v", v["op"])
			}
			left, err := decodeExpression(b, v["left"])
			if err != nil {
				return nil, fmt.Errorf("left: %w", err)
			}
			right, err := decodeExpression(b, v["right"])
			if err != nil {
				return nil, fmt.Errorf("right: %w", err)
			}
			return b.Op(op, left, right), nil
		}
		return nil, fmt.Errorf("unknown expression %v: %w", v, fs.ErrInvalid)
	default:
		return nil, fmt.Errorf("invalid expression %T", raw)
	}
}
