package interpreter

import "rexx/interpreter-go/pkg/memory"

// EvalStack holds intermediate values while a clause is evaluated. Values
// on it are roots; the activation clears it after every clause.
type EvalStack struct {
	values []memory.Object
}

func (s *EvalStack) Push(obj memory.Object) {
	s.values = append(s.values, obj)
}

// Pop discards the top n values.
func (s *EvalStack) Pop(n int) {
	if n > len(s.values) {
		n = len(s.values)
	}
	for idx := len(s.values) - n; idx < len(s.values); idx++ {
		s.values[idx] = nil
	}
	s.values = s.values[:len(s.values)-n]
}

func (s *EvalStack) Top() memory.Object {
	if len(s.values) == 0 {
		return nil
	}
	return s.values[len(s.values)-1]
}

func (s *EvalStack) Len() int { return len(s.values) }

// Arg returns argument idx (zero based) of the argc values on top of the
// stack.
func (s *EvalStack) Arg(argc, idx int) memory.Object {
	if idx < 0 || idx >= argc || argc > len(s.values) {
		return nil
	}
	return s.values[len(s.values)-argc+idx]
}

// Args copies the argc values on top of the stack.
func (s *EvalStack) Args(argc int) []memory.Object {
	if argc > len(s.values) {
		argc = len(s.values)
	}
	return append([]memory.Object(nil), s.values[len(s.values)-argc:]...)
}

func (s *EvalStack) Clear() {
	s.Pop(len(s.values))
}

func (s *EvalStack) markRoots(mark func(memory.Object)) {
	for _, obj := range s.values {
		mark(obj)
	}
}
