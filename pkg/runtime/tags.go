package runtime

import "rexx/interpreter-go/pkg/memory"

// Type tags for every managed type in the interpreter. The numbering is part
// of the image format; append new tags, never renumber.
const (
	TagNil memory.TypeTag = iota + 1
	TagString
	TagArray
	TagDirectory
	TagVariableDictionary
	TagWeakReference
	_
	_

	TagRoutine
	TagCode
	TagCallSite
	_

	TagAssignment
	TagSay
	TagCall
	TagReturn
	TagExit
	TagLabel
	TagTrace
	TagLoop
	TagSignalOn
	TagDrop
	TagNop
	_

	TagLiteral
	TagVariableRef
	TagFunctionCall
	TagBinaryOp
)
