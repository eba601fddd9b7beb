// Package interpreter runs routines built from clause graphs that live on a
// managed heap. Each program runs on an activity of the activity manager and
// touches the heap only while holding the execution lock. Calls are
// dispatched to labels, builtins and external routines (registered natives,
// compiled images, macrospace libraries and WebAssembly modules), with
// conditions propagating up the activation chain until a SIGNAL ON trap
// takes them.
package interpreter
