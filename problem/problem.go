// Package problem defines the plug-in contract the search engine is
// generic over. A concrete puzzle (see mazeproblem) implements Problem and
// every other package in this module is parametrised by it.
package problem

import "github.com/INLOpen/diskbfs/core"

// CompressedState is the fixed-width, byte-packed canonical form of a
// State. Implementations are expected to be small value types ([N]byte
// arrays) so that comparisons and hashing are plain byte-slice operations.
//
// Equality and ordering must compare payload bits only, never the
// subframe bits that Subframe/WithSubframe manipulate.
type CompressedState interface {
	// Payload returns the byte slice used for ordering, hashing, and
	// equality. For problems with K>1 the trailing subframe bits are
	// excluded from the comparison the engine performs, but Payload may
	// return the full backing array; callers needing subframe-stripped
	// equality use Less/Equal below.
	Payload() []byte

	// Less reports whether the payload of c is ordered before that of
	// other, ignoring subframe. This is the external-sort key order used
	// throughout.
	Less(other CompressedState) bool

	// Equal reports payload equality, ignoring subframe.
	Equal(other CompressedState) bool

	// Subframe returns the subframe bits carried in the trailing byte.
	Subframe() uint32

	// WithSubframe returns a copy of c with the subframe bits set to sub.
	WithSubframe(sub uint32) CompressedState

	// Bytes returns the full on-disk record, including subframe bits.
	Bytes() []byte
}

// Step is a single labelled transition in the state graph. Implementations
// need not be memory-efficient; they exist for human-readable solution
// output and for sizing MAX_STEPS-bounded buffers.
type Step interface {
	String() string
}

// EmitChild is the callback ExpandChildren invokes once per legal successor
// of state. delay must be > 0 (childFrame - parentFrame).
type EmitChild[S any, C CompressedState, T Step] func(parent S, parentFrame core.Frame, step T, child S, childFrame core.Frame)

// Problem is the fixed operation set the engine treats as a trait. S is the
// in-memory state representation, C its compressed form, T the step/action
// label. A build is monomorphised over exactly one Problem implementation;
// no vtable dispatch occurs in ExpandChildren's hot path because Go
// generics devirtualize these calls at compile time.
type Problem[S any, C CompressedState, T Step] interface {
	// FramesPerGroup is K, the number of consecutive frames folded into one
	// frame group. K=1 disables subframe packing.
	FramesPerGroup() uint32

	// CompressedSize is S, the on-disk record width in bytes.
	CompressedSize() int

	// CompressedBits is the payload bit count, excluding subframe bits.
	CompressedBits() int

	// MaxFrames bounds the frame axis; MaxSteps bounds solution length.
	MaxFrames() uint32
	MaxSteps() int

	// IsFinish reports whether s is a goal state.
	IsFinish(s S) bool

	// Compress maps a State to its canonical CompressedState.
	Compress(s S) C

	// DecodeCompressed reinterprets a raw on-disk record (exactly
	// CompressedSize() bytes, subframe bits included) as a C value. Every
	// disk-resident stream (open/merged/closing/closed/all) carries raw
	// bytes rather than materialized C values, so this is how the engine
	// recovers a typed CompressedState once it needs to call Decompress.
	DecodeCompressed(rec []byte) C

	// Decompress restores a State from its CompressedState. The result's
	// externally-observable behaviour (IsFinish, ExpandChildren) must match
	// the State that produced cs.
	Decompress(cs C) S

	// ExpandChildren invokes emit once per legal successor of s at frame.
	ExpandChildren(frame core.Frame, s S, emit EmitChild[S, C, T])

	// InitialStates returns up to 4 states valid at frame 0.
	InitialStates() []S

	// CanStatesBeParentAndChild is an optional conservative filter used by
	// the tracer to skip impossible parents before re-expanding. Problems
	// with no useful filter should always return true.
	CanStatesBeParentAndChild(parent, child C) bool

	// WriteSolution renders a discovered path human-readably. steps is in
	// forward order: steps[0] leaves initial, steps[len-1] reaches the goal.
	WriteSolution(initial S, steps []T) error

	// StepSize is the fixed on-disk width of an encoded Step, used by the
	// tracer's solution.bin checkpoint.
	StepSize() int

	// EncodeStep and DecodeStep convert a Step to/from its StepSize()-byte
	// on-disk form.
	EncodeStep(step T) []byte
	DecodeStep(rec []byte) T
}
