package engine

// DirectiveKind is the control-flow outcome of one node execution.
type DirectiveKind int

const (
	// DirectiveContinue advances to the next node in declaration order.
	DirectiveContinue DirectiveKind = iota
	// DirectiveJump transfers control to Target, forward or backward.
	DirectiveJump
	// DirectiveHalt ends the run as Halted (conditional dead-end).
	DirectiveHalt
	// DirectiveFail ends the run as Failed with Err.
	DirectiveFail
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveContinue:
		return "continue"
	case DirectiveJump:
		return "jump"
	case DirectiveHalt:
		return "halt"
	case DirectiveFail:
		return "fail"
	}
	return "unknown"
}

// Directive tells the engine where the run goes after a node.
type Directive struct {
	Kind   DirectiveKind
	Target string
	Err    error
}

// Continue advances linearly.
func Continue() Directive { return Directive{Kind: DirectiveContinue} }

// JumpTo branches to the node with the given id.
func JumpTo(nodeID string) Directive { return Directive{Kind: DirectiveJump, Target: nodeID} }

// Halt ends the run without error.
func Halt() Directive { return Directive{Kind: DirectiveHalt} }

// Fail ends the run with err.
func Fail(err error) Directive { return Directive{Kind: DirectiveFail, Err: err} }
