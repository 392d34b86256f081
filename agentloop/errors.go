package agentloop

import "errors"

// Tool-level errors. The executor turns these into error ToolResults so the
// model can react; they never abort the loop.
var (
	ErrUnknownTool        = errors.New("unknown tool")
	ErrInvalidArguments   = errors.New("invalid arguments")
	ErrPathEscape         = errors.New("path escapes working directory")
	ErrDeniedCommand      = errors.New("command denied by policy")
	ErrTimeout            = errors.New("timed out")
	ErrTooManyItems       = errors.New("too many todo items")
	ErrMultipleInProgress = errors.New("only one todo item can be in_progress")
	ErrSubagentFailure    = errors.New("subagent failed")
	ErrUnknownAgentType   = errors.New("unknown agent type")
	ErrUnknownSkill       = errors.New("unknown skill")
)

// Loop-level errors, returned to the caller of Agent.Run.
var (
	ErrTransportFailure      = errors.New("model call failed")
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")
)

// Construction errors.
var (
	ErrDuplicateTool       = errors.New("tool already registered")
	ErrUnpairedToolRequest = errors.New("tool requests and results are not paired")
	ErrInvalidTurn         = errors.New("invalid turn")
)
