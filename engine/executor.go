package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// LLMClient generates text for llm_prompt nodes. Implementations wrap a
// provider plus the agent's model configuration concerns (history
// trimming, token budgets).
type LLMClient interface {
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
}

// GenerateRequest is one completion request built from the agent's
// system prompt, the session history, and the node's substituted prompt.
type GenerateRequest struct {
	Config       types.LLMConfig
	SystemPrompt string
	History      []types.Message
	Prompt       string
}

// ToolInvoker dispatches one tool invocation. Exactly one external call
// per Invoke; retries stay in the node executor so policy lives in one
// place.
type ToolInvoker interface {
	Invoke(ctx context.Context, call *ToolRequest) (map[string]any, error)
}

// ToolRequest carries everything a tool handler needs for one call.
type ToolRequest struct {
	Agent  *types.AgentDefinition
	Spec   *types.ToolSpec
	Params map[string]any
	UserID string
}

// DataStore executes data_store node operations against the agent's
// private collection, always scoped by user id.
type DataStore interface {
	Execute(ctx context.Context, op *DataOp) (map[string]any, error)
}

// DataOp is one document operation issued by a data_store node.
type DataOp struct {
	Collection string
	UserID     string
	Action     string
	Payload    map[string]any
}

// ResponseSink delivers send_response output to the triggering channel.
type ResponseSink interface {
	Deliver(ctx context.Context, userID, message string) error
}

// secretKeys are stripped from outputs when sanitize_output is set.
var secretKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"credential":    {},
}

type nodeExecutor struct {
	llm      LLMClient
	tools    ToolInvoker
	store    DataStore
	sink     ResponseSink
	recorder Recorder
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// Execute runs one node against the run state, applying validation,
// timeout, and retry policy, and returns the node's output with a
// control-flow directive. Retries use the node's fixed retry_delay;
// fatal errors and non-retryable kinds skip remaining attempts.
func (ex *nodeExecutor) Execute(ctx context.Context, run *runState, node *types.Node) (any, Directive) {
	started := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		output, directive, err := ex.dispatch(ctx, run, node)
		if err == nil {
			ex.record(ctx, run, node, started, attempts, output, nil)
			return output, directive
		}
		lastErr = err

		if types.IsFatal(err) {
			ex.logger.Error("node failed with fatal error",
				zap.String("run_id", run.runID),
				zap.String("node_id", node.NodeID),
				zap.Error(err))
			ex.record(ctx, run, node, started, attempts, nil, err)
			return nil, Fail(err)
		}

		if attempt >= node.MaxRetries || !types.IsRetryable(err) {
			break
		}

		run.retries++
		ex.logger.Warn("node failed, retrying",
			zap.String("run_id", run.runID),
			zap.String("node_id", node.NodeID),
			zap.Int("attempt", attempts),
			zap.Int("max_retries", node.MaxRetries),
			zap.Duration("retry_delay", node.RetryDelayDuration()),
			zap.Error(err))

		if serr := ex.sleep(ctx, node.RetryDelayDuration()); serr != nil {
			cancelErr := types.NewError(types.ErrInternal, "run cancelled during retry delay").WithCause(serr)
			ex.record(ctx, run, node, started, attempts, nil, cancelErr)
			return nil, Fail(cancelErr)
		}
	}

	ex.record(ctx, run, node, started, attempts, nil, lastErr)

	if node.ContinueOnError {
		ex.logger.Warn("node failed, continuing with error marker",
			zap.String("run_id", run.runID),
			zap.String("node_id", node.NodeID),
			zap.Error(lastErr))
		return errorMarker(lastErr), Continue()
	}
	return nil, Fail(lastErr)
}

// errorMarker is the explicit absent-value a continue_on_error node
// leaves in the context so downstream nodes can detect the failure.
func errorMarker(err error) map[string]any {
	m := map[string]any{
		"failed": true,
		"error":  err.Error(),
	}
	if code := types.GetCode(err); code != "" {
		m["error_code"] = string(code)
	}
	return m
}

func (ex *nodeExecutor) record(ctx context.Context, run *runState, node *types.Node, started time.Time, attempts int, output any, err error) {
	exec := &NodeExecution{
		RunID:     run.runID,
		AgentID:   run.def.AgentID,
		NodeID:    node.NodeID,
		NodeType:  node.Type,
		Attempts:  attempts,
		Retries:   attempts - 1,
		Output:    TruncateOutput(output),
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	switch {
	case err != nil:
		exec.Outcome = OutcomeError
		exec.Error = err.Error()
		exec.ErrorCode = string(types.GetCode(err))
	case attempts > 1:
		exec.Outcome = OutcomeRetried
	default:
		exec.Outcome = OutcomeSuccess
	}
	ex.recorder.RecordNode(ctx, exec)
}

// dispatch executes the node body once, inside the node's timeout
// window when one is configured.
func (ex *nodeExecutor) dispatch(ctx context.Context, run *runState, node *types.Node) (any, Directive, error) {
	timeout := node.TimeoutDuration()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, directive, err := ex.dispatchByType(ctx, run, node)
	if err != nil && timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		err = types.Errorf(types.ErrTimeout, "node %s timed out after %s", node.NodeID, timeout).WithCause(err)
	}
	return output, directive, err
}

func (ex *nodeExecutor) dispatchByType(ctx context.Context, run *runState, node *types.Node) (any, Directive, error) {
	switch node.Type {
	case types.NodeLLMPrompt:
		out, err := ex.runLLMPrompt(ctx, run, node)
		return out, Continue(), err
	case types.NodeToolCall:
		out, err := ex.runToolCall(ctx, run, node)
		return out, Continue(), err
	case types.NodeDataStore:
		out, err := ex.runDataStore(ctx, run, node)
		return out, Continue(), err
	case types.NodeConditional:
		return ex.runConditional(run, node)
	case types.NodeSendResponse:
		out, err := ex.runSendResponse(ctx, run, node)
		return out, Continue(), err
	default:
		return nil, Continue(), types.Errorf(types.ErrValidation, "node %s has unknown type %q", node.NodeID, node.Type)
	}
}

func (ex *nodeExecutor) runLLMPrompt(ctx context.Context, run *runState, node *types.Node) (any, error) {
	if ex.llm == nil {
		return nil, types.NewError(types.ErrConfig, "no llm client configured")
	}
	prompt := run.vars.SubstituteString(node.Prompt)
	if err := checkResolved(node, "prompt", prompt); err != nil {
		return nil, err
	}

	text, err := ex.llm.Generate(ctx, &GenerateRequest{
		Config:       run.def.LLMConfig,
		SystemPrompt: run.def.SystemPrompt,
		History:      run.history,
		Prompt:       prompt,
	})
	if err != nil {
		return nil, wrapErr(err, types.ErrProvider, "llm generation failed")
	}

	marker, merr := FindToolCall(text)
	if merr != nil {
		// Broken marker syntax degrades to plain text output.
		ex.logger.Warn("malformed tool call marker in llm output",
			zap.String("run_id", run.runID),
			zap.String("node_id", node.NodeID),
			zap.Error(merr))
		return text, nil
	}
	if marker == nil {
		return text, nil
	}
	return ex.interceptToolCall(ctx, run, node, text, marker)
}

// interceptToolCall handles the one-shot mid-generation tool request:
// invoke the tool, feed its result back to the model, and combine the
// pre-marker text with the continuation. One interception per prompt
// node; a marker in the continuation is left as literal text.
func (ex *nodeExecutor) interceptToolCall(ctx context.Context, run *runState, node *types.Node, text string, marker *ToolCallMarker) (any, error) {
	spec, ok := run.def.Tool(marker.ToolID)
	if !ok {
		return nil, types.Errorf(types.ErrUnknownTool, "llm requested unknown tool %q", marker.ToolID)
	}
	if ex.tools == nil {
		return nil, types.NewError(types.ErrConfig, "no tool invoker configured")
	}

	ex.logger.Debug("intercepted tool call marker",
		zap.String("run_id", run.runID),
		zap.String("node_id", node.NodeID),
		zap.String("tool_id", marker.ToolID))

	result, err := ex.tools.Invoke(ctx, &ToolRequest{
		Agent:  run.def,
		Spec:   spec,
		Params: marker.Params,
		UserID: run.userID,
	})
	if err != nil {
		return nil, err
	}

	splice := "Tool " + marker.ToolID + " returned: " + renderValue(result) +
		"\nContinue your answer using this result. Respond with the final text only."
	continuation, err := ex.llm.Generate(ctx, &GenerateRequest{
		Config:       run.def.LLMConfig,
		SystemPrompt: run.def.SystemPrompt,
		History:      append(append([]types.Message{}, run.history...), types.NewMessage(types.RoleAssistant, text)),
		Prompt:       splice,
	})
	if err != nil {
		return nil, wrapErr(err, types.ErrProvider, "llm continuation failed")
	}

	before := strings.TrimSpace(text[:marker.Start])
	if before == "" {
		return strings.TrimSpace(continuation), nil
	}
	return before + "\n" + strings.TrimSpace(continuation), nil
}

func (ex *nodeExecutor) runToolCall(ctx context.Context, run *runState, node *types.Node) (any, error) {
	spec, ok := run.def.Tool(node.ToolID)
	if !ok {
		return nil, types.Errorf(types.ErrUnknownTool, "node %s references unknown tool %q", node.NodeID, node.ToolID)
	}
	if ex.tools == nil {
		return nil, types.NewError(types.ErrConfig, "no tool invoker configured")
	}

	params, _ := run.vars.Substitute(node.Params).(map[string]any)
	if node.ValidateInput {
		for key, val := range params {
			if s, ok := val.(string); ok {
				if err := checkResolvedValue(node, "param "+key, s); err != nil {
					return nil, err
				}
			}
		}
	}

	result, err := ex.tools.Invoke(ctx, &ToolRequest{
		Agent:  run.def,
		Spec:   spec,
		Params: params,
		UserID: run.userID,
	})
	if err != nil {
		return nil, err
	}
	if node.SanitizeOutput {
		result = sanitizeOutput(result)
	}
	return result, nil
}

// dataStoreActions maps node action aliases to canonical store
// operation names.
var dataStoreActions = map[string]string{
	"insert":               "insert_document",
	"append":               "insert_document",
	"insert_document":      "insert_document",
	"update":               "update_document",
	"update_document":      "update_document",
	"find":                 "find_documents",
	"find_documents":       "find_documents",
	"delete":               "delete_document",
	"delete_document":      "delete_document",
	"count":                "count_documents",
	"count_documents":      "count_documents",
	"aggregate":            "aggregate",
	"create_collection":    "create_collection",
	"get_collection_stats": "get_collection_stats",
}

func (ex *nodeExecutor) runDataStore(ctx context.Context, run *runState, node *types.Node) (any, error) {
	collection := node.Collection
	if collection == "" {
		collection = run.def.DataSchema.CollectionName
	}
	if collection == "" {
		return nil, types.Errorf(types.ErrValidation, "node %s has no target collection", node.NodeID)
	}

	action, ok := dataStoreActions[strings.ToLower(strings.TrimSpace(node.Action))]
	if !ok {
		return nil, types.Errorf(types.ErrToolUnsupportedOp, "node %s uses unsupported action %q", node.NodeID, node.Action)
	}
	if ex.store == nil {
		return nil, types.NewError(types.ErrConfig, "no data store configured")
	}

	payload, _ := run.vars.Substitute(node.Data).(map[string]any)
	if node.ValidateInput {
		for key, val := range payload {
			if s, ok := val.(string); ok {
				if err := checkResolvedValue(node, "field "+key, s); err != nil {
					return nil, err
				}
			}
		}
	}

	result, err := ex.store.Execute(ctx, &DataOp{
		Collection: collection,
		UserID:     run.userID,
		Action:     action,
		Payload:    payload,
	})
	if err != nil {
		return nil, wrapErr(err, types.ErrStore, "data store operation failed")
	}
	if node.SanitizeOutput {
		result = sanitizeOutput(result)
	}
	return result, nil
}

func (ex *nodeExecutor) runConditional(run *runState, node *types.Node) (any, Directive, error) {
	if strings.TrimSpace(node.Condition) == "" {
		return nil, Continue(), types.Errorf(types.ErrValidation, "node %s has no condition", node.NodeID)
	}

	value, err := EvalCondition(node.Condition, run.vars.Resolve)
	if err != nil {
		return nil, Continue(), err
	}

	target := node.OnFalse
	if value {
		target = node.OnTrue
	}
	switch target {
	case "":
		return value, Continue(), nil
	case "halt":
		return value, Halt(), nil
	default:
		return value, JumpTo(target), nil
	}
}

func (ex *nodeExecutor) runSendResponse(ctx context.Context, run *runState, node *types.Node) (any, error) {
	message := run.vars.SubstituteString(node.Message)
	if err := checkResolved(node, "message", message); err != nil {
		return nil, err
	}
	if ex.sink == nil {
		return nil, types.NewError(types.ErrConfig, "no response sink configured")
	}

	if err := ex.sink.Deliver(ctx, run.userID, message); err != nil {
		return nil, wrapErr(err, types.ErrToolDeliveryFailed, "response delivery failed")
	}
	return message, nil
}

// checkResolved enforces validate_input on a node's primary field.
func checkResolved(node *types.Node, field, value string) error {
	if !node.ValidateInput {
		if strings.TrimSpace(value) == "" {
			return types.Errorf(types.ErrValidation, "node %s has an empty %s", node.NodeID, field)
		}
		return nil
	}
	return checkResolvedValue(node, field, value)
}

func checkResolvedValue(node *types.Node, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return types.Errorf(types.ErrValidation, "node %s %s is empty", node.NodeID, field)
	}
	if HasUnresolvedToken(value) {
		return types.Errorf(types.ErrValidation, "node %s %s has unresolved variables", node.NodeID, field)
	}
	return nil
}

// wrapErr passes typed errors through and wraps everything else under
// the given code.
func wrapErr(err error, code types.ErrorCode, msg string) error {
	if types.AsError(err) != nil {
		return err
	}
	return types.NewError(code, msg).WithCause(err)
}

// sanitizeOutput strips nulls and secret-looking keys from a tool or
// store result before it lands in the context.
func sanitizeOutput(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			continue
		}
		switch t := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = sanitizeOutput(t)
		case []any:
			cleaned := make([]any, 0, len(t))
			for _, e := range t {
				if e == nil {
					continue
				}
				if em, ok := e.(map[string]any); ok {
					cleaned = append(cleaned, sanitizeOutput(em))
					continue
				}
				cleaned = append(cleaned, e)
			}
			out[k] = cleaned
		default:
			out[k] = v
		}
	}
	return out
}
