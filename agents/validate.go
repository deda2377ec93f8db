package agents

import (
	"regexp"
	"strings"

	"github.com/tulparlabs/agentrun/types"
)

// agentIDPattern also guards the file layout: the agent id becomes the
// file name, so path characters are rejected outright.
var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks a definition for the failures a run could otherwise
// only hit mid-workflow. It returns the first problem found as a
// ValidationError naming the offending id.
func Validate(def *types.AgentDefinition) error {
	if def == nil {
		return types.NewError(types.ErrValidation, "agent definition is nil")
	}
	if !agentIDPattern.MatchString(def.AgentID) {
		return types.Errorf(types.ErrValidation, "agent id %q must match %s", def.AgentID, agentIDPattern)
	}
	if strings.TrimSpace(def.DataSchema.CollectionName) == "" {
		return types.Errorf(types.ErrValidation, "agent %s has no dataSchema.collectionName", def.AgentID)
	}

	if err := validateTools(def); err != nil {
		return err
	}
	if err := validateWorkflows(def); err != nil {
		return err
	}
	return validateSchedules(def)
}

func validateTools(def *types.AgentDefinition) error {
	seen := map[string]struct{}{}
	for i := range def.Tools {
		tool := &def.Tools[i]
		if tool.ToolID == "" {
			return types.Errorf(types.ErrValidation, "agent %s has a tool without a toolId", def.AgentID)
		}
		if _, dup := seen[tool.ToolID]; dup {
			return types.Errorf(types.ErrValidation, "agent %s declares tool %s twice", def.AgentID, tool.ToolID)
		}
		seen[tool.ToolID] = struct{}{}

		switch tool.Type.Normalize() {
		case types.ToolAPI, types.ToolDatabase, types.ToolRSS, types.ToolTelegram, types.ToolFunction:
		default:
			return types.Errorf(types.ErrValidation, "tool %s has unknown type %q", tool.ToolID, tool.Type)
		}
	}
	return nil
}

func validateWorkflows(def *types.AgentDefinition) error {
	workflowIDs := map[string]struct{}{}
	for i := range def.Workflows {
		wf := &def.Workflows[i]
		if wf.WorkflowID == "" {
			return types.Errorf(types.ErrValidation, "agent %s has a workflow without a workflowId", def.AgentID)
		}
		if _, dup := workflowIDs[wf.WorkflowID]; dup {
			return types.Errorf(types.ErrValidation, "agent %s declares workflow %s twice", def.AgentID, wf.WorkflowID)
		}
		workflowIDs[wf.WorkflowID] = struct{}{}

		if err := validateNodes(def, wf); err != nil {
			return err
		}
	}
	return nil
}

func validateNodes(def *types.AgentDefinition, wf *types.WorkflowSpec) error {
	nodeIDs := map[string]struct{}{}
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.NodeID == "" {
			return types.Errorf(types.ErrValidation, "workflow %s has a node without a nodeId", wf.WorkflowID)
		}
		if _, dup := nodeIDs[node.NodeID]; dup {
			return types.Errorf(types.ErrValidation, "workflow %s declares node %s twice", wf.WorkflowID, node.NodeID)
		}
		nodeIDs[node.NodeID] = struct{}{}
	}

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if !node.Type.Valid() {
			return types.Errorf(types.ErrValidation, "node %s in workflow %s has unknown type %q", node.NodeID, wf.WorkflowID, node.Type)
		}

		switch node.Type {
		case types.NodeLLMPrompt:
			if node.Prompt == "" {
				return missingField(wf, node, "prompt")
			}
			if node.OutputVariable == "" {
				return missingField(wf, node, "output_variable")
			}
		case types.NodeToolCall:
			if node.ToolID == "" {
				return missingField(wf, node, "toolId")
			}
			if _, ok := def.Tool(node.ToolID); !ok {
				return types.Errorf(types.ErrValidation, "node %s in workflow %s calls undeclared tool %s", node.NodeID, wf.WorkflowID, node.ToolID)
			}
		case types.NodeDataStore:
			if node.Action == "" {
				return missingField(wf, node, "action")
			}
			if node.Collection == "" && def.DataSchema.CollectionName == "" {
				return missingField(wf, node, "collection")
			}
		case types.NodeConditional:
			if node.Condition == "" {
				return missingField(wf, node, "condition")
			}
			if err := validateBranch(wf, node, node.OnTrue); err != nil {
				return err
			}
			if err := validateBranch(wf, node, node.OnFalse); err != nil {
				return err
			}
		case types.NodeSendResponse:
			if node.Message == "" {
				return missingField(wf, node, "message")
			}
		}
	}
	return nil
}

// validateBranch accepts an empty target (fallthrough), the halt
// keyword, or an existing node id.
func validateBranch(wf *types.WorkflowSpec, node *types.Node, target string) error {
	if target == "" || strings.EqualFold(target, "halt") {
		return nil
	}
	if _, found := wf.NodeByID(target); found == nil {
		return types.Errorf(types.ErrValidation, "node %s in workflow %s branches to unknown node %s", node.NodeID, wf.WorkflowID, target)
	}
	return nil
}

func validateSchedules(def *types.AgentDefinition) error {
	seen := map[string]struct{}{}
	for i := range def.Schedules {
		sched := &def.Schedules[i]
		if sched.ScheduleID == "" {
			return types.Errorf(types.ErrValidation, "agent %s has a schedule without a scheduleId", def.AgentID)
		}
		if _, dup := seen[sched.ScheduleID]; dup {
			return types.Errorf(types.ErrValidation, "agent %s declares schedule %s twice", def.AgentID, sched.ScheduleID)
		}
		seen[sched.ScheduleID] = struct{}{}

		if strings.TrimSpace(sched.Cron) == "" {
			return types.Errorf(types.ErrValidation, "schedule %s has no cron expression", sched.ScheduleID)
		}
		if _, ok := def.Workflow(sched.WorkflowID); !ok {
			return types.Errorf(types.ErrValidation, "schedule %s references unknown workflow %q", sched.ScheduleID, sched.WorkflowID)
		}
	}
	return nil
}

func missingField(wf *types.WorkflowSpec, node *types.Node, field string) error {
	return types.Errorf(types.ErrValidation, "node %s in workflow %s is missing required field %s", node.NodeID, wf.WorkflowID, field)
}
