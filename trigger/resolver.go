package trigger

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// Trigger pattern grammar. A workflow's trigger is an exact phrase
// unless it carries one of these prefixes.
const (
	containsPrefix = "contains:"
	regexPrefix    = "regex:"
)

// DefaultWorkflowID is the catch-all workflow used when no trigger
// matches an inbound message.
const DefaultWorkflowID = "default"

// Resolver maps inbound messages to workflows. Workflows are checked
// in declaration order and the first matching trigger wins; exact and
// contains matching is case-insensitive, regex patterns are taken as
// written. Compiled patterns are cached across calls.
type Resolver struct {
	mu     sync.Mutex
	cache  map[string]*regexp.Regexp
	broken map[string]struct{}
	logger *zap.Logger
}

// NewResolver creates a resolver. A nil logger is replaced with a
// no-op one.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:  make(map[string]*regexp.Regexp),
		broken: make(map[string]struct{}),
		logger: logger.With(zap.String("component", "trigger_resolver")),
	}
}

// Resolve picks the workflow for a message. When no trigger matches it
// falls back to the agent's "default" workflow; the second return is
// false only when there is no match and no fallback, in which case the
// message belongs to plain conversation outside any workflow.
func (r *Resolver) Resolve(def *types.AgentDefinition, message string) (*types.WorkflowSpec, bool) {
	if def == nil {
		return nil, false
	}
	trimmed := strings.TrimSpace(message)

	for i := range def.Workflows {
		wf := &def.Workflows[i]
		if wf.Trigger == "" || wf.WorkflowID == DefaultWorkflowID {
			continue
		}
		if r.matches(wf.Trigger, trimmed) {
			r.logger.Debug("trigger matched",
				zap.String("agent_id", def.AgentID),
				zap.String("workflow_id", wf.WorkflowID),
				zap.String("trigger", wf.Trigger))
			return wf, true
		}
	}

	if wf, ok := def.Workflow(DefaultWorkflowID); ok {
		return wf, true
	}
	return nil, false
}

func (r *Resolver) matches(trigger, message string) bool {
	switch {
	case strings.HasPrefix(trigger, containsPrefix):
		needle := strings.TrimSpace(strings.TrimPrefix(trigger, containsPrefix))
		if needle == "" {
			return false
		}
		return strings.Contains(strings.ToLower(message), strings.ToLower(needle))

	case strings.HasPrefix(trigger, regexPrefix):
		pattern := strings.TrimSpace(strings.TrimPrefix(trigger, regexPrefix))
		re := r.compile(pattern)
		return re != nil && re.MatchString(message)

	default:
		return strings.EqualFold(strings.TrimSpace(trigger), message)
	}
}

// compile returns the cached pattern, compiling on first use. A
// pattern that fails to compile is warned about once and never matches.
func (r *Resolver) compile(pattern string) *regexp.Regexp {
	r.mu.Lock()
	defer r.mu.Unlock()

	if re, ok := r.cache[pattern]; ok {
		return re
	}
	if _, bad := r.broken[pattern]; bad {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		r.broken[pattern] = struct{}{}
		r.logger.Warn("trigger pattern does not compile",
			zap.String("pattern", pattern), zap.Error(err))
		return nil
	}
	r.cache[pattern] = re
	return re
}
