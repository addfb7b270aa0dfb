package rules

import (
	"log/slog"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ncode/mattermost-courier/pkg/notify"
)

// CompiledRule is one compiled mute expression.
type CompiledRule struct {
	Source  string
	Program *vm.Program
}

// Muter suppresses notification requests matching any of its rules.
// Rules are boolean expressions over the request, e.g.
// `Title == "heartbeat"` or `Message contains "debug"`.
type Muter struct {
	logger *slog.Logger
	rules  []CompiledRule
}

// New compiles the given rule strings. Rules that fail to compile are
// logged and skipped; they never block delivery.
func New(ruleStrings []string, logger *slog.Logger) *Muter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var compiled []CompiledRule
	for _, ruleStr := range ruleStrings {
		program, err := expr.Compile(ruleStr, expr.Env(&notify.Request{}))
		if err != nil {
			logger.Error("Failed to compile rule", "rule", ruleStr, "error", err)
			continue
		}
		compiled = append(compiled, CompiledRule{Source: ruleStr, Program: program})
	}

	return &Muter{logger: logger, rules: compiled}
}

// Muted reports whether any rule matches the request. With no rules
// nothing is muted.
func (m *Muter) Muted(req *notify.Request) bool {
	for _, rule := range m.rules {
		output, err := expr.Run(rule.Program, req)
		if err != nil {
			m.logger.Error("Error evaluating rule", "rule", rule.Source, "error", err)
			continue
		}
		if match, ok := output.(bool); ok && match {
			return true
		}
	}
	return false
}
