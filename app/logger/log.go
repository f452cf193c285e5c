package logger

import (
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelRule assigns a level to the loggers whose name equals or matches name
type levelRule struct {
	name    string
	pattern glob.Glob
	level   zapcore.Level
}

func (r levelRule) matches(name string) bool {
	return r.name == name || (r.pattern != nil && r.pattern.Match(name))
}

type namedLogger struct {
	CtxLogger
	fields []zap.Field
}

var (
	mu           sync.Mutex
	root         *zap.Logger
	rules        []levelRule
	namedLoggers = make(map[string]namedLogger)
)

func init() {
	root, _ = zap.NewDevelopmentConfig().Build()
}

// SetDefault replaces the root logger, named loggers already handed out switch to it in place
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	rebuildNamed()
}

// SetNamedLevels replaces the per-name levels, names may be glob patterns like "guard*".
// The first matching rule wins. A named logger can't go below the level of the root logger,
// ApplyGlobal lowers the root to the minimum of all rules.
func SetNamedLevels(nls []NamedLevel) {
	mu.Lock()
	defer mu.Unlock()
	rules = rules[:0]
	for _, nl := range nls {
		lvl, err := zapcore.ParseLevel(nl.Level)
		if err != nil {
			continue
		}
		rule := levelRule{name: nl.Name, level: lvl}
		if g, err := glob.Compile(nl.Name); err == nil {
			rule.pattern = g
		}
		rules = append(rules, rule)
	}
	rebuildNamed()
}

func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root
}

func getLevel(name string) zapcore.Level {
	for _, r := range rules {
		if r.matches(name) {
			return r.level
		}
	}
	return root.Level()
}

func build(name string, fields []zap.Field) *zap.Logger {
	opts := []zap.Option{zap.Fields(fields...)}
	if lvl := getLevel(name); lvl > root.Level() {
		opts = append(opts, zap.IncreaseLevel(lvl))
	}
	return root.Named(name).WithOptions(opts...)
}

func rebuildNamed() {
	for name, nl := range namedLoggers {
		*nl.Logger = *build(name, nl.fields)
	}
}

// NewNamed returns the logger registered under name, creating it on first use.
// fields are attached only when the logger is created.
func NewNamed(name string, fields ...zap.Field) CtxLogger {
	mu.Lock()
	defer mu.Unlock()
	if nl, ok := namedLoggers[name]; ok {
		return nl.CtxLogger
	}
	nl := namedLogger{CtxLogger: CtxLogger{Logger: build(name, fields), name: name}, fields: fields}
	namedLoggers[name] = nl
	return nl.CtxLogger
}
