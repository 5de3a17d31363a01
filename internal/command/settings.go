package command

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/joeycumines/behaviord/internal/config"
	"github.com/joeycumines/behaviord/internal/logging"
)

// settingsFlags are the overrides shared by commands that resolve Settings.
// Empty values defer to the configuration.
type settingsFlags struct {
	config  *config.Config
	command string

	logLevel  string
	logFile   string
	logFormat string
	assetsDir string
	evalMode  string
}

func newSettingsFlags(cfg *config.Config, command string) settingsFlags {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return settingsFlags{config: cfg, command: command}
}

func (f *settingsFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr, relative to <dir>/.behaviord")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
	fs.StringVar(&f.assetsDir, "dir", "", "Behavior file directory")
	fs.StringVar(&f.evalMode, "eval", "", "Property language: expr, js")
}

// resolve returns the command's settings with flag overrides applied.
func (f *settingsFlags) resolve() (config.Settings, error) {
	s, err := config.DefaultSchema().Settings(f.config, f.command)
	if err != nil {
		return s, err
	}
	override(&s.LogLevel, f.logLevel)
	override(&s.LogFile, f.logFile)
	override(&s.LogFormat, f.logFormat)
	override(&s.AssetsDir, f.assetsDir)
	override(&s.EvalMode, f.evalMode)
	if s.EvalMode != "expr" && s.EvalMode != "js" {
		return s, fmt.Errorf("unknown property language %q", s.EvalMode)
	}
	return s, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// newLogger builds the process logger from s, falling back to stderr.
func newLogger(s config.Settings, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:     s.LogLevel,
		Format:    s.LogFormat,
		File:      s.LogFile,
		Dir:       s.AssetsDir,
		MaxSizeMB: s.LogMaxSizeMB,
		MaxFiles:  s.LogMaxFiles,
	}, stderr)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
