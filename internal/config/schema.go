package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// ConfigOption declares a single option.
type ConfigOption struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options, or a command name.
	Section string
	// EnvVar overrides the option when set, or "".
	EnvVar string
}

// ConfigSchema is the set of known options. It drives validation, typed
// resolution and the "config schema" help text.
type ConfigSchema struct {
	options   []*ConfigOption
	byKey     map[string]*ConfigOption
	bySection map[string]map[string]*ConfigOption
}

// NewSchema returns an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{
		byKey:     make(map[string]*ConfigOption),
		bySection: make(map[string]map[string]*ConfigOption),
	}
}

// Register adds opt. A later registration of the same key wins.
func (s *ConfigSchema) Register(opts ...ConfigOption) {
	for _, opt := range opts {
		ref := new(ConfigOption)
		*ref = opt
		s.options = append(s.options, ref)
		if opt.Section == "" {
			s.byKey[opt.Key] = ref
			continue
		}
		if s.bySection[opt.Section] == nil {
			s.bySection[opt.Section] = make(map[string]*ConfigOption)
		}
		s.bySection[opt.Section][opt.Key] = ref
	}
}

// Lookup returns the option for key in section, falling back to the global
// option of that key. It returns nil for unknown keys.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	if sec, ok := s.bySection[section]; ok && section != "" {
		if opt := sec[key]; opt != nil {
			return opt
		}
	}
	return s.byKey[key]
}

// anySection finds key globally or, since sections fall back to global
// values, in any section.
func (s *ConfigSchema) anySection(key string) *ConfigOption {
	if opt := s.byKey[key]; opt != nil {
		return opt
	}
	for _, sec := range s.Sections() {
		if opt := s.bySection[sec][key]; opt != nil {
			return opt
		}
	}
	return nil
}

// Options returns the options of section ("" for global), in registration
// order.
func (s *ConfigSchema) Options(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of command sections.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.bySection))
	for sec := range s.bySection {
		out = append(out, sec)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the effective value of key for command: the option's
// environment variable, then the command section, then the global value,
// then the default.
func (s *ConfigSchema) Resolve(c *Config, command, key string) string {
	opt := s.Lookup(command, key)
	if opt == nil {
		opt = s.anySection(key)
	}
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetCommandOption(command, key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig returns sorted, human readable issues with c: unknown
// options and values that do not parse as their declared type.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	for key, value := range c.Global {
		opt := s.anySection(key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
		} else if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
			} else if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	sort.Strings(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	var err error
	switch t {
	case TypeString, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

// FormatHelp lists every option, grouped by section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.Options(""); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.Options(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-28s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

// DefaultSchema declares every behaviord option.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.Register(
		ConfigOption{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "BEHAVIORD_LOG_LEVEL"},
		ConfigOption{Key: "log.format", Type: TypeString, Default: "text", Description: "Log format: text, json"},
		ConfigOption{Key: "log.file", Type: TypeString, Description: "Log file path, relative to <assets.dir>/.behaviord; stderr when empty", EnvVar: "BEHAVIORD_LOG_FILE"},
		ConfigOption{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Max log file size in MB before rotation"},
		ConfigOption{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Max number of rotated log files"},

		ConfigOption{Key: "assets.dir", Type: TypeString, Default: "assets/behaviors", Description: "Directory of behavior files", EnvVar: "BEHAVIORD_ASSETS_DIR"},
		ConfigOption{Key: "assets.ext", Type: TypeString, Default: "bht.yaml", Description: "Behavior file suffix"},

		ConfigOption{Key: "eval.mode", Type: TypeString, Default: "expr", Description: "Property language: expr, js"},
		ConfigOption{Key: "world.max-nodes", Type: TypeInt, Default: "0", Description: "Max live node handles, 0 for unlimited"},

		ConfigOption{Key: "server.addr", Section: "serve", Type: TypeString, Default: "127.0.0.1:7070", Description: "WebSocket listen address", EnvVar: "BEHAVIORD_ADDR"},
		ConfigOption{Key: "server.tick", Section: "serve", Type: TypeDuration, Default: "16ms", Description: "Tick interval"},
		ConfigOption{Key: "server.retry-delay", Section: "serve", Type: TypeDuration, Default: "1s", Description: "Delay before a pending request is retried"},
		ConfigOption{Key: "server.reload-interval", Section: "serve", Type: TypeDuration, Default: "2s", Description: "Asset directory scan interval, 0 disables hot reload"},
		ConfigOption{Key: "server.queue-size", Section: "serve", Type: TypeInt, Default: "256", Description: "Capacity of each message channel"},

		ConfigOption{Key: "run.tick", Section: "run", Type: TypeDuration, Default: "100ms", Description: "Simulated time per tick"},
		ConfigOption{Key: "run.max-ticks", Section: "run", Type: TypeInt, Default: "1000", Description: "Give up after this many ticks"},
	)
	return s
}

// Settings are the resolved, typed options of one command.
type Settings struct {
	LogLevel     string
	LogFormat    string
	LogFile      string
	LogMaxSizeMB int
	LogMaxFiles  int

	AssetsDir string
	AssetsExt string

	EvalMode string
	MaxNodes int

	Addr           string
	Tick           time.Duration
	RetryDelay     time.Duration
	ReloadInterval time.Duration
	QueueSize      int

	RunTick     time.Duration
	RunMaxTicks int
}

// Settings resolves every option of s for command. Values that do not parse
// are an error.
func (s *ConfigSchema) Settings(c *Config, command string) (Settings, error) {
	r := resolver{schema: s, config: c, command: command}
	out := Settings{
		LogLevel:       r.str("log.level"),
		LogFormat:      r.str("log.format"),
		LogFile:        r.str("log.file"),
		LogMaxSizeMB:   r.int("log.max-size-mb"),
		LogMaxFiles:    r.int("log.max-files"),
		AssetsDir:      r.str("assets.dir"),
		AssetsExt:      r.str("assets.ext"),
		EvalMode:       r.str("eval.mode"),
		MaxNodes:       r.int("world.max-nodes"),
		Addr:           r.str("server.addr"),
		Tick:           r.duration("server.tick"),
		RetryDelay:     r.duration("server.retry-delay"),
		ReloadInterval: r.duration("server.reload-interval"),
		QueueSize:      r.int("server.queue-size"),
		RunTick:        r.duration("run.tick"),
		RunMaxTicks:    r.int("run.max-ticks"),
	}
	if r.err != nil {
		return Settings{}, r.err
	}
	switch out.EvalMode {
	case "expr", "js":
	default:
		return Settings{}, fmt.Errorf("config: eval.mode: unknown language %q", out.EvalMode)
	}
	return out, nil
}

type resolver struct {
	schema  *ConfigSchema
	config  *Config
	command string
	err     error
}

func (r *resolver) str(key string) string {
	return r.schema.Resolve(r.config, r.command, key)
}

func (r *resolver) int(key string) int {
	v := r.str(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("config: %s: expected int, got %q", key, v)
	}
	return n
}

func (r *resolver) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("config: %s: expected duration, got %q", key, v)
	}
	return d
}
