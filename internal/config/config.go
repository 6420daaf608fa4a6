package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	PrimaryHz    int          `json:"primary_hz"`
	ManagementHz int          `json:"management_hz"`
	LogDepth     int          `json:"log_depth"`
	DebugLevel   int          `json:"debug_level"`
	Ack          AckConfig    `json:"ack"`
	Agents       AgentsConfig `json:"agents"`
}

// AckConfig holds the acknowledgment packet constants.
type AckConfig struct {
	TypeTag      uint8 `json:"type_tag"`
	RunPrepareID uint8 `json:"run_prepare_id"`
	EndRunID     uint8 `json:"end_run_id"`
}

// AgentsConfig describes the simulated agent group.
type AgentsConfig struct {
	Count   int `json:"count"`
	Latency int `json:"latency"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse(nil, "default.cue")
	if err != nil {
		// The embedded schema is static; a failure here is a build defect.
		panic(fmt.Sprintf("config: embedded schema invalid: %v", err))
	}
	return cfg
}

// Load reads and validates a CUE configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema. filename is only used in
// error positions. Empty source yields the defaults.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) == 0 {
		src = []byte("{}")
	}
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := def.Unify(user)
	if err := v.Validate(); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks relations the schema cannot express per field.
func (c Config) validate() error {
	if c.Ack.RunPrepareID == c.Ack.EndRunID {
		return &ConfigError{
			Field:   "ack",
			Message: fmt.Sprintf("run_prepare_id and end_run_id must differ (both 0x%02x)", c.Ack.RunPrepareID),
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &ConfigError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &ConfigError{Field: "cue", Message: first.Error()}
}
