package model

import (
	"context"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	KindFile   = "file"
	KindSpeech = "speech"

	ProviderKeywords  = "keywords"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version       int           `json:"version" yaml:"version"` // fixed 0 for now
	Service       Service       `json:"service" yaml:"service"`
	Server        Server        `json:"server" yaml:"server"`
	Worker        Worker        `json:"worker" yaml:"worker"`
	Speech        Speech        `json:"speech" yaml:"speech"`
	Notifications Notifications `json:"notifications" yaml:"notifications"`
	Assistant     Assistant     `json:"assistant" yaml:"assistant"`
}

type Service struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Log     string `json:"log" yaml:"log"` // see log.Open
}

// Server configures the HTTP control boundary.
type Server struct {
	Listen    string    `json:"listen" yaml:"listen"`
	Token     string    `json:"token" yaml:"token"` // empty disables bearer auth
	RateLimit RateLimit `json:"rate_limit" yaml:"rate_limit"`
}

type RateLimit struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// Worker describes the supervised assistant process and its lifecycle bounds.
type Worker struct {
	Path           string            `json:"path" yaml:"path"` // empty => own executable
	Args           []string          `json:"args" yaml:"args"`
	Env            map[string]string `json:"env" yaml:"env"`
	Dir            string            `json:"dir" yaml:"dir"`
	ReadyLine      string            `json:"ready_line" yaml:"ready_line"`
	ReadyDelay     Duration          `json:"ready_delay" yaml:"ready_delay"`
	StartupTimeout Duration          `json:"startup_timeout" yaml:"startup_timeout"`
	GracePeriod    Duration          `json:"grace_period" yaml:"grace_period"`
	SettleDelay    Duration          `json:"settle_delay" yaml:"settle_delay"`
	HealthCheck    string            `json:"health_check" yaml:"health_check"`
}

type Speech struct {
	Synthesizer Synthesizer `json:"synthesizer" yaml:"synthesizer"`
	Player      Player      `json:"player" yaml:"player"`
	Tone        Tone        `json:"tone" yaml:"tone"`
	TempDir     string      `json:"temp_dir" yaml:"temp_dir"`
}

type Synthesizer struct {
	Path  string `json:"path" yaml:"path"`
	Model string `json:"model" yaml:"model"`
}

type Player struct {
	Path string   `json:"path" yaml:"path"`
	Args []string `json:"args" yaml:"args"`
}

type Tone struct {
	Path string `json:"path" yaml:"path"`
}

type Notifications struct {
	Default     string   `json:"default" yaml:"default"`
	Dir         string   `json:"dir" yaml:"dir"` // base for relative sound files
	JoinTimeout Duration `json:"join_timeout" yaml:"join_timeout"`
	Sounds      []Sound  `json:"sounds" yaml:"sounds"`
}

// Sound is a single catalog entry, either a prerecorded file or a phrase
// spoken through the synthesizer.
type Sound struct {
	ID          string  `json:"id" yaml:"id"`
	Description string  `json:"description" yaml:"description"`
	Kind        string  `json:"kind" yaml:"kind"` // "file" | "speech"
	File        string  `json:"file,omitempty" yaml:"file,omitempty"`
	Text        string  `json:"text,omitempty" yaml:"text,omitempty"`
	Duration    float64 `json:"duration" yaml:"duration"` // seconds
}

type Assistant struct {
	Provider  string   `json:"provider" yaml:"provider"`
	Model     string   `json:"model" yaml:"model"`
	APIKey    string   `json:"api_key" yaml:"api_key"`
	Input     string   `json:"input" yaml:"input"`
	Context   string   `json:"context" yaml:"context"`
	ExitWords []string `json:"exit_words" yaml:"exit_words"`
	Farewell  string   `json:"farewell" yaml:"farewell"`
}

// Duration is a Go duration string, validated by the schema.
type Duration string

func (d Duration) Duration() (time.Duration, error) {
	return time.ParseDuration(string(d))
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns the configuration with every schema default applied.
func DefaultConfig(_ context.Context) Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(err)
	}
	return *cfg
}
