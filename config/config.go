// Package config loads the optional settings file of the grab console.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/edaniels/framegrab"
	"github.com/edaniels/framegrab/buffer"
	"github.com/edaniels/framegrab/codec"
	"github.com/edaniels/framegrab/console"
	"github.com/edaniels/framegrab/sink"
)

// OutputSettings describe where frames are saved.
type OutputSettings struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	Retain bool   `yaml:"retain"`
}

// PoolSettings describe the receiving buffers.
type PoolSettings struct {
	Count        int    `yaml:"count"`
	Layout       string `yaml:"layout"` // scatter-gather or contiguous
	FragmentSize int    `yaml:"fragment_size"`
}

// ConsoleSettings describe the command loop.
type ConsoleSettings struct {
	QuitToken   string        `yaml:"quit_token"`
	SnapTimeout time.Duration `yaml:"snap_timeout"`
}

// DisplaySettings select the displays frames are shown on.
type DisplaySettings struct {
	Terminal       bool   `yaml:"terminal"`
	TerminalWidth  int    `yaml:"terminal_width"`
	TerminalHeight int    `yaml:"terminal_height"`
	Preview        string `yaml:"preview"` // path of a preview image, empty for none
	Stats          bool   `yaml:"stats"`
	ViewerPort     int    `yaml:"viewer_port"` // 0 disables the HTTP viewer
}

// Settings aggregate everything a run can be configured with.
type Settings struct {
	Server   string          `yaml:"server"`
	Index    int             `yaml:"index"`
	CCF      string          `yaml:"ccf"`
	Simulate bool            `yaml:"simulate"`
	Output   OutputSettings  `yaml:"output"`
	Pool     PoolSettings    `yaml:"pool"`
	Console  ConsoleSettings `yaml:"console"`
	Display  DisplaySettings `yaml:"display"`
}

// Load reads a YAML settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &framegrab.ConfigError{Err: errors.Wrap(err, "read settings file")}
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, &framegrab.ConfigError{Err: errors.Wrapf(err, "unmarshal %s", path)}
	}
	return &s, nil
}

// Merge overrides the settings with every field set in o.
func (s *Settings) Merge(o Settings) {
	setString(&s.Server, o.Server)
	setInt(&s.Index, o.Index)
	setString(&s.CCF, o.CCF)
	s.Simulate = s.Simulate || o.Simulate

	setString(&s.Output.Name, o.Output.Name)
	setString(&s.Output.Format, o.Output.Format)
	s.Output.Retain = s.Output.Retain || o.Output.Retain

	setInt(&s.Pool.Count, o.Pool.Count)
	setString(&s.Pool.Layout, o.Pool.Layout)
	setInt(&s.Pool.FragmentSize, o.Pool.FragmentSize)

	setString(&s.Console.QuitToken, o.Console.QuitToken)
	if o.Console.SnapTimeout != 0 {
		s.Console.SnapTimeout = o.Console.SnapTimeout
	}

	s.Display.Terminal = s.Display.Terminal || o.Display.Terminal
	setInt(&s.Display.TerminalWidth, o.Display.TerminalWidth)
	setInt(&s.Display.TerminalHeight, o.Display.TerminalHeight)
	setString(&s.Display.Preview, o.Display.Preview)
	s.Display.Stats = s.Display.Stats || o.Display.Stats
	setInt(&s.Display.ViewerPort, o.Display.ViewerPort)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// ApplyDefaults fills in every unset field that has a default.
func (s *Settings) ApplyDefaults() {
	setDefault(&s.Output.Name, sink.DefaultName)
	setDefault(&s.Output.Format, sink.DefaultFormat)
	setDefault(&s.Pool.Layout, buffer.ScatterGather.String())
	setDefault(&s.Console.QuitToken, console.DefaultQuitToken)
	if s.Pool.Count == 0 {
		s.Pool.Count = 1
	}
	if s.Pool.FragmentSize == 0 {
		s.Pool.FragmentSize = buffer.DefaultFragmentSize
	}
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Validate checks the settings for values that cannot work.
func (s *Settings) Validate() error {
	if s.Index < 0 {
		return &framegrab.ConfigError{Err: errors.Errorf("invalid resource index %d", s.Index)}
	}
	if _, err := s.PoolOptions(); err != nil {
		return err
	}
	if _, _, err := codec.Lookup(s.Output.Format); err != nil {
		return &framegrab.ConfigError{Err: err}
	}
	if s.Console.SnapTimeout < 0 {
		return &framegrab.ConfigError{Err: errors.Errorf("invalid snap timeout %s", s.Console.SnapTimeout)}
	}
	return nil
}

// PoolOptions returns the buffer pool options described by the settings.
func (s *Settings) PoolOptions() (buffer.Options, error) {
	opts := buffer.Options{Count: s.Pool.Count, FragmentSize: s.Pool.FragmentSize}
	switch strings.ToLower(s.Pool.Layout) {
	case "", buffer.ScatterGather.String():
		opts.Layout = buffer.ScatterGather
	case buffer.Contiguous.String():
		opts.Layout = buffer.Contiguous
	default:
		return buffer.Options{}, &framegrab.ConfigError{Err: errors.Errorf("unknown pool layout %q", s.Pool.Layout)}
	}
	return opts, nil
}
