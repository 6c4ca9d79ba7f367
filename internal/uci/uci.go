// Package uci holds the small part of the Universal Chess Interface vocabulary the relay needs:
// engine options, ordered option batches and the handshake/diagnostic messages.
package uci

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/ucirelay/internal/env"
)

const (
	// HandshakeCommand asks the engine to identify itself and list its options.
	HandshakeCommand = "uci"
	// HandshakeSentinel is emitted once by an engine after it has listed its options.
	HandshakeSentinel = "uciok"
	// ReadyOK is the engine's answer to "isready".
	ReadyOK = "readyok"
)

// Option is a single engine-tuning directive sent as a setoption command.
type Option struct {
	// Name is the UCI option name, e.g. "Skill Level".
	Name string `yaml:"name"`
	// Value is the string-encoded value (integer, boolean or enumerated).
	Value string `yaml:"value"`
}

// Command renders the option as a setoption command line.
func (o Option) Command() string {
	return fmt.Sprintf("setoption name %s value %s", o.Name, o.Value)
}

// UnmarshalYAML accepts any scalar for value so that `value: 20` and `value: true` decode as strings.
func (o *Option) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: option must be a mapping with name and value", node.Line)
	}
	var out Option
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: option %s must be a scalar", val.Line, key.Value)
		}
		switch key.Value {
		case "name":
			out.Name = strings.TrimSpace(val.Value)
		case "value":
			out.Value = strings.TrimSpace(val.Value)
		default:
			return fmt.Errorf("line %d: unknown option field %q", key.Line, key.Value)
		}
	}
	*o = out
	return nil
}

// Batch is an ordered set of options replayed once per engine lifetime.
type Batch []Option

// Commands renders every option in order.
func (b Batch) Commands() []string {
	out := make([]string, 0, len(b))
	for _, opt := range b {
		out = append(out, opt.Command())
	}
	return out
}

// Clone returns an independent copy of the batch.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// Override returns a new batch where options of other replace same-named options of b in place
// and unknown options are appended. Names compare case-insensitively, as UCI option names do.
func (b Batch) Override(other Batch) Batch {
	out := b.Clone()
	for _, opt := range other {
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Name, opt.Name) {
				out[i].Value = opt.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, opt)
		}
	}
	return out
}

// Validate reports the first option without a name.
func (b Batch) Validate() error {
	for i, opt := range b {
		if strings.TrimSpace(opt.Name) == "" {
			return fmt.Errorf("option #%d has an empty name", i+1)
		}
	}
	return nil
}

// ParseOption parses a single "Name=Value" assignment.
func ParseOption(s string) (Option, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return Option{}, fmt.Errorf("invalid option %q, expected Name=Value", s)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Option{}, fmt.Errorf("empty option name in %q", s)
	}
	return Option{Name: name, Value: strings.TrimSpace(value)}, nil
}

// ParseBatch parses a comma-separated list such as "Contempt=60,Skill Level=10".
func ParseBatch(s string) (Batch, error) {
	pairs, err := env.ParseInlinePairs(s)
	if err != nil {
		return nil, err
	}
	out := make(Batch, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Option{Name: p.Key, Value: p.Value})
	}
	return out, nil
}

// InfoString renders text using the engine's comment convention.
func InfoString(text string) string {
	return "info string " + text
}
