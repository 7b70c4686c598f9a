package dialogue

import "encoding/json"

// Option is one selectable choice inside a select/multiselect/rank/rate
// config.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// Config is the tagged union of question payload shapes the system itself
// constructs. Questions pushed by external callers may carry arbitrary JSON;
// the coordinator stores and forwards those untouched, and DecodedConfig
// reads back only the fields it understands.
type Config struct {
	Prompt      string   `json:"prompt,omitempty"`
	Options     []Option `json:"options,omitempty"`
	Items       []Option `json:"items,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
}

// Raw marshals the config for storage and the wire. Marshalling a literal
// struct of plain fields cannot fail.
func (c Config) Raw() json.RawMessage {
	b, _ := json.Marshal(c)
	return b
}

// DecodedConfig parses the understood subset of an opaque config payload.
// Unknown fields are ignored; a payload of a shape the system never emits
// decodes to the zero Config, which callers treat as opaque passthrough.
func DecodedConfig(raw json.RawMessage) Config {
	var c Config
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c)
	}
	return c
}

// OptionIDs returns the ids of the config's options, or of its items when no
// options are present.
func (c Config) OptionIDs() []string {
	src := c.Options
	if len(src) == 0 {
		src = c.Items
	}
	ids := make([]string, 0, len(src))
	for _, o := range src {
		ids = append(ids, o.ID)
	}
	return ids
}

// ConfirmConfig builds a yes/no confirmation payload.
func ConfirmConfig(prompt string) Config {
	return Config{Prompt: prompt}
}

// SelectConfig builds a single-choice payload.
func SelectConfig(prompt string, options ...Option) Config {
	return Config{Prompt: prompt, Options: options}
}

// TextConfig builds a free-text payload.
func TextConfig(prompt, placeholder string) Config {
	return Config{Prompt: prompt, Placeholder: placeholder}
}
