package codecheck

import (
	"bytes"
	"context"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

func init() {
	DefaultRegistry.Register("json", []string{".json"}, func() Validator {
		return &jsonValidator{}
	})
	DefaultRegistry.Register("yaml", []string{".yaml", ".yml"}, func() Validator {
		return &yamlValidator{}
	})
}

// jsonValidator checks that the artifact is one well-formed JSON value.
type jsonValidator struct{}

func (v *jsonValidator) Language() string { return "json" }

func (v *jsonValidator) Validate(_ context.Context, source []byte) (*Result, error) {
	res := &Result{}

	var value any
	dec := json.NewDecoder(bytes.NewReader(source))
	if err := dec.Decode(&value); err != nil {
		line, col := offsetToPosition(source, decodeOffset(dec, err))
		res.addError(line, col, "%v", err)
		return res, nil
	}
	// Trailing content after the first value is also malformed.
	if err := dec.Decode(new(any)); err == nil {
		line, col := offsetToPosition(source, dec.InputOffset())
		res.addError(line, col, "trailing content after JSON value")
	}
	return res, nil
}

func decodeOffset(dec *json.Decoder, err error) int64 {
	if syn, ok := err.(*json.SyntaxError); ok {
		return syn.Offset
	}
	return dec.InputOffset()
}

// offsetToPosition converts a byte offset to a 1-based line and column.
func offsetToPosition(source []byte, offset int64) (line, col int) {
	if offset > int64(len(source)) {
		offset = int64(len(source))
	}
	line, col = 1, 1
	for _, b := range source[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// yamlValidator checks that the artifact is well-formed YAML.
type yamlValidator struct{}

func (v *yamlValidator) Language() string { return "yaml" }

func (v *yamlValidator) Validate(_ context.Context, source []byte) (*Result, error) {
	res := &Result{}

	var node yaml.Node
	if err := yaml.Unmarshal(source, &node); err != nil {
		res.addError(0, 0, "%v", err)
	}
	return res, nil
}
