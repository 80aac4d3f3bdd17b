package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/platinummonkey/finmcp/pkg/storage"
)

const schemaBaseURL = "https://finmcp.local/tools/"

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema for %s: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return schema, nil
}

// normalizeArgs turns caller arguments into the generic JSON shapes the
// validator understands and returns the canonical encoding alongside
func normalizeArgs(args map[string]any) (json.RawMessage, any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, storage.NewValidationError("arguments", fmt.Sprintf("arguments are not valid JSON: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, storage.NewValidationError("arguments", fmt.Sprintf("arguments are not valid JSON: %v", err))
	}
	return raw, doc, nil
}

func validateArgs(schema *jsonschema.Schema, doc any) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return storage.NewValidationError("arguments", err.Error())
	}

	var msgs []string
	collectLeaves(ve, &msgs)
	sort.Strings(msgs)
	field := "arguments"
	if len(ve.Causes) == 1 && ve.Causes[0].InstanceLocation != "" {
		field = strings.TrimPrefix(ve.Causes[0].InstanceLocation, "/")
	}
	return storage.NewValidationError(field, strings.Join(msgs, "; "))
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			*out = append(*out, ve.Message)
			return
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

func decodeArgs(name string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return storage.NewValidationError("arguments", fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}
	return nil
}
