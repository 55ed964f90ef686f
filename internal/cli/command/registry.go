package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

var (
	languageField = Field{Name: "language", Aliases: []string{"lang"}, Prompt: "language (python|javascript)", Type: FieldString, Required: true}
	sourceField   = Field{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true}
	sourceFile    = Field{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile}
	idField       = Field{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true}
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	submitFields := []Field{
		languageField,
		sourceField,
		sourceFile,
		{Name: "cases_json", Aliases: []string{"cases"}, Prompt: "test cases (JSON array of {input, expected_output})", Type: FieldJSON, Required: true},
		{Name: "cases_file", Prompt: "cases_file", Type: FieldFile},
		{Name: "input", Prompt: "input", Type: FieldString},
		{Name: "expected", Prompt: "expected", Type: FieldString},
		{Name: "submission_id", Prompt: "submission_id", Type: FieldString},
	}
	commands := []Command{
		{
			Service:      "judge",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Fields:       submitFields,
		},
		{
			Service:      "judge",
			Action:       "submit-async",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/async",
			Fields:       submitFields,
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields:       []Field{idField},
		},
		{
			Service:      "judge",
			Action:       "watch",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/watch",
			Stream:       true,
			Fields:       []Field{idField},
		},
		{
			Service:      "judge",
			Action:       "cancel",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/:id/cancel",
			Fields:       []Field{idField},
		},
		{
			Service:      "judge",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/v1/runs",
			Fields: []Field{
				languageField,
				sourceField,
				sourceFile,
				{Name: "input", Prompt: "input", Type: FieldString},
				{Name: "input_file", Prompt: "input_file", Type: FieldFile},
			},
		},
		{
			Service:      "judge",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
		},
		{
			Service:      "judge",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
		},
		{
			Service:      "problem",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/problems",
		},
		{
			Service:      "problem",
			Action:       "show",
			Method:       "GET",
			PathTemplate: "/api/v1/problems/:id",
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "problem",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:id/submissions",
			Fields: []Field{
				{Name: "id", Prompt: "problem_id", Type: FieldString, Required: true},
				languageField,
				sourceField,
				sourceFile,
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// ApplyShortcuts marks values that come from files or from inline
// input/expected pairs so they are not prompted for.
func ApplyShortcuts(cmd Command, params Params) {
	params.Canonicalize(cmd.Fields)
	if params.Get("source_file") != "" && params.Get("source_code") == "" {
		params.Set("source_code", fileMarker)
	}
	if params.Get("cases_file") != "" && params.Get("cases_json") == "" {
		params.Set("cases_json", fileMarker)
	}
	if params.Has("expected") && params.Get("cases_json") == "" {
		one, _ := json.Marshal([]map[string]string{{
			"input":           params.Get("input"),
			"expected_output": params.Get("expected"),
		}})
		params.Set("cases_json", string(one))
	}
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		if strings.ContainsAny(value, "/?#") {
			return "", fmt.Errorf("invalid path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Key() {
	case "judge submit", "judge submit-async":
		return buildSubmitPayload(params)
	case "judge run":
		source, err := valueOrFile(params, "source_code", "source_file")
		if err != nil {
			return nil, err
		}
		input := params.Get("input")
		if params.Get("input_file") != "" {
			input, err = ReadFile(params.Get("input_file"))
			if err != nil {
				return nil, err
			}
		}
		return map[string]string{
			"language":    params.Get("language"),
			"source_code": source,
			"input":       input,
		}, nil
	case "problem submit":
		source, err := valueOrFile(params, "source_code", "source_file")
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"language":    params.Get("language"),
			"source_code": source,
		}, nil
	}
	return nil, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	source, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	casesRaw, err := valueOrFile(params, "cases_json", "cases_file")
	if err != nil {
		return nil, err
	}
	cases, err := ParseJSON(casesRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid cases_json: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(cases)), "[") {
		return nil, fmt.Errorf("cases_json must be a JSON array")
	}

	payload := map[string]interface{}{
		"language":    params.Get("language"),
		"source_code": source,
		"test_cases":  cases,
	}
	if id := params.Get("submission_id"); id != "" {
		payload["submission_id"] = id
	}
	return payload, nil
}

// valueOrFile returns the inline value, or the file's content when the
// value is empty or the file marker.
func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || value == fileMarker) && params.Get(fileKey) != "" {
		return ReadFile(params.Get(fileKey))
	}
	if value == "" || value == fileMarker {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}
