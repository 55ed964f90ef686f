package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/state"
	pkgerrors "codejudge/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const defaultPrompt = "codejudge> "

// LineReader is the subset of *readline.Instance the session needs.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Transport issues requests against the judge service.
type Transport interface {
	Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (httpclient.ResponseInfo, error)
	Watch(ctx context.Context, path string, onFrame func([]byte)) error
	BaseURL() string
	SetBaseURL(baseURL string)
	SetTimeout(timeout time.Duration)
}

// Session holds REPL state.
type Session struct {
	client     Transport
	commands   map[string]command.Command
	session    *state.SessionState
	statePath  string
	prettyJSON bool
	in         LineReader
	out        io.Writer
}

func New(client Transport, commands map[string]command.Command, session *state.SessionState, statePath string, prettyJSON bool, in LineReader, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		session:    session,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		in:         in,
		out:        out,
	}
}

// Run reads commands until exit, EOF or ctx ends.
func (s *Session) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.in.SetPrompt(defaultPrompt)
		line, err := s.in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.printLine("read input failed: %v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}

		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	if line == "help" {
		s.printHelp()
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if line == "show" || strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 30s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "last":
		s.printLine("last submission: %s", orEmpty(s.session.LastSubmissionID))
		s.printLine("last problem: %s", orEmpty(s.session.LastProblemID))
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := fmt.Sprintf("%s %s", tokens[0], tokens[1])
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}

	command.ApplyShortcuts(cmd, params)
	s.fillRemembered(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if cmd.Stream {
		return s.client.Watch(ctx, req.Path, s.renderFrame)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	s.remember(cmd, params, resp.Body)
	return nil
}

// fillRemembered lets "judge status" and friends default to the last id seen.
func (s *Session) fillRemembered(cmd command.Command, params command.Params) {
	if params.Get("id") != "" || !strings.Contains(cmd.PathTemplate, ":id") {
		return
	}
	switch cmd.Service {
	case "judge":
		if s.session.LastSubmissionID != "" {
			params.Set("id", s.session.LastSubmissionID)
		}
	case "problem":
		if s.session.LastProblemID != "" {
			params.Set("id", s.session.LastProblemID)
		}
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	defer s.in.SetPrompt(defaultPrompt)
	for _, field := range cmd.Fields {
		if !params.Pending(field) {
			continue
		}
		s.in.SetPrompt(field.Prompt + ": ")
		value, err := s.in.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	s.printJSON(resp.Body)
}

func (s *Session) renderFrame(frame []byte) {
	s.printJSON(frame)
}

func (s *Session) printJSON(body []byte) {
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

func (s *Session) remember(cmd command.Command, params command.Params, body []byte) {
	type respEnvelope struct {
		Code int `json:"code"`
		Data struct {
			SubmissionID string `json:"submission_id"`
		} `json:"data"`
	}
	var resp respEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Code != int(pkgerrors.Success) {
		return
	}
	changed := false
	if resp.Data.SubmissionID != "" && resp.Data.SubmissionID != s.session.LastSubmissionID {
		s.session.LastSubmissionID = resp.Data.SubmissionID
		changed = true
	}
	if cmd.Service == "problem" && params.Get("id") != "" && params.Get("id") != s.session.LastProblemID {
		s.session.LastProblemID = params.Get("id")
		changed = true
	}
	if !changed {
		return
	}
	s.session.UpdatedAt = time.Now()
	if err := state.Save(s.statePath, *s.session); err != nil {
		s.printLine("save session state failed: %v", err)
	}
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout | show last|config")
	s.printLine("commands:")
	for _, line := range []string{
		"  problem list",
		"  problem show id=reverse-string",
		"  problem submit id=reverse-string language=python source_file=./main.py",
		"  judge submit language=python source_file=./main.py input=abc expected=cba",
		"  judge submit-async language=javascript source_file=./main.js cases_file=./cases.json",
		"  judge status id=<submission_id>",
		"  judge watch",
		"  judge cancel",
		"  judge run language=python code='print(input())' input=hello",
		"  judge languages",
		"  judge health",
	} {
		s.printLine("%s", line)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

func orEmpty(value string) string {
	if value == "" {
		return "<empty>"
	}
	return value
}
