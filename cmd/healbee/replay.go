package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/healbee/healbee/internal/flow"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// replayScript is a set of scripted conversations with the replies each turn must produce.
type replayScript struct {
	Conversations []replayConversation `yaml:"conversations"`
}

type replayConversation struct {
	Name     string       `yaml:"name"`
	UserID   string       `yaml:"user_id"`
	Language string       `yaml:"language"`
	Turns    []replayTurn `yaml:"turns"`
}

type replayTurn struct {
	Say    string       `yaml:"say"`
	Expect replayExpect `yaml:"expect"`
}

// replayExpect lists the checks for one reply. Empty fields are not checked.
type replayExpect struct {
	Kind     string   `yaml:"kind"`
	Intent   string   `yaml:"intent"`
	Outcome  string   `yaml:"outcome"`
	Question string   `yaml:"question"`
	Severity string   `yaml:"severity"`
	Score    *int     `yaml:"score"`
	Contains []string `yaml:"contains"`
	Rules    []string `yaml:"rules"`
}

type replayResult struct {
	Name     string
	Turns    int
	Failures []string
}

func (r replayResult) Passed() bool { return len(r.Failures) == 0 }

// parseReplay decodes and validates a script. Unknown keys are rejected so typos do not
// silently disable checks.
func parseReplay(r io.Reader) (replayScript, error) {
	var s replayScript
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, fmt.Errorf("empty replay script")
		}
		return s, fmt.Errorf("decode replay script: %w", err)
	}
	if len(s.Conversations) == 0 {
		return s, fmt.Errorf("replay script has no conversations")
	}
	for i, c := range s.Conversations {
		if strings.TrimSpace(c.Name) == "" {
			return s, fmt.Errorf("conversation %d: name is required", i)
		}
		if len(c.Turns) == 0 {
			return s, fmt.Errorf("conversation %q: no turns", c.Name)
		}
		for j, t := range c.Turns {
			if strings.TrimSpace(t.Say) == "" {
				return s, fmt.Errorf("conversation %q turn %d: say is required", c.Name, j+1)
			}
		}
	}
	return s, nil
}

// runReplay replays the script at path and writes a report to out. It fails when any
// conversation does not match its expectations.
func runReplay(ctx context.Context, m *flow.Manager, path string, parallel int, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()
	script, err := parseReplay(f)
	if err != nil {
		return err
	}

	results, err := replayAll(ctx, m, script, parallel)
	if err != nil {
		return err
	}
	failed := writeReplayReport(out, results)
	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed", failed, len(results))
	}
	return nil
}

// replayAll runs every conversation of s, at most parallel at a time. Results keep
// script order.
func replayAll(ctx context.Context, m *flow.Manager, s replayScript, parallel int) ([]replayResult, error) {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]replayResult, len(s.Conversations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, conv := range s.Conversations {
		g.Go(func() error {
			res, err := replayConversationTurns(gctx, m, conv)
			if err != nil {
				return fmt.Errorf("conversation %q: %w", conv.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func replayConversationTurns(ctx context.Context, m *flow.Manager, conv replayConversation) (replayResult, error) {
	res := replayResult{Name: conv.Name}
	c, err := m.Start(flow.StartOptions{UserID: conv.UserID, Language: conv.Language})
	if err != nil {
		return res, err
	}
	defer func() {
		if err := m.End(ctx, c.ID()); err != nil {
			slog.Warn("Failed to end replayed conversation", "conversationID", c.ID(), "error", err)
		}
	}()

	for i, turn := range conv.Turns {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		reply, err := c.Handle(ctx, turn.Say)
		res.Turns++
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("turn %d %q: %v", i+1, turn.Say, err))
			break
		}
		for _, f := range checkReply(turn.Expect, reply) {
			res.Failures = append(res.Failures, fmt.Sprintf("turn %d %q: %s", i+1, turn.Say, f))
		}
	}
	slog.Debug("Conversation replayed", "name", conv.Name, "turns", res.Turns, "failures", len(res.Failures))
	return res, nil
}

// checkReply returns one message per unmet expectation.
func checkReply(want replayExpect, got flow.Reply) []string {
	var failures []string
	mismatch := func(field, want, got string) {
		if want != "" && want != got {
			failures = append(failures, fmt.Sprintf("%s = %q, want %q", field, got, want))
		}
	}
	mismatch("kind", want.Kind, string(got.Kind))
	mismatch("intent", want.Intent, string(got.Intent))
	mismatch("outcome", want.Outcome, string(got.Outcome))

	if want.Question != "" {
		var q string
		if got.Question != nil {
			q = got.Question.RecordID + "/" + got.Question.QuestionID
		}
		mismatch("question", want.Question, q)
	}
	if want.Severity != "" || want.Score != nil {
		if got.Assessment == nil {
			failures = append(failures, "no assessment in reply")
		} else {
			mismatch("severity", want.Severity, string(got.Assessment.Severity))
			if want.Score != nil && *want.Score != got.Assessment.Score {
				failures = append(failures, fmt.Sprintf("score = %d, want %d", got.Assessment.Score, *want.Score))
			}
		}
	}
	for _, s := range want.Contains {
		if !strings.Contains(got.Text, s) {
			failures = append(failures, fmt.Sprintf("text does not contain %q", s))
		}
	}
	for _, rule := range want.Rules {
		if !slices.Contains(got.Rules, rule) {
			failures = append(failures, fmt.Sprintf("rules %v missing %q", got.Rules, rule))
		}
	}
	return failures
}

// writeReplayReport prints one line per conversation plus failures and returns the
// number of failed conversations.
func writeReplayReport(out io.Writer, results []replayResult) int {
	failed := 0
	for _, r := range results {
		if r.Passed() {
			fmt.Fprintf(out, "PASS  %s (%d turns)\n", r.Name, r.Turns)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s (%d turns)\n", r.Name, r.Turns)
		for _, f := range r.Failures {
			fmt.Fprintf(out, "      %s\n", f)
		}
	}
	fmt.Fprintf(out, "%d passed, %d failed\n", len(results)-failed, failed)
	return failed
}
