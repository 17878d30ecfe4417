package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func noop(ctx context.Context, send func(StepEvent)) error { return nil }

func TestRunnerInit(t *testing.T) {
	m := newRunner(context.Background(), "Install", []Phase{
		{Title: "Binaries", Steps: []Step{
			{Title: "helper", Run: noop},
			{Title: "monitor", Run: noop},
		}},
	})
	m.Init()
	if m.steps[0].status != statusRunning {
		t.Errorf("first step status = %d, want statusRunning", m.steps[0].status)
	}
	if m.current != 0 {
		t.Errorf("current = %d, want 0", m.current)
	}
}

func TestRunnerInitEmpty(t *testing.T) {
	m := newRunner(context.Background(), "Install", []Phase{{Title: "Empty"}})
	m.Init()
	if !m.done {
		t.Error("empty runner should be done after Init")
	}
	if len(m.phases) != 0 {
		t.Errorf("phases = %v, want empty phases filtered", m.phases)
	}
}

func TestRunnerStepEvent(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{{Title: "s1", Run: noop}}}})
	m.steps[0].status = statusRunning
	model, cmd := m.Update(stepEventMsg{message: "copying"})
	r := model.(*runner)
	if r.steps[0].message != "copying" {
		t.Errorf("message = %q, want %q", r.steps[0].message, "copying")
	}
	if cmd != nil {
		t.Error("stepEventMsg should return nil cmd")
	}
}

func TestRunnerStepDone(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{
		{Title: "s1", Run: noop},
		{Title: "s2", Run: noop},
	}}})
	m.steps[0].status = statusRunning
	model, _ := m.Update(stepDoneMsg{})
	r := model.(*runner)
	if r.steps[0].status != statusDone {
		t.Errorf("step 0 status = %d, want statusDone", r.steps[0].status)
	}
	if r.current != 1 {
		t.Errorf("current = %d, want 1", r.current)
	}
	if r.steps[1].status != statusRunning {
		t.Errorf("step 1 status = %d, want statusRunning", r.steps[1].status)
	}
}

func TestRunnerLastStepDone(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{{Title: "only", Run: noop}}}})
	m.steps[0].status = statusRunning
	model, _ := m.Update(stepDoneMsg{})
	r := model.(*runner)
	if !r.done {
		t.Error("runner should be done after last step")
	}
	if r.err != nil {
		t.Errorf("err = %v, want nil", r.err)
	}
}

func TestRunnerStepFail(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{{Title: "bad", Run: noop}}}})
	m.steps[0].status = statusRunning
	testErr := errors.New("boom")
	model, _ := m.Update(stepFailMsg{err: testErr})
	r := model.(*runner)
	if r.steps[0].status != statusFailed {
		t.Errorf("status = %d, want statusFailed", r.steps[0].status)
	}
	if r.err != testErr {
		t.Errorf("err = %v, want %v", r.err, testErr)
	}
	if r.steps[0].errMsg != "boom" {
		t.Errorf("errMsg = %q, want %q", r.steps[0].errMsg, "boom")
	}
}

func TestRunnerNonFatalStep(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{
		{Title: "stop monitor", Run: noop, NonFatal: true},
		{Title: "next", Run: noop},
	}}})
	m.steps[0].status = statusRunning
	model, _ := m.Update(stepFailMsg{err: errors.New("not loaded")})
	r := model.(*runner)
	if r.steps[0].status != statusWarned {
		t.Errorf("status = %d, want statusWarned", r.steps[0].status)
	}
	if r.current != 1 {
		t.Errorf("current = %d, want 1", r.current)
	}
	if r.err != nil {
		t.Errorf("err = %v, want nil", r.err)
	}
}

func TestRunnerViewPhaseHeaders(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{
		{Title: "Binaries", Steps: []Step{{Title: "a1", Run: noop}}},
		{Title: "Services", Steps: []Step{{Title: "b1", Run: noop}}},
	})
	m.steps[0].status = statusDone
	m.current = 1
	view := m.View()
	if !strings.Contains(view, "Binaries") || !strings.Contains(view, "Services") {
		t.Errorf("view should contain both phase headers, got %q", view)
	}
}

func TestRunnerViewStepCounter(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{
		{Title: "s1", Run: noop},
		{Title: "s2", Run: noop},
		{Title: "s3", Run: noop},
	}}})
	m.steps[0].status = statusDone
	m.steps[1].status = statusRunning
	m.current = 1
	view := m.View()
	if !strings.Contains(view, "[1/3]") {
		t.Errorf("view should contain step counter [1/3], got %q", view)
	}
}

func TestRunnerViewError(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{{Title: "bad", Run: noop}}}})
	m.steps[0].status = statusFailed
	m.steps[0].errMsg = "something broke"
	view := m.View()
	if !strings.Contains(view, "bad") || !strings.Contains(view, "something broke") {
		t.Errorf("view should show failed step and error, got %q", view)
	}
}

func TestRunnerViewPendingSteps(t *testing.T) {
	m := newRunner(context.Background(), "T", []Phase{{Title: "P", Steps: []Step{
		{Title: "done", Run: noop},
		{Title: "todo", Run: noop},
	}}})
	m.steps[0].status = statusDone
	m.current = 1
	if view := m.View(); !strings.Contains(view, "○ todo") {
		t.Errorf("view should show pending step with ○, got %q", view)
	}
}

func TestSimple(t *testing.T) {
	ran := false
	s := Simple("write unit", func() error { ran = true; return nil })
	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !ran || s.Title != "write unit" {
		t.Errorf("Simple step = %+v, ran = %v", s, ran)
	}
}

func TestRunPhasesPlain(t *testing.T) {
	var order []string
	var out bytes.Buffer
	phases := []Phase{
		{Title: "P", Steps: []Step{
			{Title: "a", Run: func(ctx context.Context, send func(StepEvent)) error {
				order = append(order, "a")
				return nil
			}},
			{Title: "b", Run: func(ctx context.Context, send func(StepEvent)) error {
				order = append(order, "b")
				send(StepEvent{Message: "b finished"})
				return nil
			}},
		}},
	}
	if err := runPhasesPlain(context.Background(), &out, "Test", phases); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
	if !strings.Contains(out.String(), "b finished") {
		t.Errorf("plain output should use the last event message, got %q", out.String())
	}
}

func TestRunPhasesPlainError(t *testing.T) {
	testErr := errors.New("fail")
	skipped := true
	phases := []Phase{
		{Title: "P", Steps: []Step{
			{Title: "ok", Run: noop},
			{Title: "bad", Run: func(ctx context.Context, send func(StepEvent)) error { return testErr }},
			{Title: "skip", Run: func(ctx context.Context, send func(StepEvent)) error { skipped = false; return nil }},
		}},
	}
	err := runPhasesPlain(context.Background(), &bytes.Buffer{}, "Test", phases)
	if !errors.Is(err, testErr) {
		t.Errorf("err = %v, want %v", err, testErr)
	}
	if !skipped {
		t.Error("step after failure should not run")
	}
}

func TestRunPhasesPlainNonFatal(t *testing.T) {
	var ran bool
	phases := []Phase{
		{Title: "P", Steps: []Step{
			{Title: "warn", Run: func(ctx context.Context, send func(StepEvent)) error {
				return errors.New("not critical")
			}, NonFatal: true},
			{Title: "next", Run: func(ctx context.Context, send func(StepEvent)) error {
				ran = true
				return nil
			}},
		}},
	}
	if err := runPhasesPlain(context.Background(), &bytes.Buffer{}, "Test", phases); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("step after non-fatal should have run")
	}
}

func TestRunPhasesPlainOutput(t *testing.T) {
	var out bytes.Buffer
	phases := []Phase{
		{Title: "Binaries", Steps: []Step{
			{Title: "copy helper", Run: func(ctx context.Context, send func(StepEvent)) error {
				send(StepEvent{Message: "copying helper"})
				return nil
			}},
		}},
	}
	if err := runPhasesPlain(context.Background(), &out, "Install", phases); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %q, want 4", lines)
	}
	if !strings.Contains(lines[1], "●") || !strings.Contains(lines[1], "Binaries") {
		t.Errorf("phase header = %q", lines[1])
	}
	if !strings.Contains(lines[2], "○") || !strings.Contains(lines[2], "copying helper") {
		t.Errorf("progress line = %q", lines[2])
	}
	if !strings.Contains(lines[3], "✔") || !strings.Contains(lines[3], "copying helper") {
		t.Errorf("result line = %q", lines[3])
	}
}
