package githost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeResult struct {
	out string
	err error
}

// fakeRunner replays scripted command results and records invocations.
type fakeRunner struct {
	calls   [][]string
	results []fakeResult
}

func (f *fakeRunner) next(name string, args []string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.results) == 0 {
		return nil, fmt.Errorf("unexpected command: %s %v", name, args)
	}
	r := f.results[0]
	f.results = f.results[1:]
	return []byte(r.out), r.err
}

func (f *fakeRunner) Output(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return f.next(name, args)
}

func (f *fakeRunner) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func TestCreatePullRequest(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: "Creating pull request for drydock/t1 into main\nhttps://github.com/acme/widgets/pull/42\n"},
	}}
	client := NewGHClient(runner)

	pr, err := client.CreatePullRequest(context.Background(), "acme/widgets", "drydock/t1", "main", "Add login page", "Adds the login form.")
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}

	if pr.URL != "https://github.com/acme/widgets/pull/42" {
		t.Errorf("URL = %q", pr.URL)
	}
	if pr.Number != 42 {
		t.Errorf("Number = %d, want 42", pr.Number)
	}
	if pr.State != "open" {
		t.Errorf("State = %q, want open", pr.State)
	}

	call := strings.Join(runner.lastCall(), " ")
	for _, want := range []string{"gh pr create", "--repo acme/widgets", "--head drydock/t1", "--base main", "--title Add login page"} {
		if !strings.Contains(call, want) {
			t.Errorf("command %q missing %q", call, want)
		}
	}
}

func TestCreatePullRequest_AlreadyExists(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New(`gh: exit status 1: a pull request for branch "drydock/t1" into branch "main" already exists`)},
	}}
	client := NewGHClient(runner)

	_, err := client.CreatePullRequest(context.Background(), "acme/widgets", "drydock/t1", "main", "t", "b")
	if !errors.Is(err, ErrPRExists) {
		t.Fatalf("error = %v, want ErrPRExists", err)
	}
}

func TestCreatePullRequest_NoURL(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "\n"}}}
	client := NewGHClient(runner)

	_, err := client.CreatePullRequest(context.Background(), "acme/widgets", "drydock/t1", "main", "t", "b")
	if err == nil {
		t.Fatal("expected error when gh prints no URL")
	}
}

func TestFindPullRequest(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: `[{"number": 7, "url": "https://github.com/acme/widgets/pull/7", "title": "Add login page", "state": "OPEN"}]`},
	}}
	client := NewGHClient(runner)

	pr, err := client.FindPullRequest(context.Background(), "acme/widgets", "drydock/t1")
	if err != nil {
		t.Fatalf("FindPullRequest: %v", err)
	}
	if pr == nil {
		t.Fatal("expected a pull request")
	}
	if pr.Number != 7 || pr.URL != "https://github.com/acme/widgets/pull/7" {
		t.Errorf("pr = %+v", pr)
	}

	call := strings.Join(runner.lastCall(), " ")
	for _, want := range []string{"gh pr list", "--head drydock/t1", "--state open"} {
		if !strings.Contains(call, want) {
			t.Errorf("command %q missing %q", call, want)
		}
	}
}

func TestFindPullRequest_None(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: `[]`}}}
	client := NewGHClient(runner)

	pr, err := client.FindPullRequest(context.Background(), "acme/widgets", "drydock/t1")
	if err != nil {
		t.Fatalf("FindPullRequest: %v", err)
	}
	if pr != nil {
		t.Errorf("pr = %+v, want nil", pr)
	}
}

func TestFindPullRequest_BadJSON(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: `not json`}}}
	client := NewGHClient(runner)

	if _, err := client.FindPullRequest(context.Background(), "acme/widgets", "drydock/t1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestListBranches(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: "main\ndrydock/t1\ndrydock/t2\n\n"},
	}}
	client := NewGHClient(runner)

	branches, err := client.ListBranches(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}

	want := []string{"main", "drydock/t1", "drydock/t2"}
	if len(branches) != len(want) {
		t.Fatalf("branches = %v, want %v", branches, want)
	}
	for i := range want {
		if branches[i] != want[i] {
			t.Errorf("branches[%d] = %q, want %q", i, branches[i], want[i])
		}
	}
}

func TestDetectRepo(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "acme/widgets\n"}}}
	client := NewGHClient(runner)

	slug, err := client.DetectRepo(context.Background(), "/work/widgets")
	if err != nil {
		t.Fatalf("DetectRepo: %v", err)
	}
	if slug != "acme/widgets" {
		t.Errorf("slug = %q, want acme/widgets", slug)
	}
}

func TestDetectRepo_Empty(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "\n"}}}
	client := NewGHClient(runner)

	if _, err := client.DetectRepo(context.Background(), "/work/widgets"); err == nil {
		t.Fatal("expected error for missing repository")
	}
}

func TestNumberFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://github.com/acme/widgets/pull/42", 42},
		{"https://github.com/acme/widgets/pull/x", 0},
		{"no-slashes", 0},
	}
	for _, tt := range tests {
		if got := numberFromURL(tt.url); got != tt.want {
			t.Errorf("numberFromURL(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}
