package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/randalmurphal/baton-dispatcher/internal/gitcmd"
)

// Worktree is one stanza of `git worktree list --porcelain` output.
type Worktree struct {
	Path   string `json:"path"`
	Head   string `json:"head"`
	Branch string `json:"branch,omitempty"`
	Bare   bool   `json:"bare"`
}

// parseWorktrees parses `git worktree list --porcelain`, matching
// original_source/backend/agent.py's _get_worktrees: blank-line
// delimited stanzas, one `key value` pair per line, `refs/heads/`
// stripped from the branch field.
func parseWorktrees(output string) []Worktree {
	var worktrees []Worktree
	var cur *Worktree

	flush := func() {
		if cur != nil {
			worktrees = append(worktrees, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		field, value, _ := strings.Cut(line, " ")
		switch field {
		case "worktree":
			flush()
			cur = &Worktree{Path: value}
		case "HEAD":
			if cur != nil {
				cur.Head = value
			}
		case "branch":
			if cur != nil {
				cur.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "bare":
			if cur != nil {
				cur.Bare = true
			}
		}
	}
	flush()
	return worktrees
}

func (s *Server) handleWorktrees(w http.ResponseWriter, r *http.Request) {
	runner := gitcmd.New(s.root)
	out, err := runner.Run(r.Context(), gitcmd.TimeoutCheckout, "worktree", "list", "--porcelain")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, parseWorktrees(out))
}

// Commit is one parsed `git log` entry.
type Commit struct {
	Hash       string `json:"hash"`
	Subject    string `json:"subject"`
	Author     string `json:"author"`
	Date       string `json:"date"`
	Decoration string `json:"decoration,omitempty"`
}

// commitLogSeparator matches original_source/backend/agent.py's
// _get_recent_commits custom field separator, chosen so it never
// collides with a commit subject.
const commitLogSeparator = "---BATON-SEP---"

// parseCommits parses git log output produced with
// `--pretty=format:%H{sep}%s{sep}%an{sep}%ci{sep}%D`, requiring at
// least 4 fields and treating the 5th (decoration) as optional.
func parseCommits(output string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, commitLogSeparator)
		if len(parts) < 4 {
			continue
		}
		c := Commit{Hash: parts[0], Subject: parts[1], Author: parts[2], Date: parts[3]}
		if len(parts) >= 5 {
			c.Decoration = parts[4]
		}
		commits = append(commits, c)
	}
	return commits
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	count := 10
	if q := r.URL.Query().Get("count"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			count = n
		}
	}

	runner := gitcmd.New(s.root)
	format := "--pretty=format:%H" + commitLogSeparator + "%s" + commitLogSeparator + "%an" + commitLogSeparator + "%ci" + commitLogSeparator + "%D"
	out, err := runner.Run(r.Context(), gitcmd.TimeoutCheckout, "log", "-n", strconv.Itoa(count), format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, parseCommits(out))
}
