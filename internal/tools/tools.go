// Package tools probes the external binaries the server shells out to.
package tools

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

// Check is the probe result for one binary.
type Check struct {
	Name      string
	Available bool
	Version   string
	Hint      string
}

// Status aggregates the probe results gathered at startup.
type Status struct {
	Git     Check
	Ripgrep Check
	Grep    Check
}

// SearchAvailable reports whether at least one search backend is present.
func (s *Status) SearchAvailable() bool {
	return s.Ripgrep.Available || s.Grep.Available
}

// Run probes git, ripgrep and grep. It never fails; callers decide which
// missing tools are fatal for their configuration.
func Run(ctx context.Context) *Status {
	return &Status{
		Git:     probe(ctx, "git", "Install git: https://git-scm.com/downloads"),
		Ripgrep: probe(ctx, "rg", "Install ripgrep for faster search: https://github.com/BurntSushi/ripgrep"),
		Grep:    probe(ctx, "grep", "grep ships with every POSIX system"),
	}
}

// Log writes one line per probed tool.
func (s *Status) Log(ctx context.Context) {
	for _, c := range []Check{s.Git, s.Ripgrep, s.Grep} {
		if c.Available {
			slog.InfoContext(ctx, "External tool found", "tool", c.Name, "version", c.Version)
		} else {
			slog.WarnContext(ctx, "External tool missing", "tool", c.Name, "hint", c.Hint)
		}
	}
	if !s.SearchAvailable() {
		slog.WarnContext(ctx, "No search backend available, search requests will fail")
	}
}

func probe(ctx context.Context, name, hint string) Check {
	c := Check{Name: name, Hint: hint}
	path, err := exec.LookPath(name)
	if err != nil {
		return c
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return c
	}
	c.Available = true
	line, _, _ := strings.Cut(string(out), "\n")
	c.Version = strings.TrimSpace(line)
	return c
}
