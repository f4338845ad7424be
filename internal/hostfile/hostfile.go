// File: internal/hostfile/hostfile.go
// Brief: Hostfile parsing with bracket-range expansion.

// Package hostfile parses host lists used to fan commands out across
// machines. A hostfile is one hostname pattern per line; patterns may carry
// a single bracket expression of comma-separated numeric ranges that is
// expanded in place, e.g. "node-[01-03]-ib" yields node-01-ib, node-02-ib,
// node-03-ib. Zero padding is preserved.
package hostfile

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var bracketRe = regexp.MustCompile(`\[([^\]]+)\]`)

// Hostfile is an ordered list of expanded hostnames.
type Hostfile struct {
	Path  string
	Hosts []string
}

// Localhost returns a hostfile containing only localhost.
func Localhost() *Hostfile {
	return &Hostfile{Hosts: []string{"localhost"}}
}

// Load reads and expands the hostfile at path.
func Load(path string) (*Hostfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hostfile %s: %w", path, err)
	}
	hf, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse hostfile %s: %w", path, err)
	}
	hf.Path = path
	return hf, nil
}

// Parse expands hostfile text into a host list.
func Parse(text string) (*Hostfile, error) {
	hf := &Hostfile{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts, err := expand(line)
		if err != nil {
			return nil, err
		}
		hf.Hosts = append(hf.Hosts, hosts...)
	}
	if len(hf.Hosts) == 0 {
		hf.Hosts = []string{"localhost"}
	}
	return hf, nil
}

// Len reports the number of hosts.
func (h *Hostfile) Len() int { return len(h.Hosts) }

// IsLocal reports whether the host list is just the local machine.
func (h *Hostfile) IsLocal() bool {
	return len(h.Hosts) == 1 && (h.Hosts[0] == "localhost" || h.Hosts[0] == "127.0.0.1")
}

// Subset returns a hostfile holding the first n hosts.
func (h *Hostfile) Subset(n int) *Hostfile {
	if n > len(h.Hosts) {
		n = len(h.Hosts)
	}
	out := &Hostfile{Path: h.Path}
	out.Hosts = append(out.Hosts, h.Hosts[:n]...)
	return out
}

// Save writes the expanded host list, one host per line.
func (h *Hostfile) Save(path string) error {
	text := strings.Join(h.Hosts, "\n") + "\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write hostfile %s: %w", path, err)
	}
	h.Path = path
	return nil
}

func expand(pattern string) ([]string, error) {
	m := bracketRe.FindStringSubmatchIndex(pattern)
	if m == nil {
		return []string{pattern}, nil
	}
	prefix := pattern[:m[0]]
	content := pattern[m[2]:m[3]]
	suffix := pattern[m[1]:]

	var nums []string
	for _, part := range strings.Split(content, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, ok := strings.Cut(part, "-")
		if !ok {
			nums = append(nums, part)
			continue
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad host range %q in %q", part, pattern)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("bad host range %q in %q", part, pattern)
		}
		if end < start {
			return nil, fmt.Errorf("descending host range %q in %q", part, pattern)
		}
		width := len(lo)
		if len(hi) > width {
			width = len(hi)
		}
		for i := start; i <= end; i++ {
			nums = append(nums, fmt.Sprintf("%0*d", width, i))
		}
	}

	hosts := make([]string, 0, len(nums))
	for _, n := range nums {
		// The suffix may itself hold another bracket expression.
		rest, err := expand(suffix)
		if err != nil {
			return nil, err
		}
		for _, r := range rest {
			hosts = append(hosts, prefix+n+r)
		}
	}
	return hosts, nil
}
