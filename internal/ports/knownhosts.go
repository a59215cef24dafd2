package ports

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"
)

// KnownHosts inspects and edits an OpenSSH known_hosts file for loopback
// entries left behind by earlier tunnels.
type KnownHosts struct {
	Path string
}

// NewKnownHosts wraps the known_hosts file at path.
func NewKnownHosts(path string) *KnownHosts {
	return &KnownHosts{Path: path}
}

// Marker is the host field OpenSSH writes for a tunnel on port.
func Marker(port int) string {
	return knownhosts.Normalize(net.JoinHostPort("localhost", strconv.Itoa(port)))
}

func matchesPort(line []byte, marker string) bool {
	return bytes.HasPrefix(line, []byte(marker)) &&
		(len(line) == len(marker) || line[len(marker)] == ' ' || line[len(marker)] == '\t' || line[len(marker)] == ',')
}

// HasLocalhostPort reports whether a line starts with [localhost]:port.
// A missing file has no conflicts.
func (k *KnownHosts) HasLocalhostPort(port int) (bool, error) {
	b, err := os.ReadFile(k.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read known_hosts: %w", err)
	}
	marker := Marker(port)
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if matchesPort(sc.Bytes(), marker) {
			return true, nil
		}
	}
	return false, sc.Err()
}

// Ports lists every loopback port with a stored host key.
func (k *KnownHosts) Ports() ([]int, error) {
	b, err := os.ReadFile(k.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read known_hosts: %w", err)
	}
	var out []int
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "[localhost]:") {
			continue
		}
		rest := strings.TrimPrefix(line, "[localhost]:")
		end := strings.IndexAny(rest, " \t,")
		if end < 0 {
			end = len(rest)
		}
		if p, err := strconv.Atoi(rest[:end]); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// Remove drops every [localhost]:port line. All other bytes, line endings
// included, are written back untouched. It returns the number of lines
// removed.
func (k *KnownHosts) Remove(port int) (int, error) {
	b, err := os.ReadFile(k.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read known_hosts: %w", err)
	}
	marker := Marker(port)
	var (
		out     bytes.Buffer
		removed int
	)
	rest := b
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]
		if matchesPort(line, marker) {
			removed++
			continue
		}
		out.Write(line)
	}
	if removed == 0 {
		return 0, nil
	}

	st, err := os.Stat(k.Path)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(k.Path), ".known_hosts-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(out.Bytes()); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmp.Name(), st.Mode().Perm()); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), k.Path); err != nil {
		return 0, err
	}
	slog.Info("removed stale known_hosts entry", "marker", marker, "lines", removed)
	return removed, nil
}
