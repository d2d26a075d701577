// Package session locates and prepares the on-disk session directory that
// micscribe records into.
//
// Layout of a session directory:
//
//	<session>/
//	    meta.json          optional, written when micscribe creates the session
//	    events.ndjson      append-only event log
//	    audio/chunks/      one <epoch_ms>.wav clip per segment
//
// Sessions live under a common root (default ./sessions) and are named by
// their creation time, so the lexicographically greatest name is the most
// recent one. A subdirectory named "archived" holds old sessions and is never
// selected.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRoot is the directory scanned for sessions when none is set.
	DefaultRoot = "sessions"

	// ArchiveDir is the reserved subdirectory of the root holding archived
	// sessions.
	ArchiveDir = "archived"

	// EventsFile is the event log file name inside a session directory.
	EventsFile = "events.ndjson"

	// MetaFile is the metadata file name inside a session directory.
	MetaFile = "meta.json"

	// nameLayout formats session directory names: an ISO-8601 UTC timestamp
	// with milliseconds. ':' is written as '-' here and '.' is replaced by
	// [dirName] so the name is portable.
	nameLayout = "2006-01-02T15-04-05.000Z"
)

// AudioSubdir is the clip directory relative to the session directory.
var AudioSubdir = filepath.Join("audio", "chunks")

// ErrNoSession is returned when no explicit directory is configured, the root
// holds no usable session, and creation is disabled.
var ErrNoSession = errors.New("session: no session directory found")

// Meta is the content of meta.json.
type Meta struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	SessionDir string `json:"session_dir"`
	StartedAt  int64  `json:"started_at"`
}

// Session is a resolved, ready-to-use session directory.
type Session struct {
	// Dir is the session directory.
	Dir string

	// AudioDir is the clip directory (Dir/audio/chunks). It exists.
	AudioDir string

	// EventsPath is the event log path (Dir/events.ndjson). It is created on
	// first append.
	EventsPath string

	// Meta is the parsed meta.json, or nil if the directory has none.
	Meta *Meta
}

// Options controls [Resolve].
type Options struct {
	// Dir, if set, is used as the session directory as-is.
	Dir string

	// Root is scanned for the latest session when Dir is empty. Defaults to
	// [DefaultRoot].
	Root string

	// CreateIfMissing creates a new session under Root when it holds none.
	CreateIfMissing bool

	// Version is recorded in meta.json for created sessions.
	Version string

	// Now replaces time.Now when naming created sessions.
	Now func() time.Time
}

// Resolve picks the session directory according to opts and makes sure its
// clip directory exists.
func Resolve(opts Options) (*Session, error) {
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := opts.Dir
	if dir == "" {
		latest, err := Latest(opts.Root)
		switch {
		case err == nil:
			dir = latest
		case errors.Is(err, ErrNoSession) && opts.CreateIfMissing:
			return Create(opts.Root, opts.Version, opts.Now())
		default:
			return nil, err
		}
	}
	return open(dir)
}

// Create makes a new session directory under root named after now and
// writes its meta.json.
func Create(root, version string, now time.Time) (*Session, error) {
	dir := filepath.Join(root, dirName(now))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", dir, err)
	}
	meta := &Meta{
		ID:         uuid.NewString(),
		Version:    version,
		SessionDir: dir,
		StartedAt:  now.UnixMilli(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("session: write meta: %w", err)
	}
	s, err := open(dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// dirName returns the session directory name for now, e.g.
// 2024-04-05T19-01-18-123Z.
func dirName(now time.Time) string {
	return strings.Replace(now.UTC().Format(nameLayout), ".", "-", 1)
}

// Latest returns the lexicographically greatest subdirectory of root other
// than [ArchiveDir].
func Latest(root string) (string, error) {
	names, err := sessionNames(root)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w under %s", ErrNoSession, root)
	}
	return filepath.Join(root, names[len(names)-1]), nil
}

// Info summarises one session for listings.
type Info struct {
	Name  string `json:"name"`
	Dir   string `json:"dir"`
	Meta  *Meta  `json:"meta,omitempty"`
	Clips int    `json:"clips"`
}

// List returns every non-archived session under root, oldest first.
func List(root string) ([]Info, error) {
	names, err := sessionNames(root)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(names))
	for _, n := range names {
		dir := filepath.Join(root, n)
		info := Info{Name: n, Dir: dir}
		info.Meta, _ = ReadMeta(dir)
		if entries, err := os.ReadDir(filepath.Join(dir, AudioSubdir)); err == nil {
			for _, e := range entries {
				if !e.IsDir() && filepath.Ext(e.Name()) == ".wav" {
					info.Clips++
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// ReadMeta parses dir/meta.json. It returns nil, nil when the file does not
// exist.
func ReadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("session: parse meta: %w", err)
	}
	return &m, nil
}

func sessionNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read root %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != ArchiveDir {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func open(dir string) (*Session, error) {
	audioDir := filepath.Join(dir, AudioSubdir)
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create audio directory: %w", err)
	}
	meta, err := ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	return &Session{
		Dir:        dir,
		AudioDir:   audioDir,
		EventsPath: filepath.Join(dir, EventsFile),
		Meta:       meta,
	}, nil
}
