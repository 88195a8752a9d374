// Package convstore persists agent dialogue as one append-only JSONL log per lane.
//
// A lane is an opaque, non-empty string id (for example "job:task:role").
// Its log lives at <storage dir>/<lane id>.jsonl beneath the workspace root.
// Operations on one lane are serialized; distinct lanes proceed independently.
package convstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/richardlehane/crock32"
	"patchwork.dev/skribe"
	"patchwork.dev/workspace"
)

// DefaultDir is the storage directory, relative to the workspace root.
const DefaultDir = ".patchwork/lanes"

const laneExt = ".jsonl"

var (
	// ErrEmptyLane reports an empty lane id.
	ErrEmptyLane = errors.New("lane id is empty")
	// ErrInvalidLane reports a lane id with an empty or dot-prefixed segment.
	ErrInvalidLane = errors.New("invalid lane id")
)

// Message is one entry in a lane. Messages are never modified once appended.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Snapshot is a materialized view of a lane.
type Snapshot struct {
	Lane         string
	Messages     []Message
	MessageCount int
	TotalBytes   int       // sum of message content lengths, in bytes
	UpdatedAt    time.Time // last write to the lane's log; zero if the lane does not exist
}

// A Store holds lanes beneath a storage directory inside a workspace root.
type Store struct {
	root workspace.Root
	dir  string // absolute storage directory

	// Now returns the timestamp for messages appended without one.
	Now func() time.Time

	mu    sync.Mutex
	lanes map[string]*sync.RWMutex // by log path
}

// Open returns a Store for storageDir (relative to root, or absolute).
// storageDir must resolve inside root. The directory is created lazily.
func Open(root workspace.Root, storageDir string) (*Store, error) {
	if storageDir == "" {
		storageDir = DefaultDir
	}
	dir, err := root.Resolve(storageDir)
	if err != nil {
		return nil, fmt.Errorf("context store directory: %w", err)
	}
	return &Store{
		root:  root,
		dir:   dir,
		Now:   func() time.Time { return time.Now().UTC() },
		lanes: map[string]*sync.RWMutex{},
	}, nil
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string { return s.dir }

// lock returns the lock for the log at p.
func (s *Store) lock(p string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[p]
	if !ok {
		l = new(sync.RWMutex)
		s.lanes[p] = l
	}
	return l
}

// path returns the log path for lane, rejecting any lane id that would
// leave the storage directory or that names another lane's log.
func (s *Store) path(lane string) (string, error) {
	if strings.TrimSpace(lane) == "" {
		return "", ErrEmptyLane
	}
	if filepath.IsAbs(lane) {
		return "", fmt.Errorf("lane %q: %w", lane, workspace.ErrPathEscape)
	}
	// Segments are taken verbatim, so each id maps to exactly one file.
	for seg := range strings.SplitSeq(lane, "/") {
		switch {
		case seg == "..":
			return "", fmt.Errorf("lane %q: %w", lane, workspace.ErrPathEscape)
		case seg == "", strings.HasPrefix(seg, "."):
			return "", fmt.Errorf("lane %q: %w", lane, ErrInvalidLane)
		}
	}
	p := filepath.Join(s.dir, filepath.FromSlash(lane)+laneExt)
	if !s.root.Contains(p) || !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("lane %q: %w", lane, workspace.ErrPathEscape)
	}
	return p, nil
}

func (s *Store) stamp(msgs []Message) []Message {
	out := slices.Clone(msgs)
	for i := range out {
		if out[i].Timestamp.IsZero() {
			out[i].Timestamp = s.Now()
		}
	}
	return out
}

// Append adds msgs to the end of lane, creating the lane if needed.
// Existing entries are never rewritten.
func (s *Store) Append(ctx context.Context, lane string, msgs ...Message) error {
	p, err := s.path(lane)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	data, err := encode(s.stamp(msgs))
	if err != nil {
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	l := s.lock(p)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	ctx = skribe.ContextWithAttr(ctx, slog.String("lane", lane))
	dropped, err := dropPartialRecord(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	if dropped > 0 {
		slog.WarnContext(ctx, "lane_partial_record_dropped", "bytes", dropped)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("append to lane %q: %w", lane, err)
	}
	slog.DebugContext(ctx, "lane_appended", "count", len(msgs), "bytes", len(data))
	return nil
}

// Replace discards lane's history and makes msgs its complete history.
func (s *Store) Replace(ctx context.Context, lane string, msgs []Message) error {
	p, err := s.path(lane)
	if err != nil {
		return err
	}
	data, err := encode(s.stamp(msgs))
	if err != nil {
		return fmt.Errorf("replace lane %q: %w", lane, err)
	}
	l := s.lock(p)
	l.Lock()
	defer l.Unlock()

	if err := atomicWrite(p, data); err != nil {
		return fmt.Errorf("replace lane %q: %w", lane, err)
	}
	ctx = skribe.ContextWithAttr(ctx, slog.String("lane", lane))
	slog.DebugContext(ctx, "lane_replaced", "count", len(msgs))
	return nil
}

// Truncate keeps only the most recent keep messages of lane.
// Truncating a missing lane, or one already within keep, changes nothing.
func (s *Store) Truncate(ctx context.Context, lane string, keep int) error {
	if keep < 0 {
		return fmt.Errorf("truncate lane %q: negative keep %d", lane, keep)
	}
	p, err := s.path(lane)
	if err != nil {
		return err
	}
	l := s.lock(p)
	l.Lock()
	defer l.Unlock()

	msgs, err := readLog(ctx, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("truncate lane %q: %w", lane, err)
	}
	if len(msgs) <= keep {
		return nil
	}
	data, err := encode(msgs[len(msgs)-keep:])
	if err != nil {
		return fmt.Errorf("truncate lane %q: %w", lane, err)
	}
	if err := atomicWrite(p, data); err != nil {
		return fmt.Errorf("truncate lane %q: %w", lane, err)
	}
	ctx = skribe.ContextWithAttr(ctx, slog.String("lane", lane))
	slog.DebugContext(ctx, "lane_truncated", "kept", keep, "dropped", len(msgs)-keep)
	return nil
}

// LoadLane returns every message of lane in append order.
// A lane that was never written yields an empty snapshot.
func (s *Store) LoadLane(ctx context.Context, lane string) (*Snapshot, error) {
	p, err := s.path(lane)
	if err != nil {
		return nil, err
	}
	l := s.lock(p)
	l.RLock()
	defer l.RUnlock()

	snap := &Snapshot{Lane: lane}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lane %q: %w", lane, err)
	}
	msgs, err := readLog(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("load lane %q: %w", lane, err)
	}
	snap.Messages = msgs
	snap.MessageCount = len(msgs)
	for _, m := range msgs {
		snap.TotalBytes += len(m.Content)
	}
	snap.UpdatedAt = info.ModTime()
	return snap, nil
}

// Lanes returns the ids of all lanes with a log on disk, sorted.
func (s *Store) Lanes() ([]string, error) {
	var lanes []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, laneExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		lanes = append(lanes, strings.TrimSuffix(filepath.ToSlash(rel), laneExt))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	slices.Sort(lanes)
	return lanes, nil
}

// dropPartialRecord cuts an interrupted append off the end of f, back to
// the last newline, so the next record starts on a line of its own.
// It returns the number of bytes removed.
func dropPartialRecord(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	buf := make([]byte, 4096)
	end := size
	for end > 0 {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil {
			return 0, err
		}
		if end == size && chunk[len(chunk)-1] == '\n' {
			return 0, nil
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}
	if err := f.Truncate(end); err != nil {
		return 0, err
	}
	return size - end, nil
}

func encode(msgs []Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, m := range msgs {
		// Encode appends the newline.
		if err := enc.Encode(m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// readLog decodes a lane log. A final line without a newline is the
// remains of an interrupted append; it is skipped, not treated as corruption.
func readLog(ctx context.Context, p string) ([]Message, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []Message
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				slog.WarnContext(ctx, "lane_partial_record_skipped", "path", p, "line", lineNo)
			}
			return msgs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(p), lineNo, err)
		}
		msgs = append(msgs, m)
	}
}

// atomicWrite replaces p with data via a temp file and rename.
func atomicWrite(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(p)+".tmp-"+crock32.Encode(rand.Uint64()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		return err
	}
	success = true
	return nil
}
