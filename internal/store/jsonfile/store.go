// Package jsonfile 将每个 (kind, key) 的快照日志保存为一个 JSON 数组文件。
// 每次写入都是读-改-写整份文件；损坏或缺失的文件按空日志处理。
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lpwatch/internal/logger"
	"lpwatch/internal/store"
	"lpwatch/internal/types"
)

var log = logger.Named("store.jsonfile")

// SnapshotLog implements store.SnapshotLog on a directory tree:
//
//	<root>/<kind>/<key>.json
type SnapshotLog struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ store.SnapshotLog = (*SnapshotLog)(nil)

// NewSnapshotLog prepares the root directory.
func NewSnapshotLog(root string) (*SnapshotLog, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("jsonfile: root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create root: %w", err)
	}
	return &SnapshotLog{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *SnapshotLog) Close() error { return nil }

func (s *SnapshotLog) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *SnapshotLog) snapshotPath(kind store.Kind, key string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("jsonfile: unknown kind %q", kind)
	}
	name := encodeKey(key)
	if name == "" {
		return "", fmt.Errorf("jsonfile: invalid key %q", key)
	}
	return filepath.Join(s.root, string(kind), name+".json"), nil
}

// encodeKey 对 key 做可逆的路径转义，不同 key 不会落到同一文件；base58 id 原样保留。
func encodeKey(key string) string {
	if key == "" || key == "." || key == ".." {
		return ""
	}
	return url.PathEscape(key)
}

func decodeKey(name string) (string, bool) {
	key, err := url.PathUnescape(name)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

func (s *SnapshotLog) Append(ctx context.Context, kind store.Kind, snap types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.snapshotPath(kind, snap.Key)
	if err != nil {
		return err
	}
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	items := readSnapshots(path)
	items = append(items, snap)
	return writeJSON(path, items)
}

func (s *SnapshotLog) Load(ctx context.Context, kind store.Kind, key string, since time.Time) ([]types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.snapshotPath(kind, key)
	if err != nil {
		return nil, err
	}
	lock := s.fileLock(path)
	lock.Lock()
	items := readSnapshots(path)
	lock.Unlock()

	out := make([]types.Snapshot, 0, len(items))
	for _, it := range items {
		if it.Timestamp.Before(since) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *SnapshotLog) Prune(ctx context.Context, kind store.Kind, key string, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := s.snapshotPath(kind, key)
	if err != nil {
		return 0, err
	}
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	items := readSnapshots(path)
	kept := items[:0]
	for _, it := range items {
		if it.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, it)
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, writeJSON(path, kept)
}

func (s *SnapshotLog) Keys(ctx context.Context, kind store.Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("jsonfile: unknown kind %q", kind)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, string(kind)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, ok := decodeKey(strings.TrimSuffix(name, ".json"))
		if !ok {
			log.Warnf("跳过无法解析的快照文件 %s", name)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
