package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/booksage/internal/result"
)

// ChunkStore persists retrieved chunks under
// <root>/chunks/<session>/depth_<d>/<node>/<chunk>.txt.
type ChunkStore struct {
	root string
}

func NewChunkStore(runtimeDir string) *ChunkStore {
	return &ChunkStore{root: filepath.Join(runtimeDir, "chunks")}
}

// DepthDir returns the directory holding one depth of a session.
func (c *ChunkStore) DepthDir(sessionID string, depth int) string {
	return filepath.Join(c.root, sessionID, fmt.Sprintf("depth_%d", depth))
}

// Reset clears chunks left from an earlier run of the same depth.
func (c *ChunkStore) Reset(sessionID string, depth int) error {
	dir := c.DepthDir(sessionID, depth)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear chunk dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	return nil
}

// Write stores one chunk and returns its path.
func (c *ChunkStore) Write(sessionID string, depth int, nodeID, chunkID, text string) (string, error) {
	dir := filepath.Join(c.DepthDir(sessionID, depth), nodeDirName(nodeID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create node chunk dir: %w", err)
	}
	path := filepath.Join(dir, chunkID+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write chunk %s/%s: %w", nodeID, chunkID, err)
	}
	return path, nil
}

// Read returns a stored chunk.
func (c *ChunkStore) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read chunk: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

var nodeDirReplacer = strings.NewReplacer("::", "__", "/", "_", `\`, "_")

func nodeDirName(nodeID string) string {
	return nodeDirReplacer.Replace(nodeID)
}

// ResultFile is the name of a session's packaged result.
const ResultFile = "result.json"

// ErrSessionNotFound is returned when no result is stored for a session.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps the audit trail of a session under
// <root>/sessions/<session>/.
type SessionStore struct {
	root string
}

func NewSessionStore(runtimeDir string) *SessionStore {
	return &SessionStore{root: filepath.Join(runtimeDir, "sessions")}
}

// Dir returns a session's directory.
func (s *SessionStore) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// SaveDepth writes v as depth_<d>/<name>.json.
func (s *SessionStore) SaveDepth(sessionID string, depth int, name string, v any) error {
	return writeJSON(filepath.Join(s.Dir(sessionID), fmt.Sprintf("depth_%d", depth), name+".json"), v)
}

// SaveResult writes the packaged result.
func (s *SessionStore) SaveResult(res result.Result) error {
	return writeJSON(filepath.Join(s.Dir(res.SessionID), ResultFile), res)
}

// LoadResult reads a packaged result back.
func (s *SessionStore) LoadResult(sessionID string) (result.Result, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\.`) {
		return result.Result{}, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(sessionID), ResultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return result.Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return result.Result{}, fmt.Errorf("read result: %w", err)
	}
	return result.Decode(data)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
