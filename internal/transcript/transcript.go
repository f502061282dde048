// Package transcript reads agent session transcripts: JSONL files of
// API request records carrying token usage, model ids, and tool calls.
package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Usage is the token usage of one API request. Cache-creation tokens
// keep their TTL buckets because they price differently.
type Usage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	CacheCreation5m int64 `json:"cache_creation_5m"`
	CacheCreation1h int64 `json:"cache_creation_1h"`
	CacheReadTokens int64 `json:"cache_read_tokens"`
}

// ToolCall is one tool_use content block within a request.
type ToolCall struct {
	BlockID string `json:"block_id"`
	Name    string `json:"name"`
}

// Request is one merged API request. Streaming responses appear as
// several JSONL lines sharing a requestId; the first line supplies
// usage, model, and timestamp, later lines only contribute tool calls.
type Request struct {
	ID        string     `json:"request_id"`
	Model     string     `json:"model"`
	Timestamp time.Time  `json:"timestamp"`
	Usage     Usage      `json:"usage"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ReadFile parses one transcript file. Lines that are not assistant
// records, or that lack a requestId, timestamp, or usage block, are
// skipped; a transcript is an append-only log written by another
// process and partial lines are expected.
func ReadFile(path string) ([]*Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	byID := make(map[string]*Request)
	var order []*Request

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		rec := gjson.ParseBytes(line)
		if rec.Get("type").String() != "assistant" {
			continue
		}
		reqID := rec.Get("requestId").String()
		if reqID == "" {
			continue
		}

		if existing, ok := byID[reqID]; ok {
			mergeToolCalls(existing, rec)
			continue
		}

		ts, ok := parseTimestamp(rec.Get("timestamp").String())
		if !ok {
			continue
		}
		usage := rec.Get("message.usage")
		if !usage.Exists() {
			continue
		}
		req := &Request{
			ID:        reqID,
			Model:     rec.Get("message.model").String(),
			Timestamp: ts,
			Usage:     parseUsage(usage),
		}
		mergeToolCalls(req, rec)
		byID[reqID] = req
		order = append(order, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript %s: %w", path, err)
	}
	return order, nil
}

// parseUsage reads a usage block. cache_creation arrives either as a
// nested object with per-TTL buckets or as a legacy flat scalar that
// counts as the 5-minute bucket.
func parseUsage(u gjson.Result) Usage {
	out := Usage{
		InputTokens:     u.Get("input_tokens").Int(),
		OutputTokens:    u.Get("output_tokens").Int(),
		CacheReadTokens: u.Get("cache_read_input_tokens").Int(),
	}
	if cc := u.Get("cache_creation"); cc.IsObject() {
		out.CacheCreation5m = cc.Get("ephemeral_5m_input_tokens").Int()
		out.CacheCreation1h = cc.Get("ephemeral_1h_input_tokens").Int()
	} else {
		out.CacheCreation5m = u.Get("cache_creation_input_tokens").Int()
	}
	return out
}

// mergeToolCalls appends the record's tool_use blocks, deduplicating by
// content-block id across streamed chunks.
func mergeToolCalls(req *Request, rec gjson.Result) {
	seen := make(map[string]bool, len(req.ToolCalls))
	for _, tc := range req.ToolCalls {
		seen[tc.BlockID] = true
	}
	rec.Get("message.content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		id := block.Get("id").String()
		if id == "" || seen[id] {
			return true
		}
		seen[id] = true
		req.ToolCalls = append(req.ToolCalls, ToolCall{
			BlockID: id,
			Name:    block.Get("name").String(),
		})
		return true
	})
}

// parseTimestamp accepts RFC3339 with either Z or a numeric offset.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Files lists the .jsonl transcripts under dir, newest mtime first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transcripts dir: %w", err)
	}
	type fileInfo struct {
		path  string
		mtime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// DefaultDir derives the Claude Code transcript directory for a project
// root: ~/.claude/projects/<root with path separators replaced by dashes>.
func DefaultDir(projectRoot string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", err
	}
	munged := strings.NewReplacer("/", "-", "\\", "-", ".", "-", "_", "-").Replace(abs)
	return filepath.Join(home, ".claude", "projects", munged), nil
}
