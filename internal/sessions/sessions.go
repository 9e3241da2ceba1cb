// Package sessions discovers recorded session files on disk.
package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Info describes one discovered session file.
type Info struct {
	ID      string    `json:"session_id"`
	Path    string    `json:"path"`
	Project string    `json:"project"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Options controls Find.
type Options struct {
	IncludeAgents bool // Include agent-*.jsonl sub-agent logs.
	Limit         int  // Most recent N sessions; 0 means all.
}

// Find walks root for .jsonl and .json session files, most recently
// modified first. Empty files are skipped.
func Find(root string, opts Options) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".jsonl" && ext != ".json" {
			return nil
		}
		name := d.Name()
		if !opts.IncludeAgents && strings.HasPrefix(name, "agent-") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.Size() == 0 {
			return nil
		}
		out = append(out, Info{
			ID:      strings.TrimSuffix(name, ext),
			Path:    path,
			Project: projectOf(root, path),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path < out[j].Path
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// projectOf names the project directory directly under root that holds
// path, or "" for files at the root.
func projectOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	dir, _, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok {
		return ""
	}
	return ProjectName(dir)
}

// ProjectName turns an encoded project directory such as
// "-home-alice-projects-my-app" into a display name ("my-app"). Names that
// do not look encoded are returned unchanged.
func ProjectName(dir string) string {
	if !strings.HasPrefix(dir, "-") {
		return dir
	}
	name := strings.TrimPrefix(dir, "-")
	for _, marker := range []string{"-projects-", "-src-", "-code-", "-repos-", "-work-"} {
		if i := strings.LastIndex(name, marker); i >= 0 {
			return name[i+len(marker):]
		}
	}
	parts := strings.Split(name, "-")
	if len(parts) > 2 && (parts[0] == "home" || parts[0] == "Users") {
		return strings.Join(parts[2:], "-")
	}
	return name
}

// Fingerprint returns the hex SHA-256 of the file's contents.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes returns the hex SHA-256 of data.
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
