package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileItem is one entry in the upload picker.
type FileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// fileBrowser is the directory walker behind Ctrl+U in multimedia rooms.
type fileBrowser struct {
	dir      string
	items    []FileItem
	selected int
	err      string
}

func newFileBrowser(start string) *fileBrowser {
	if start == "" {
		start = defaultBrowsePath()
	}
	browser := &fileBrowser{}
	browser.open(start)
	return browser
}

func (b *fileBrowser) open(dir string) {
	items, err := browseDirectory(dir)
	if err != nil {
		b.err = fmt.Sprintf("No se pudo abrir %s: %v", dir, err)
		return
	}
	b.dir = dir
	b.items = items
	b.selected = 0
	b.err = ""
}

func (b *fileBrowser) move(delta int) {
	if len(b.items) == 0 {
		return
	}
	b.selected = min(max(b.selected+delta, 0), len(b.items)-1)
}

// choose enters the selected directory, or returns the selected file path.
func (b *fileBrowser) choose() (string, bool) {
	if b.selected < 0 || b.selected >= len(b.items) {
		return "", false
	}
	item := b.items[b.selected]
	if item.IsDir {
		b.open(item.Path)
		return "", false
	}
	return item.Path, true
}

// browseDirectory lists path with directories first, skipping hidden entries
func browseDirectory(path string) ([]FileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(entries)+1)
	if parent := filepath.Dir(path); parent != path {
		items = append(items, FileItem{Name: "..", Path: parent, IsDir: true})
	}

	for _, entry := range entries {
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}
		item := FileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name == ".." || items[j].Name == ".." {
			return items[i].Name == ".."
		}
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})

	return items, nil
}

func defaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		for _, sub := range []string{"Downloads", "Documents"} {
			candidate := filepath.Join(home, sub)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate
			}
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
