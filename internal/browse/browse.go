// Package browse implements the root-jailed filesystem service behind
// the /files pages: directory listings, file streaming and
// authenticated uploads.
package browse

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNotFound covers missing paths and anything that would resolve
	// outside the served root.
	ErrNotFound = errors.New("path not found")

	// ErrExists is returned when an upload targets an existing file.
	ErrExists = errors.New("file already exists")
)

// ignored are housekeeping names never shown in listings.
var ignored = map[string]struct{}{
	".bzr":            {},
	"$RECYCLE.BIN":    {},
	".DAV":            {},
	".DS_Store":       {},
	".git":            {},
	".hg":             {},
	".htaccess":       {},
	".htpasswd":       {},
	".Spotlight-V100": {},
	".svn":            {},
	"__MACOSX":        {},
	"ehthumbs.db":     {},
	"lost+found":      {},
	"robots.txt":      {},
	"Thumbs.db":       {},
	"thumbs.tps":      {},
}

// kinds buckets file extensions into the display type shown by the
// listing UI. Unknown extensions fall back to "file".
var kinds = map[string]string{
	"m4a": "audio", "mp3": "audio", "oga": "audio", "ogg": "audio",
	"webma": "audio", "wav": "audio",

	"7z": "archive", "zip": "archive", "rar": "archive", "gz": "archive",
	"tar": "archive", "npz": "archive",

	"gif": "image", "ico": "image", "jpe": "image", "jpeg": "image",
	"jpg": "image", "png": "image", "svg": "image", "webp": "image",

	"pdf": "pdf",

	"3g2": "quicktime", "3gp": "quicktime", "3gp2": "quicktime",
	"3gpp": "quicktime", "mov": "quicktime", "qt": "quicktime",

	"atom": "source", "bat": "source", "bash": "source", "c": "source",
	"cmd": "source", "coffee": "source", "css": "source", "html": "source",
	"js": "source", "json": "source", "java": "source", "less": "source",
	"markdown": "source", "md": "source", "php": "source", "pl": "source",
	"py": "source", "rb": "source", "rss": "source", "sass": "source",
	"scpt": "source", "swift": "source", "scss": "source", "sh": "source",
	"xml": "source", "yml": "source", "yaml": "source", "plist": "source",

	"txt": "text",

	"mp4": "video", "m4v": "video", "ogv": "video", "webm": "video",

	"htm": "website", "mhtm": "website", "mhtml": "website",
	"xhtm": "website", "xhtml": "website",
}

// unsafeChars matches everything a stored upload name may not contain.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Entry is one row of a directory listing.
type Entry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	HumanSize string `json:"human_size"`
	MTime     int64  `json:"mtime"`
	Modified  string `json:"modified"`
}

// Totals aggregates a listing for the footer line.
type Totals struct {
	Dirs      int    `json:"dir"`
	Files     int    `json:"file"`
	Size      int64  `json:"size"`
	HumanSize string `json:"human_size"`
}

// Listing is a directory read for one browser page.
type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
	Total   Totals  `json:"total"`
}

// Browser serves a single directory tree and refuses to step outside
// of it.
type Browser struct {
	root string
}

// NewBrowser serves the tree rooted at root.
func NewBrowser(root string) *Browser {
	return &Browser{root: filepath.Clean(root)}
}

// Root returns the served directory.
func (b *Browser) Root() string {
	return b.root
}

// Resolve maps a request path onto the served tree. Leading slashes
// are relative to the root; anything still pointing above it after
// cleaning is rejected.
func (b *Browser) Resolve(rel string) (string, error) {
	clean := filepath.Clean(strings.TrimLeft(rel, "/"))
	if clean == "." {
		return b.root, nil
	}

	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	abs := filepath.Join(b.root, clean)
	if !strings.HasPrefix(abs, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}

	return abs, nil
}

// Stat resolves rel and stats the result, following symlinks.
func (b *Browser) Stat(rel string) (string, os.FileInfo, error) {
	abs, err := b.Resolve(rel)
	if err != nil {
		return "", nil, err
	}

	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}

		return "", nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	return abs, fi, nil
}

// List reads the directory at rel. Housekeeping names are always
// skipped; dotfiles only show up when showHidden is set. Directories
// sort before files, each group by name.
func (b *Browser) List(rel string, showHidden bool) (*Listing, error) {
	abs, fi, err := b.Stat(rel)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf("list %s: not a directory", rel)
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	listing := &Listing{
		Path:    relPath(rel),
		Entries: []Entry{},
	}

	for _, de := range dirents {
		name := de.Name()
		if _, skip := ignored[name]; skip {
			continue
		}
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}

		// Follow symlinks so a link to a directory browses like one.
		info, err := os.Stat(filepath.Join(abs, name))
		if err != nil {
			continue
		}

		e := Entry{
			Name:      name,
			Size:      info.Size(),
			HumanSize: humanize.Bytes(uint64(info.Size())),
			MTime:     info.ModTime().Unix(),
			Modified:  humanize.Time(info.ModTime()),
		}
		if info.IsDir() {
			e.Type = "dir"
			listing.Total.Dirs++
		} else {
			e.Type = kindOf(name)
			listing.Total.Files++
		}

		listing.Total.Size += info.Size()
		listing.Entries = append(listing.Entries, e)
	}

	sort.Slice(listing.Entries, func(i, j int) bool {
		ei, ej := listing.Entries[i], listing.Entries[j]
		if (ei.Type == "dir") != (ej.Type == "dir") {
			return ei.Type == "dir"
		}

		return ei.Name < ej.Name
	})

	listing.Total.HumanSize = humanize.Bytes(uint64(listing.Total.Size))

	return listing, nil
}

// Open resolves rel and opens the file for streaming.
func (b *Browser) Open(rel string) (*os.File, os.FileInfo, error) {
	abs, fi, err := b.Stat(rel)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", rel, err)
	}

	return f, fi, nil
}

// Save writes a new file at rel from r, creating parent directories as
// needed. Existing files are never overwritten.
func (b *Browser) Save(rel string, r io.Reader) error {
	abs, err := b.Resolve(rel)
	if err != nil {
		return err
	}

	if abs == b.root {
		return errors.New("save: file name required")
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", rel, err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrExists, rel)
		}

		return fmt.Errorf("save %s: %w", rel, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()

		return fmt.Errorf("save %s: %w", rel, err)
	}

	return f.Close()
}

// SaveUpload stores one uploaded file under the directory at rel using
// a sanitized name, and returns the name the file was stored under.
func (b *Browser) SaveUpload(rel, filename string, r io.Reader) (string, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("unusable file name %q", filename)
	}

	if err := b.Save(path.Join(rel, name), r); err != nil {
		return "", err
	}

	return name, nil
}

// Delete removes the file or empty directory at rel.
func (b *Browser) Delete(rel string) error {
	abs, err := b.Resolve(rel)
	if err != nil {
		return err
	}

	if abs == b.root {
		return errors.New("refusing to delete the browser root")
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}

		return fmt.Errorf("delete %s: %w", rel, err)
	}

	return nil
}

// Inline reports whether a file should render in the browser rather
// than download as an attachment.
func Inline(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".yml", ".yaml", ".json", ".txt", ".log", ".py", ".md":
		return true
	}

	return false
}

// SanitizeFilename reduces an uploaded file name to a safe basename:
// directory parts drop, whitespace becomes underscores and anything
// outside [A-Za-z0-9._-] is removed.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")

	return strings.Trim(name, "._-")
}

func kindOf(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if kind, ok := kinds[ext]; ok {
		return kind
	}

	return "file"
}

func relPath(rel string) string {
	clean := path.Clean("/" + strings.ReplaceAll(rel, string(filepath.Separator), "/"))

	return strings.TrimPrefix(clean, "/")
}
