// Package reports re-hosts qibocal HTML reports inside the dashboard.
// A report is a directory with an index.html and its assets, usually
// the output dir of a finished experiment. The viewer extracts the
// interesting parts of the page and rewrites asset references to the
// dashboard's /report_assets/ route.
package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const indexFile = "index.html"

// NoReportError says no report could be located. LastPath carries the
// stale pointer, when one existed, so the page can show where it looked.
type NoReportError struct {
	LastPath string
}

func (e *NoReportError) Error() string {
	if e.LastPath == "" {
		return "no report available yet"
	}

	return fmt.Sprintf("no report available at %s", e.LastPath)
}

// Report is a processed qibocal report ready for templating.
type Report struct {
	Dir     string
	RelPath string
	Head    string
	Body    string
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Service locates and processes reports.
type Service struct {
	root       string
	dataDir    string
	lastReport string
	run        Runner
	log        *zap.SugaredLogger
}

func NewService(root, dataDir, lastReport string, run Runner, log *zap.SugaredLogger) *Service {
	return &Service{
		root:       root,
		dataDir:    dataDir,
		lastReport: lastReport,
		run:        run,
		log:        log,
	}
}

// Latest processes the most recent report.
func (s *Service) Latest() (*Report, error) {
	dir, err := s.LatestDir()
	if err != nil {
		return nil, err
	}

	return s.Render(dir)
}

// LatestDir resolves the newest report directory. The last report
// pointer wins; when it is missing or stale the experiment outputs are
// scanned for the freshest index.html.
func (s *Service) LatestDir() (string, error) {
	lastPath := ""
	if b, err := os.ReadFile(s.lastReport); err == nil {
		lastPath = strings.TrimSpace(string(b))
		if lastPath != "" && hasIndex(lastPath) {
			return lastPath, nil
		}
		if lastPath != "" {
			s.log.Debugw("last report pointer is stale", "path", lastPath)
		}
	}

	if dir := s.newestOutput(); dir != "" {
		return dir, nil
	}

	return "", &NoReportError{LastPath: lastPath}
}

// newestOutput scans the experiment tree for the most recently written
// report index.
func (s *Service) newestOutput() string {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return ""
	}

	var (
		newest    string
		newestMod time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.dataDir, entry.Name(), "output")
		info, err := os.Stat(filepath.Join(dir, indexFile))
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = dir
			newestMod = info.ModTime()
		}
	}

	return newest
}

// Render reads a report's index.html and prepares it for embedding.
func (s *Service) Render(dir string) (*Report, error) {
	b, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("read report index: %w", err)
	}
	content := string(b)

	head := cutBetween(content, "<head>", "</head>")

	body := content
	if strings.Contains(content, "<body>") && strings.Contains(content, "</body>") {
		body = cutBetween(content, "<body>", "</body>")
		if strings.Contains(body, "<header") {
			if _, after, found := strings.Cut(body, "</header>"); found {
				body = after
			}
		}
	}
	body = sidebarRe.ReplaceAllString(body, "")

	head = rewriteAttr(head, cssHrefRe, "href")
	head = rewriteAttr(head, jsSrcRe, "src")
	body = rewriteAttr(body, jsSrcRe, "src")
	body = rewriteAttr(body, imgSrcRe, "src")
	body = rewriteQuoted(body, dataRefRe)

	rel := strings.TrimPrefix(dir, s.root)
	rel = strings.TrimLeft(rel, "/")

	return &Report{Dir: dir, RelPath: rel, Head: head, Body: body}, nil
}

// AssetPath resolves an asset reference inside a report directory,
// rejecting anything that would escape it.
func AssetPath(reportDir, ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset path %q", ref)
	}

	full := filepath.Join(reportDir, clean)
	if !strings.HasPrefix(full, reportDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid asset path %q", ref)
	}

	return full, nil
}

func (s *Service) AssetPath(reportDir, ref string) (string, error) {
	return AssetPath(reportDir, ref)
}

// QQAvailable reports whether the qibocal CLI answers on this host.
func (s *Service) QQAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.run.Run(ctx, "qq", "--help")

	return err == nil
}

var (
	sidebarRe = regexp.MustCompile(`(?s)<nav id="sidebarMenu".*?</nav>`)
	cssHrefRe = regexp.MustCompile(`href=['"]([^'"]+\.css[^'"]*)['"]`)
	jsSrcRe   = regexp.MustCompile(`src=['"]([^'"]+\.js[^'"]*)['"]`)
	imgSrcRe  = regexp.MustCompile(`src=['"]([^'"]+\.(?:png|jpg|jpeg|gif|svg)[^'"]*)['"]`)
	dataRefRe = regexp.MustCompile(`['"]([^'"]+\.(?:json|csv|data|yml|yaml)[^'"]*)['"]`)
)

// keepAsIs spares absolute references and data URIs from rewriting.
func keepAsIs(url string) bool {
	return strings.HasPrefix(url, "/") ||
		strings.HasPrefix(url, "http") ||
		strings.HasPrefix(url, "data:")
}

// rewriteAttr points relative attribute references at /report_assets/.
func rewriteAttr(content string, re *regexp.Regexp, attr string) string {
	return re.ReplaceAllStringFunc(content, func(m string) string {
		url := re.FindStringSubmatch(m)[1]
		if keepAsIs(url) {
			return m
		}

		return fmt.Sprintf(`%s="/report_assets/%s"`, attr, url)
	})
}

// rewriteQuoted fixes bare quoted references to plot data files.
func rewriteQuoted(content string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(content, func(m string) string {
		url := re.FindStringSubmatch(m)[1]
		if keepAsIs(url) {
			return m
		}

		return fmt.Sprintf(`"/report_assets/%s"`, url)
	})
}

func cutBetween(s, start, end string) string {
	_, after, found := strings.Cut(s, start)
	if !found {
		return ""
	}
	inner, _, found := strings.Cut(after, end)
	if !found {
		return ""
	}

	return inner
}

func hasIndex(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, indexFile))

	return err == nil
}

// IsNoReport reports whether err means there is nothing to show yet.
func IsNoReport(err error) bool {
	var nre *NoReportError

	return errors.As(err, &nre)
}
