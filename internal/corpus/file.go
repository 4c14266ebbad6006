package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
)

const pageMarker = "*PAGE:"

// FileSource reads the page database format: a line "*PAGE:<url>" starts a
// page, the next line is its title and every following line up to the next
// marker is a word of the page.
type FileSource struct {
	path   string
	logger *slog.Logger
}

func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: slog.Default().With("component", "corpus-file"),
	}
}

func (s *FileSource) Name() string {
	return "file:" + s.path
}

func (s *FileSource) Documents(ctx context.Context) ([]index.Document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	defer f.Close()
	docs, dropped, err := Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("parsing corpus file %s: %w", s.path, err)
	}
	if dropped > 0 {
		s.logger.Warn("dropped incomplete pages", "path", s.path, "dropped", dropped)
	}
	s.logger.Info("corpus file parsed", "path", s.path, "pages", len(docs))
	return docs, nil
}

// Parse reads pages from r and assigns IDs 1..n in file order. Lines before
// the first marker are ignored. Pages without a title line or without any
// words are dropped and counted.
func Parse(ctx context.Context, r io.Reader) ([]index.Document, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		docs    []index.Document
		dropped int
		cur     *page
		nextID  index.DocID = 1
		lines   int
	)
	emit := func() {
		if cur == nil {
			return
		}
		if !cur.hasTitle || len(cur.words) == 0 {
			dropped++
			return
		}
		docs = append(docs, index.Document{
			ID:    nextID,
			URL:   cur.url,
			Title: cur.title,
			Body:  strings.Join(cur.words, " "),
		})
		nextID++
	}

	for scanner.Scan() {
		lines++
		if lines%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, pageMarker):
			emit()
			cur = &page{url: strings.TrimSpace(line[len(pageMarker):])}
		case cur == nil:
			continue
		case !cur.hasTitle:
			cur.title = strings.TrimSpace(line)
			cur.hasTitle = true
		default:
			if word := strings.TrimSpace(line); word != "" {
				cur.words = append(cur.words, word)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	emit()
	return docs, dropped, nil
}

type page struct {
	url      string
	title    string
	hasTitle bool
	words    []string
}
