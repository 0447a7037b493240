package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// catalogFile is the YAML layout of one curriculum catalog file.
type catalogFile struct {
	Level     string                     `yaml:"level"`
	Chapters  []ChapterContent           `yaml:"chapters"`
	Remedial  map[string]RemedialContent `yaml:"remedial"`
	Questions []catalogQuestion          `yaml:"questions"`
}

type catalogQuestion struct {
	Chapter  int `yaml:"chapter"`
	Question `yaml:",inline"`
}

// CatalogSynthesizer serves pre-authored content loaded from YAML files.
type CatalogSynthesizer struct {
	rootDir   string
	chapters  map[string]map[int]ChapterContent // level -> number -> chapter
	remedial  map[string]RemedialContent        // topic key -> content
	questions map[int][]Question                // chapter number -> questions
	mu        sync.RWMutex
}

// NewCatalogSynthesizer loads every catalog file under rootDir.
func NewCatalogSynthesizer(rootDir string) (*CatalogSynthesizer, error) {
	c := &CatalogSynthesizer{
		rootDir:   rootDir,
		chapters:  make(map[string]map[int]ChapterContent),
		remedial:  make(map[string]RemedialContent),
		questions: make(map[int][]Question),
	}

	if err := c.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("curriculum catalog loaded",
		"levels", len(c.chapters),
		"remedial_topics", len(c.remedial),
	)
	return c, nil
}

func (c *CatalogSynthesizer) loadAll() error {
	return filepath.Walk(c.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return c.loadFile(path)
		}
		return nil
	})
}

func (c *CatalogSynthesizer) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(file.Chapters) > 0 {
		level := strings.ToUpper(strings.TrimSpace(file.Level))
		if level == "" {
			slog.Warn("skipping catalog chapters without level", "path", path)
		} else {
			if c.chapters[level] == nil {
				c.chapters[level] = make(map[int]ChapterContent)
			}
			for _, ch := range file.Chapters {
				c.chapters[level][ch.Number] = ch
			}
		}
	}
	for topic, rc := range file.Remedial {
		c.remedial[learning.TopicKey(topic)] = rc
	}
	for _, q := range file.Questions {
		c.questions[q.Chapter] = append(c.questions[q.Chapter], q.Question)
	}
	return nil
}

func (c *CatalogSynthesizer) SynthesizeCurriculum(_ context.Context, level string, r learning.ChapterRange) ([]ChapterContent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byNumber := c.chapters[strings.ToUpper(strings.TrimSpace(level))]
	var out []ChapterContent
	for n := r.From; n <= r.To; n++ {
		if ch, ok := byNumber[n]; ok {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog has no %s chapters in range %s", level, r.Key())
	}
	return out, nil
}

func (c *CatalogSynthesizer) SynthesizeRemedial(_ context.Context, topic string, _ []MistakeSample) (RemedialContent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rc, ok := c.remedial[learning.TopicKey(topic)]
	if !ok || len(rc.Exercises) == 0 {
		return RemedialContent{}, fmt.Errorf("catalog has no remedial content for %q", topic)
	}
	return rc, nil
}

func (c *CatalogSynthesizer) SynthesizeAssessment(_ context.Context, r learning.ChapterRange) ([]Question, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	numbers := make([]int, 0, len(c.questions))
	for n := range c.questions {
		if r.Contains(n) {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	var out []Question
	for _, n := range numbers {
		out = append(out, c.questions[n]...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog has no questions for range %s", r.Key())
	}
	return out, nil
}

// Levels returns the levels present in the catalog.
func (c *CatalogSynthesizer) Levels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	levels := make([]string, 0, len(c.chapters))
	for l := range c.chapters {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	return levels
}
