package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/pkg/classify"
)

// docHeader is the YAML front matter of a knowledge base file.
type docHeader struct {
	Slug       string   `yaml:"slug"`
	Title      string   `yaml:"title"`
	Category   string   `yaml:"category"`
	Tags       []string `yaml:"tags"`
	Difficulty string   `yaml:"difficulty"`
}

// LoadDirectory reads every markdown file under dir into documents, sorted by
// slug so ingestion order is stable.
func LoadDirectory(dir string) ([]models.Document, error) {
	var docs []models.Document

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		doc, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Slug < docs[j].Slug })
	return docs, nil
}

// LoadFile parses one knowledge base file: YAML front matter, then the
// markdown body.
func LoadFile(path string) (models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Document{}, err
	}

	header, body, err := splitFrontMatter(string(data))
	if err != nil {
		return models.Document{}, err
	}

	if header.Slug == "" {
		header.Slug = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	if header.Title == "" {
		return models.Document{}, fmt.Errorf("missing title in front matter")
	}
	if !classify.KnownCategory(header.Category) {
		return models.Document{}, fmt.Errorf("unknown category %q", header.Category)
	}

	return models.Document{
		ID:          header.Slug,
		Slug:        header.Slug,
		Title:       header.Title,
		Category:    header.Category,
		Tags:        header.Tags,
		Difficulty:  header.Difficulty,
		Content:     body,
		ContentHash: hashContent(body),
	}, nil
}

func splitFrontMatter(data string) (docHeader, string, error) {
	var header docHeader

	rest, found := strings.CutPrefix(data, "---\n")
	if !found {
		return header, "", fmt.Errorf("missing front matter")
	}

	raw, body, found := strings.Cut(rest, "\n---\n")
	if !found {
		return header, "", fmt.Errorf("unterminated front matter")
	}

	if err := yaml.Unmarshal([]byte(raw), &header); err != nil {
		return header, "", fmt.Errorf("invalid front matter: %w", err)
	}

	return header, strings.TrimLeft(body, "\n"), nil
}

func hashContent(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
