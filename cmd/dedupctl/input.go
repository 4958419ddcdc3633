package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/service"
)

// artifactDoc is one artifact as read from a YAML or JSON file.
// canonical_key accepts any dimension alias; research_used is the provenance list.
type artifactDoc struct {
	ArtifactID   string            `yaml:"artifact_id"`
	Title        string            `yaml:"title"`
	Body         string            `yaml:"body"`
	CanonicalKey map[string]string `yaml:"canonical_key"`
	ResearchUsed []string          `yaml:"research_used"`
	Vector       []float32         `yaml:"vector"`
	Strict       *bool             `yaml:"strict"`
}

func (d artifactDoc) key() domain.CanonicalKey {
	return domain.CanonicalKeyFromMap(d.CanonicalKey)
}

func (d artifactDoc) text() string {
	return service.BuildEmbeddingText(d.Title, d.Body, d.key())
}

func (d artifactDoc) candidate() service.Candidate {
	return service.Candidate{
		ArtifactID: d.ArtifactID,
		Key:        d.key(),
		Provenance: d.ResearchUsed,
		Vector:     d.Vector,
		Strict:     d.Strict,
	}
}

// readDocs reads a single document or a list of documents. "-" reads stdin.
func readDocs(path string) ([]artifactDoc, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseDocs(data)
}

func parseDocs(data []byte) ([]artifactDoc, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse artifacts: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var docs []artifactDoc
		if err := node.Decode(&docs); err != nil {
			return nil, fmt.Errorf("parse artifacts: %w", err)
		}
		return docs, nil
	case yaml.MappingNode:
		var doc artifactDoc
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse artifact: %w", err)
		}
		return []artifactDoc{doc}, nil
	default:
		return nil, fmt.Errorf("parse artifacts: expected a mapping or a list, got %s", bytes.TrimSpace(data[:min(len(data), 40)]))
	}
}
