package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/service"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// emit writes v as JSON or YAML and reports whether it did. Text output is left to the caller.
func emit(w io.Writer, v any) (bool, error) {
	switch outputFormat {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return false, nil
	}
}

func signalColor(s domain.Signal) func(a ...interface{}) string {
	switch s {
	case domain.SignalHigh:
		return red
	case domain.SignalMedium:
		return yellow
	default:
		return green
	}
}

func printResult(res *service.Result) {
	icon, paint := "✓", green
	switch res.Outcome {
	case domain.OutcomeDuplicateWarned:
		icon, paint = "⚠", yellow
	case domain.OutcomeDuplicateAborted:
		icon, paint = "✗", red
	}

	fmt.Printf("%s %s  %s\n", paint(icon), paint(string(res.Outcome)), res.ArtifactID)
	fmt.Printf("    Signature: %s\n", res.Signature)
	fmt.Printf("    Signal:    %s (hybrid %.3f, semantic %.3f)\n",
		signalColor(res.Signal)(string(res.Signal)), res.HybridScore, res.SemanticScore)
	if res.CanonicalMatch {
		fmt.Printf("    Exact match: %s\n", res.MatchedArtifactID)
	}
	if res.NearestArtifactID != "" {
		fmt.Printf("    Nearest:   %s\n", res.NearestArtifactID)
	}
	if res.Degraded {
		fmt.Printf("    %s %s\n", yellow("Degraded:"), strings.Join(res.DegradedReasons, ", "))
	}
	if res.PartialCommit {
		fmt.Printf("    %s registry and index disagree for this artifact\n", red("Partial commit:"))
	} else if !res.Committed {
		fmt.Printf("    %s\n", gray("Not committed"))
	}
}

func printHeader(title string) {
	fmt.Printf("\n%s\n\n", cyan("=== "+title+" ==="))
}
