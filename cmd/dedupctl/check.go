package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/service"
)

var (
	checkFile     string
	checkID       string
	checkTitle    string
	checkBody     string
	checkKey      map[string]string
	checkResearch []string
	checkStrict   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check one artifact and commit it unless it is rejected",
	Long: `Check fingerprints an artifact, compares it against the registry and the
vector index, and records it when accepted.

The artifact comes from --file (YAML or JSON, "-" for stdin) or from flags:

  dedupctl check --id story-42 --title "The Keeper" \
    --key setting="abandoned lighthouse" --key fear=isolation \
    --research folklore-1 --body "Fog rolled in..."

Exit status is 2 when strict mode rejects a duplicate and 3 on a partial commit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := checkDoc(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{embedder: len(doc.Vector) == 0})
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.session()
		if err != nil {
			return err
		}

		c := doc.candidate()
		if len(c.Vector) == 0 {
			c.Vector = service.EmbedOrNil(ctx, a.embedder, doc.text())
		}

		res, evalErr := session.Evaluate(ctx, c)
		if res == nil {
			return evalErr
		}
		if ok, err := emit(os.Stdout, res); err != nil {
			return err
		} else if !ok {
			printResult(res)
		}
		return evalErr
	},
}

func checkDoc(cmd *cobra.Command) (artifactDoc, error) {
	if checkFile != "" {
		docs, err := readDocs(checkFile)
		if err != nil {
			return artifactDoc{}, err
		}
		if len(docs) != 1 {
			return artifactDoc{}, fmt.Errorf("check expects exactly one artifact, %s has %d", checkFile, len(docs))
		}
		doc := docs[0]
		if cmd.Flags().Changed("strict") {
			doc.Strict = &checkStrict
		}
		return doc, nil
	}

	if len(checkKey) == 0 && checkTitle == "" && checkBody == "" {
		return artifactDoc{}, errors.New("nothing to check: pass --file or at least one of --key, --title, --body")
	}
	doc := artifactDoc{
		ArtifactID:   checkID,
		Title:        checkTitle,
		Body:         checkBody,
		CanonicalKey: checkKey,
		ResearchUsed: checkResearch,
	}
	if cmd.Flags().Changed("strict") {
		doc.Strict = &checkStrict
	}
	return doc, nil
}

func init() {
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "Artifact file (YAML or JSON, - for stdin)")
	checkCmd.Flags().StringVar(&checkID, "id", "", "Artifact id (generated when empty)")
	checkCmd.Flags().StringVar(&checkTitle, "title", "", "Artifact title")
	checkCmd.Flags().StringVar(&checkBody, "body", "", "Artifact body text")
	checkCmd.Flags().StringToStringVar(&checkKey, "key", nil, "Canonical key dimension, name=value (repeatable)")
	checkCmd.Flags().StringSliceVar(&checkResearch, "research", nil, "Research sources used (repeatable)")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "Reject duplicates instead of warning (overrides STRICT_MODE)")
	rootCmd.AddCommand(checkCmd)
}
