// Package pipeline implements the TextPipeline: the opaque collaborator
// that turns one raw document into a stream of ProcessedDocuments
// grouped under a configured token (character) limit; the limit is
// applied with URLs replaced by a placeholder, so a chunk whose URLs
// are reinserted can be longer than the limit. Grounded on
// original_source/retriever/src/provider/utils/{pipeline.py,tokenizer.py}
// for the URL-extraction, cleaning, and greedy-grouping shape; the
// concrete translation/NLP backends the original used (nltk tokenizers,
// a translation service) are out of scope per spec.md §1, so cleaning
// here is limited to whitespace/control-character normalization.
package pipeline

import (
	"context"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

const linkPlaceholder = "[LINK]"

// Chunk is one token-bounded piece of cleaned text, not yet assigned
// an id (ids are assigned by the MetadataStore at persistence time,
// per spec.md §3).
type Chunk struct {
	Text string
}

// TextPipeline produces a bounded sequence of Chunks from raw content.
type TextPipeline interface {
	Process(ctx context.Context, raw string, tokenLimit int) ([]Chunk, error)
}

// Default is the reference TextPipeline: strip control characters,
// collapse whitespace, extract URLs behind a placeholder so they don't
// dominate token budgets during grouping, then greedily group
// sentences under tokenLimit and reinsert the URLs in order — per
// spec.md §3's literal wording that a ProcessedDocument carries "the
// cleaned text with URL placeholders reinserted" (see DESIGN.md for
// the discrepancy with the original source, which instead drops the
// URLs).
type Default struct{}

func NewDefault() *Default { return &Default{} }

func (d *Default) Process(ctx context.Context, raw string, tokenLimit int) ([]Chunk, error) {
	urls := urlPattern.FindAllString(raw, -1)
	withPlaceholders := urlPattern.ReplaceAllString(raw, linkPlaceholder)

	cleaned := cleanText(withPlaceholders)
	sentences := splitSentences(cleaned)
	groups := groupSentences(sentences, tokenLimit)

	urlIdx := 0
	chunks := make([]Chunk, 0, len(groups))
	for _, g := range groups {
		text := g
		for strings.Contains(text, linkPlaceholder) && urlIdx < len(urls) {
			text = strings.Replace(text, linkPlaceholder, urls[urlIdx], 1)
			urlIdx++
		}
		chunks = append(chunks, Chunk{Text: strings.TrimSpace(text)})
	}
	return chunks, nil
}

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F-\x9F\x{200B}-\x{200F}\x{202A}-\x{202E}]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

func cleanText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = strings.NewReplacer("\r\n", " ", "\t", " ", "\n", " ").Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// splitSentences splits on sentence-ending punctuation, matching the
// original's rune-by-rune splitSentences over `.!?`.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// groupSentences greedily packs sentences so that each group's
// character length does not exceed tokenLimit, falling back to a
// hard split on any single sentence that alone exceeds the limit.
func groupSentences(sentences []string, tokenLimit int) []string {
	if tokenLimit <= 0 {
		tokenLimit = 1024
	}
	var groups []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			groups = append(groups, current.String())
			current.Reset()
		}
	}

	for _, s := range sentences {
		if len(s) > tokenLimit {
			flush()
			for start := 0; start < len(s); start += tokenLimit {
				end := start + tokenLimit
				if end > len(s) {
					end = len(s)
				}
				groups = append(groups, s[start:end])
			}
			continue
		}
		if current.Len()+len(s)+1 > tokenLimit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)
	}
	flush()
	return groups
}
