// Package extract pulls structured artifacts out of raw model output.
//
// Small reasoning models wrap their deliberation in <think>…</think>
// blocks and frequently surround the artifact we actually want (a JSON
// object or a SQL statement) with prose. Everything in this package is a
// pure text transformation: no state is retained between calls.
package extract

import (
	"regexp"
	"strings"
)

// Reasoning delimiters emitted by qwen3, deepseek-r1 and friends.
const (
	ReasoningOpen  = "<think>"
	ReasoningClose = "</think>"
)

var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes every complete <think>…</think> region,
// markers included. Text outside the regions is returned byte-for-byte.
//
// Removal repeats until no complete region remains, so the result of
// one call is always a fixpoint: StripReasoning(StripReasoning(x)) ==
// StripReasoning(x). Unpaired markers are left alone; callers that need
// to treat a dangling opener as truncated reasoning use [SplitReasoning].
func StripReasoning(text string) string {
	if !strings.Contains(text, ReasoningOpen) {
		return text
	}
	for {
		next := reasoningBlock.ReplaceAllLiteralString(text, "")
		if next == text {
			return text
		}
		text = next
	}
}

// SplitReasoning separates text into its reasoning regions and the
// remaining content. It applies [StripReasoning] and collects what was
// removed, then handles the two degenerate shapes seen in the wild:
//
//   - the chat template already opened the block, so the output holds
//     only "…reasoning</think>answer" with no opener;
//   - generation was cut off inside the block, leaving "<think>…" with
//     no closer.
//
// In the first case everything up to the last closer is reasoning. In
// the second the content is empty: nothing after the opener is answer.
func SplitReasoning(text string) (content, reasoning string) {
	var parts []string
	for {
		locs := reasoningBlock.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			break
		}
		var b strings.Builder
		prev := 0
		for _, loc := range locs {
			b.WriteString(text[prev:loc[0]])
			inner := text[loc[0]+len(ReasoningOpen) : loc[1]-len(ReasoningClose)]
			if s := strings.TrimSpace(inner); s != "" {
				parts = append(parts, s)
			}
			prev = loc[1]
		}
		b.WriteString(text[prev:])
		text = b.String()
	}

	open := strings.Index(text, ReasoningOpen)
	closeIdx := strings.LastIndex(text, ReasoningClose)

	switch {
	case open == -1 && closeIdx != -1:
		if s := strings.TrimSpace(text[:closeIdx]); s != "" {
			parts = append(parts, s)
		}
		text = text[closeIdx+len(ReasoningClose):]
	case open != -1 && strings.TrimSpace(text[:open]) == "" && closeIdx == -1:
		if s := strings.TrimSpace(text[open+len(ReasoningOpen):]); s != "" {
			parts = append(parts, s)
		}
		text = ""
	}

	return text, strings.Join(parts, "\n\n")
}

// HasReasoningMarkers reports whether text contains either delimiter.
func HasReasoningMarkers(text string) bool {
	return strings.Contains(text, ReasoningOpen) || strings.Contains(text, ReasoningClose)
}
