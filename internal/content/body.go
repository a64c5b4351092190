package content

import "strings"

// PromptDelimiter separates the author's reflection from the generation
// prompt inside the stored body field. Stored rows depend on this exact
// byte sequence; only SplitBody and CombineBody may reference it.
const PromptDelimiter = "--- AI Prompt ---"

// MaxFieldWords caps the word count accepted into either edit sub-field.
const MaxFieldWords = 200

// SplitBody parses a stored body into its reflection and generation
// prompt halves. Bodies without the delimiter carry no reflection; the
// full body is the generation prompt. The split happens at the first
// occurrence of the delimiter and both halves are trimmed.
func SplitBody(body string) (reflection, generation string) {
	before, after, found := strings.Cut(body, PromptDelimiter)
	if !found {
		return "", strings.TrimSpace(body)
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// CombineBody produces the stored body form. A non-empty reflection is
// joined to the generation prompt with the delimiter line; an empty
// reflection stores the generation prompt alone, with no delimiter.
func CombineBody(reflection, generation string) string {
	reflection = strings.TrimSpace(reflection)
	generation = strings.TrimSpace(generation)
	if reflection == "" {
		return generation
	}
	return reflection + "\n\n" + PromptDelimiter + "\n" + generation
}

// WordCount reports the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// WithinWordLimit reports whether text fits under the edit-field word cap.
func WithinWordLimit(text string) bool {
	return WordCount(text) <= MaxFieldWords
}
