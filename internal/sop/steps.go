package sop

import (
	"sort"
	"strings"

	prose "github.com/jdkato/prose/v2"
)

const (
	// minStepLength drops fragments too short to be an instruction.
	minStepLength = 10
	// dedupKeyLength: steps sharing the same lower-cased prefix collapse
	// into the most detailed variant.
	dedupKeyLength = 50
	defaultMaxSteps = 20
)

// verbConversions maps past-tense support-action verbs to their imperative
// forms. Kept as a data table so the vocabulary can grow without touching
// the extraction logic.
var verbConversions = map[string]string{
	"restarted":    "Restart",
	"reset":        "Reset",
	"checked":      "Check",
	"verified":     "Verify",
	"updated":      "Update",
	"configured":   "Configure",
	"installed":    "Install",
	"removed":      "Remove",
	"disabled":     "Disable",
	"enabled":      "Enable",
	"replaced":     "Replace",
	"tested":       "Test",
	"ran":          "Run",
	"opened":       "Open",
	"closed":       "Close",
	"cleared":      "Clear",
	"recreated":    "Recreate",
	"increased":    "Increase",
	"decreased":    "Decrease",
	"set":          "Set",
	"changed":      "Change",
	"added":        "Add",
	"deleted":      "Delete",
	"modified":     "Modify",
	"reviewed":     "Review",
	"rebuilt":      "Rebuild",
	"reconfigured": "Reconfigure",
	"repaired":     "Repair",
	"fixed":        "Fix",
	"resolved":     "Resolve",
	"ensured":      "Ensure",
	"rebooted":     "Reboot",
	"downloaded":   "Download",
	"uploaded":     "Upload",
	"adjusted":     "Adjust",
	"diagnosed":    "Diagnose",
	"identified":   "Identify",
	"confirmed":    "Confirm",
	"advised":      "Advise",
	"implemented":  "Implement",
	"created":      "Create",
	"sent":         "Send",
	"unlocked":     "Unlock",
	"logged":       "Log",
	"connected":    "Connect",
	"disconnected": "Disconnect",
	"found":        "Find",
	"located":      "Locate",
	"navigated":    "Navigate",
	"selected":     "Select",
	"clicked":      "Click",
	"entered":      "Enter",
	"typed":        "Type",
	"executed":     "Execute",
	"performed":    "Perform",
	"applied":      "Apply",
	"activated":    "Activate",
	"deactivated":  "Deactivate",
}

// stepMarkers are the list-item prefixes recognized as structured steps.
var stepMarkers = []string{"1.", "2.", "3.", "4.", "5.", "6.", "7.", "8.", "9.", "0.", "-", "*", "•", "▪", "○"}

const markerCutset = "0123456789.-*•▪○) \t"

// placeholderResolutionMarkers flag resolutions that are auto-inserted
// placeholders rather than procedures. Tickets saved before a real
// resolution was entered carry these phrases.
var placeholderResolutionMarkers = []string{
	"resolution pending",
	"enter resolution manually",
}

// Extractor turns free-text resolution notes into a ranked, deduplicated
// list of imperative action steps.
type Extractor struct {
	maxSteps int
}

func NewExtractor(maxSteps int) *Extractor {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Extractor{maxSteps: maxSteps}
}

// ExtractSteps applies, in priority order: structured-list detection,
// sentence splitting, and a generic fallback template, then imperative
// normalization, deduplication and frequency ranking. Deterministic for a
// given input.
func (e *Extractor) ExtractSteps(resolutions []string) []string {
	usable := make([]string, 0, len(resolutions))
	for _, text := range resolutions {
		if strings.TrimSpace(text) == "" || isPlaceholderResolution(text) {
			continue
		}
		usable = append(usable, text)
	}

	var raw []string

	for _, text := range usable {
		raw = append(raw, structuredSteps(text)...)
	}

	if len(raw) == 0 {
		for _, text := range usable {
			for _, sentence := range splitSentences(text) {
				sentence = strings.TrimSpace(strings.TrimRight(sentence, "."))
				if len(sentence) > minStepLength {
					raw = append(raw, convertToImperative(sentence))
				}
			}
		}
	}

	if len(raw) == 0 && len(usable) > 0 {
		raw = fallbackSteps(usable[0])
	}

	return e.dedupeAndRank(raw)
}

func structuredSteps(text string) []string {
	var steps []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)

		matched := false
		for _, marker := range stepMarkers {
			if strings.HasPrefix(line, marker) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		step := strings.TrimLeft(line, markerCutset)
		if len(step) > minStepLength {
			steps = append(steps, convertToImperative(step))
		}
	}

	return steps
}

// splitSentences breaks a resolution into candidate fragments: sentence
// segmentation first, then semicolon splits within sentences, then a bare
// " and " split when nothing else applies.
func splitSentences(text string) []string {
	var sentences []string

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err == nil {
		for _, s := range doc.Sentences() {
			sentences = append(sentences, splitOnSemicolons(s.Text)...)
		}
	} else {
		sentences = splitOnSemicolons(text)
	}

	if len(sentences) <= 1 && !strings.Contains(text, ";") && strings.Contains(text, " and ") {
		parts := strings.Split(text, " and ")
		sentences = sentences[:0]
		for _, p := range parts {
			sentences = append(sentences, strings.TrimSpace(p))
		}
	}

	return sentences
}

func splitOnSemicolons(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fallbackSteps wraps an unsplittable but non-trivial resolution in a
// generic five-step procedure so no cluster ends up with an empty SOP.
func fallbackSteps(resolution string) []string {
	resolution = strings.TrimSpace(resolution)
	if len(resolution) <= 20 {
		return nil
	}

	return []string{
		"Identify and verify the symptoms of the reported issue.",
		"Follow these resolution steps: " + strings.TrimSuffix(convertToImperative(resolution), "."),
		"Test the solution to confirm the issue is resolved.",
		"Verify all affected systems and services are functioning normally.",
		"Document the resolution and close the incident ticket.",
	}
}

// convertToImperative rewrites a past-tense narrative fragment as an
// instruction: the leading verb (or the first recognized verb) is swapped
// for its imperative form, the first letter is capitalized, and exactly one
// terminal period is enforced.
func convertToImperative(text string) string {
	text = strings.TrimSpace(text)
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	first := strings.ToLower(strings.TrimRight(words[0], ".,;:"))
	if imperative, ok := verbConversions[first]; ok {
		words[0] = imperative
	} else {
		for i, w := range words {
			key := strings.ToLower(strings.TrimRight(w, ".,;:"))
			if imperative, ok := verbConversions[key]; ok {
				words[i] = imperative
				break
			}
		}
	}

	result := strings.Join(words, " ")
	result = strings.ToUpper(result[:1]) + result[1:]

	result = strings.TrimRight(result, ".")
	if result != "" && !strings.HasSuffix(result, "!") && !strings.HasSuffix(result, "?") {
		result += "."
	}

	return result
}

// dedupeAndRank collapses steps sharing a dedup key (keeping the most
// detailed variant), ranks by how many raw variants collapsed into each,
// and truncates to the cap. Ties keep first-seen order.
func (e *Extractor) dedupeAndRank(steps []string) []string {
	type entry struct {
		step  string
		count int
		order int
	}

	byKey := make(map[string]*entry)
	var keys []string

	for _, step := range steps {
		key := dedupKey(step)

		if existing, ok := byKey[key]; ok {
			existing.count++
			if len(step) > len(existing.step) {
				existing.step = step
			}
			continue
		}

		byKey[key] = &entry{step: step, count: 1, order: len(keys)}
		keys = append(keys, key)
	}

	entries := make([]*entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, byKey[key])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].order < entries[j].order
	})

	if len(entries) > e.maxSteps {
		entries = entries[:e.maxSteps]
	}

	out := make([]string, len(entries))
	for i, en := range entries {
		out[i] = en.step
	}
	return out
}

func dedupKey(step string) string {
	key := strings.ToLower(step)
	if len(key) > dedupKeyLength {
		key = key[:dedupKeyLength]
	}
	return key
}

func isPlaceholderResolution(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range placeholderResolutionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
