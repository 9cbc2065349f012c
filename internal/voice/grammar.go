package voice

import (
	"sort"
	"strconv"
	"strings"
)

// TargetKind is what a command's target resolved to.
type TargetKind string

const (
	TargetNone  TargetKind = ""
	TargetOrder TargetKind = "order"
	TargetTable TargetKind = "table"
	TargetAll   TargetKind = "all"
)

// Parsed is the structured reading of an utterance against the closed
// grammar. Score is the grammar-match component of confidence, in [0,1].
type Parsed struct {
	Action      string
	Target      TargetKind
	OrderNumber int
	Table       string
	Level       int
	Score       float64
}

// Canonical actions and the spoken forms that map onto them. The grammar is
// closed: anything outside this table is an unknown command.
var actionVocab = map[string][]string{
	"bump":     {"bump", "done", "complete"},
	"start":    {"start", "fire", "begin"},
	"recall":   {"recall", "bring back"},
	"priority": {"priority", "rush", "expedite"},
}

var levelVocab = map[string]int{
	"normal": 0,
	"high":   1,
	"rush":   2,
}

// minimum per-token similarity to accept a fuzzy match
const matchFloor = 0.5

// Normalize lowercases the transcript and strips punctuation so "Bump,
// order 123!" and "bump order 123" tokenize identically.
func Normalize(transcript string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(transcript) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// Parse reads tokens against the closed grammar. A mispronounced action
// ("bmp") still matches by edit distance; the resulting Score reflects how
// far from the vocabulary the utterance was.
func Parse(transcript string) Parsed {
	tokens := Normalize(transcript)
	if len(tokens) == 0 {
		return Parsed{}
	}

	action, actionIdx, actionScore := bestAction(tokens)
	if action == "" {
		return Parsed{}
	}

	p := Parsed{Action: action, Score: actionScore}
	resolveTarget(&p, tokens, actionIdx)
	if action == "priority" {
		resolveLevel(&p, tokens)
	}

	if p.Target == TargetNone {
		// An action with nothing to apply it to only half-parses.
		p.Score = p.Score / 2
	}
	return p
}

func bestAction(tokens []string) (action string, idx int, score float64) {
	for i, tok := range tokens {
		if _, isNum := parseNumber(tok); isNum {
			continue
		}
		for canonical, forms := range actionVocab {
			for _, form := range forms {
				if s := similarity(tok, form); s > score && s >= matchFloor {
					action, idx, score = canonical, i, s
				}
			}
		}
	}
	return action, idx, score
}

func resolveTarget(p *Parsed, tokens []string, actionIdx int) {
	for i, tok := range tokens {
		if i == actionIdx {
			continue
		}
		switch {
		case similarity(tok, "order") >= matchFloor+0.2:
			if n, ok := numberAfter(tokens, i); ok {
				p.Target = TargetOrder
				p.OrderNumber = n
				return
			}
		case similarity(tok, "table") >= matchFloor+0.2:
			if i+1 < len(tokens) {
				p.Target = TargetTable
				p.Table = tokens[i+1]
				return
			}
		case tok == "all" || similarity(tok, "everything") >= matchFloor+0.2:
			p.Target = TargetAll
			return
		}
	}
	// A bare number after the action is read as an order number:
	// "bump 123".
	for i := actionIdx + 1; i < len(tokens); i++ {
		if n, ok := parseNumber(tokens[i]); ok {
			p.Target = TargetOrder
			p.OrderNumber = n
			return
		}
	}
}

func resolveLevel(p *Parsed, tokens []string) {
	for _, tok := range tokens {
		for word, level := range levelVocab {
			if similarity(tok, word) >= matchFloor+0.2 {
				p.Level = level
				return
			}
		}
	}
	p.Level = 1
}

func numberAfter(tokens []string, i int) (int, bool) {
	for j := i + 1; j < len(tokens); j++ {
		if n, ok := parseNumber(tokens[j]); ok {
			return n, true
		}
	}
	return 0, false
}

func parseNumber(tok string) (int, bool) {
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Suggestions ranks grammar templates by edit distance from the utterance's
// most action-like token, for the "unknown command" response.
func Suggestions(transcript string) []string {
	tokens := Normalize(transcript)
	probe := ""
	for _, tok := range tokens {
		if _, isNum := parseNumber(tok); !isNum {
			probe = tok
			break
		}
	}

	type ranked struct {
		template string
		dist     int
	}
	templates := []ranked{
		{"bump order <number>", levenshtein(probe, "bump")},
		{"start order <number>", levenshtein(probe, "start")},
		{"recall order <number>", levenshtein(probe, "recall")},
		{"bump table <table>", levenshtein(probe, "bump")},
		{"priority high order <number>", levenshtein(probe, "priority")},
	}
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].dist < templates[j].dist })

	out := make([]string, 0, 3)
	for _, t := range templates[:3] {
		out = append(out, t.template)
	}
	return out
}

// similarity maps edit distance into [0,1], 1 being identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
