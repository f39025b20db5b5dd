package services

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/inaiurai/bidengine/internal/models"
)

const maxUnderstandingLen = 220

// Delivery bands by reward magnitude.
const (
	smallRewardCeiling  = 100
	mediumRewardCeiling = 1000
)

var (
	sentenceSplit   = regexp.MustCompile(`[.!?\n]+`)
	quantityPattern = regexp.MustCompile(`\b\d[\d,]*(?:\.\d+)?\b`)
	entityPattern   = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+\b`)
)

// requirementMarkers flag sentences that state what the requester wants.
var requirementMarkers = []string{"need", "must", "should", "looking for", "require", "build", "create", "develop", "want", "deliver", "implement"}

var greetings = []string{
	"Hi! I've reviewed your task and I'm ready to start right away.",
	"Hello, thanks for posting this. Here's how I'd approach it.",
	"Hey there! This is squarely in my wheelhouse; details below.",
	"Thanks for the clear brief. Below is a preview of what I'll deliver.",
}

var methodologies = []string{
	"I work in short, verifiable increments and share progress at each milestone.",
	"I start by confirming requirements, then deliver a first draft early for feedback.",
	"I scope the work up front, build against explicit acceptance criteria, and document as I go.",
}

var closings = []string{
	"Happy to adjust scope or answer any questions before starting.",
	"Let me know if you'd like a quick call to align on details.",
	"Looking forward to working on this with you.",
}

// Submission is the generated deliverable preview for one task.
type Submission struct {
	Category string
	Content  string
}

// Generator renders submission text. Only phrasing is randomized;
// classification and every derived parameter depend on the task alone.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator drawing phrase variants from rng.
// A nil rng is seeded from the clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Generate builds the multi-section submission for task on behalf of agent.
func (g *Generator) Generate(task *models.Task, agent *models.AgentProfile) Submission {
	category := Classify(task)
	facts := extractFacts(task)

	var b strings.Builder
	b.WriteString(g.pick(greetings))
	b.WriteString("\n\n")

	b.WriteString("## Understanding\n")
	b.WriteString(understanding(task))
	b.WriteString("\n\n")

	b.WriteString("## Work preview\n")
	b.WriteString(preview(category, task, facts))
	b.WriteString("\n\n")

	b.WriteString("## Methodology\n")
	b.WriteString(g.pick(methodologies))
	b.WriteString("\n\n")

	b.WriteString("## Stack & expertise\n")
	fmt.Fprintf(&b, "%s (%s agent)", agent.DisplayName, agent.Role)
	if len(agent.Stack) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(agent.Stack, ", "))
	}
	b.WriteString("\n\n")

	b.WriteString("## Estimated delivery\n")
	fmt.Fprintf(&b, "%s for a %s reward.\n\n", DeliveryEstimate(task.Reward), formatReward(task.Reward))

	b.WriteString(g.pick(closings))

	return Submission{Category: category, Content: b.String()}
}

func (g *Generator) pick(variants []string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return variants[g.rng.Intn(len(variants))]
}

// DeliveryEstimate maps the reward into one of three timeframe bands.
func DeliveryEstimate(reward float64) string {
	switch {
	case reward < smallRewardCeiling:
		return "24-48 hours"
	case reward < mediumRewardCeiling:
		return "3-5 days"
	default:
		return "1-2 weeks"
	}
}

func formatReward(reward float64) string {
	if reward == float64(int64(reward)) {
		return humanize.Comma(int64(reward))
	}
	return humanize.CommafWithDigits(reward, 2)
}

// understanding restates the first requirement-like sentence of the
// description, falling back to its first sentence and then the title.
func understanding(task *models.Task) string {
	var first string
	for _, s := range sentenceSplit.Split(task.Description, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if first == "" {
			first = s
		}
		lower := strings.ToLower(s)
		for _, m := range requirementMarkers {
			if strings.Contains(lower, m) {
				return "You need: " + truncate(s, maxUnderstandingLen)
			}
		}
	}
	if first == "" {
		first = task.Title
	}
	return "You need: " + truncate(first, maxUnderstandingLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}

// taskFacts are the deterministic parameters pulled out of a task.
type taskFacts struct {
	quantities []string
	entities   []string
	keywords   []string
}

func extractFacts(task *models.Task) taskFacts {
	text := task.Title + ". " + task.Description
	f := taskFacts{
		quantities: uniqueLimit(quantityPattern.FindAllString(text, -1), 3),
		keywords:   uniqueLimit(task.Tags, 5),
	}

	// Capitalized tokens that start a sentence are usually not entities.
	starts := make(map[string]bool)
	for _, s := range sentenceSplit.Split(text, -1) {
		if fields := strings.Fields(s); len(fields) > 0 {
			starts[fields[0]] = true
		}
	}
	var entities []string
	for _, e := range entityPattern.FindAllString(text, -1) {
		if len(e) < 2 || starts[e] {
			continue
		}
		entities = append(entities, e)
	}
	f.entities = uniqueLimit(entities, 4)
	if len(f.keywords) == 0 {
		f.keywords = topWords(task.Description, 4)
	}
	return f
}

func uniqueLimit(in []string, n int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, n)
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "will": true, "your": true, "have": true, "need": true, "into": true,
	"should": true, "must": true, "about": true, "using": true, "are": true, "our": true,
}

// topWords returns the most frequent non-trivial words, ties broken
// alphabetically so the result is stable.
func topWords(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) < 4 || stopWords[w] {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func orDefault(list []string, def string) string {
	if len(list) == 0 {
		return def
	}
	return strings.Join(list, ", ")
}

func firstOr(list []string, def string) string {
	if len(list) == 0 {
		return def
	}
	return list[0]
}

// preview renders the category-specific sample block.
func preview(category string, task *models.Task, f taskFacts) string {
	entities := orDefault(f.entities, "the target sources")
	keywords := orDefault(f.keywords, "the requested scope")
	qty := firstOr(f.quantities, "100")

	var b strings.Builder
	switch category {
	case CategoryDataCollection:
		fmt.Fprintf(&b, "Sample dataset schema (first %s records):\n", qty)
		b.WriteString("| source | title | url | collected_at |\n|---|---|---|---|\n")
		fmt.Fprintf(&b, "| %s | ... | ... | ISO-8601 |\n", firstOr(f.entities, "source-1"))
		fmt.Fprintf(&b, "Coverage: %s. Output as CSV and JSON with de-duplicated rows.", entities)
	case CategorySmartContract:
		name := firstOr(f.entities, "Task")
		fmt.Fprintf(&b, "Contract outline for %s:\n", name)
		fmt.Fprintf(&b, "- contract %sCore: state, events, access control\n", sanitizeIdent(name))
		b.WriteString("- unit tests covering happy path, reverts and edge cases\n")
		fmt.Fprintf(&b, "- review checklist: reentrancy, overflow, authorization (%s)", keywords)
	case CategoryTrading:
		fmt.Fprintf(&b, "Strategy sketch for %s:\n", entities)
		fmt.Fprintf(&b, "- signal inputs: %s\n", keywords)
		fmt.Fprintf(&b, "- backtest window: %s periods with fees and slippage modelled\n", qty)
		b.WriteString("- risk limits: max position size, stop-loss, daily drawdown cap")
	case CategoryFrontend:
		fmt.Fprintf(&b, "Interface plan:\n- pages/components: %s\n", keywords)
		b.WriteString("- responsive layout, accessible markup, loading and error states\n")
		fmt.Fprintf(&b, "- integrations: %s", entities)
	case CategoryBackend:
		fmt.Fprintf(&b, "Service design:\n- endpoints/jobs for: %s\n", keywords)
		fmt.Fprintf(&b, "- integrations: %s\n", entities)
		b.WriteString("- structured logging, retries with backoff, and a health check endpoint")
	case CategoryResearch:
		fmt.Fprintf(&b, "Report outline:\n1. Scope and question: %s\n", truncate(task.Title, 80))
		fmt.Fprintf(&b, "2. Landscape: %s\n", entities)
		fmt.Fprintf(&b, "3. Findings on %s with cited sources\n", keywords)
		b.WriteString("4. Recommendations and next steps")
	case CategoryContent:
		fmt.Fprintf(&b, "Content draft plan (%s pieces):\n", qty)
		fmt.Fprintf(&b, "- hook built around %s\n", firstOr(f.keywords, "the main message"))
		fmt.Fprintf(&b, "- mentions: %s\n", entities)
		b.WriteString("- call to action and posting schedule")
	default:
		fmt.Fprintf(&b, "Deliverables:\n- %s\n", truncate(task.Title, 80))
		fmt.Fprintf(&b, "- focus areas: %s\n", keywords)
		b.WriteString("- written summary of what was done and how to verify it")
	}
	return b.String()
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Task"
	}
	return b.String()
}
