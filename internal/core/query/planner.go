// Package query plans, executes, and composes answers for natural
// language questions over indexed repositories.
package query

import (
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/vector"
)

// QueryType classifies what the user is after.
type QueryType string

const (
	QueryTypeConceptual     QueryType = "conceptual"
	QueryTypeFunctional     QueryType = "functional"
	QueryTypeExample        QueryType = "example"
	QueryTypeComparison     QueryType = "comparison"
	QueryTypeDebugging      QueryType = "debugging"
	QueryTypeImplementation QueryType = "implementation"
	QueryTypeFileSearch     QueryType = "file_search"
	QueryTypeCodeSearch     QueryType = "code_search"
)

// Scope says whether the query spans the system or a single module.
type Scope string

const (
	ScopeCrossCutting Scope = "cross_cutting"
	ScopeModule       Scope = "module"
)

// Complexity buckets the query by size.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Analysis is the planner's reading of one query.
type Analysis struct {
	Query      string
	Type       QueryType
	Entities   []string
	Targets    []string
	Scope      Scope
	Complexity Complexity
}

// Strategy names.
const (
	StrategyDirectEntity  = "direct_entity_search"
	StrategyFileStructure = "file_structure_search"
	StrategyContextual    = "contextual_search"
	StrategySemantic      = "semantic_repository_search"
)

// Strategy is one parameterized retrieval plan. The executor runs each
// strategy against every selected namespace.
type Strategy struct {
	Name       string
	Confidence float64
	Query      string
	Filter     vector.Filter
}

var (
	camelCasePattern = regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z0-9]*\b|\b[A-Z][a-z0-9]+(?:[A-Z][A-Za-z0-9]*)+\b`)
	snakeCasePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	dottedPattern    = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_.]*\b`)
	fileLikePattern  = regexp.MustCompile(`\b[\w/.-]*\.[A-Za-z0-9]{1,6}\b`)
	quotedPattern    = regexp.MustCompile("\"([^\"]+)\"|'([^']+)'|`([^`]+)`")
	declPattern      = regexp.MustCompile(`\b(?:function|func|def|method|class|struct|type)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
)

var crossCuttingKeywords = []string{
	"architecture", "system", "overall", "design", "structure",
	"end-to-end", "across", "pipeline",
}

// typeRules are evaluated in order; the first hit wins.
var typeRules = []struct {
	queryType QueryType
	keywords  []string
}{
	{QueryTypeFileSearch, []string{"where is", "which file", "what file", "find the file", "locate", "file containing"}},
	{QueryTypeComparison, []string{"difference between", " versus ", " vs ", "compare", "compared to"}},
	{QueryTypeDebugging, []string{"error", "bug", "fix", "fails", "failing", "crash", "exception", "broken", "not working"}},
	{QueryTypeExample, []string{"example", "how do i", "how to", "usage", "sample", "snippet"}},
	{QueryTypeImplementation, []string{"how does", "how is", "implemented", "implementation", "internals", "under the hood"}},
	{QueryTypeFunctional, []string{"what does", "purpose of", "responsible for", "behavior of", "role of"}},
}

// contextExpansions enrich the contextual strategy's query per type.
var contextExpansions = map[QueryType]string{
	QueryTypeConceptual:     "overview documentation",
	QueryTypeFunctional:     "responsibility behavior",
	QueryTypeExample:        "example usage",
	QueryTypeComparison:     "differences tradeoffs",
	QueryTypeDebugging:      "error handling exception",
	QueryTypeImplementation: "implementation details",
	QueryTypeFileSearch:     "file location",
	QueryTypeCodeSearch:     "definition declaration",
}

// Planner turns a query into an analysis and an ordered strategy list.
type Planner struct {
	logger *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerLogger sets the logger.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

// NewPlanner creates a Planner.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyze classifies the query and extracts entities and targets.
func (p *Planner) Analyze(query string) *Analysis {
	lower := strings.ToLower(query)

	a := &Analysis{
		Query:    query,
		Type:     QueryTypeConceptual,
		Entities: extractEntities(query),
		Targets:  extractTargets(query),
		Scope:    ScopeModule,
	}

	matched := false
	for _, rule := range typeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				a.Type = rule.queryType
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}
	if !matched && len(a.Entities) > 0 {
		a.Type = QueryTypeCodeSearch
	}

	for _, kw := range crossCuttingKeywords {
		if strings.Contains(lower, kw) {
			a.Scope = ScopeCrossCutting
			break
		}
	}

	tokens := len(strings.Fields(query))
	switch {
	case tokens > 15 || len(a.Entities) >= 4:
		a.Complexity = ComplexityComplex
	case tokens <= 6 && len(a.Entities) <= 1:
		a.Complexity = ComplexitySimple
	default:
		a.Complexity = ComplexityMedium
	}

	return a
}

// Plan analyzes the query and selects strategies in priority order. The
// semantic baseline is always present, so the plan is never empty.
func (p *Planner) Plan(query string) (*Analysis, []Strategy) {
	a := p.Analyze(query)

	var strategies []Strategy
	if len(a.Targets) > 0 {
		strategies = append(strategies, Strategy{
			Name:       StrategyDirectEntity,
			Confidence: 0.9,
			Query:      query,
			Filter:     targetFilter(a.Targets[0]),
		})
	}
	if a.Type == QueryTypeFileSearch {
		s := Strategy{
			Name:       StrategyFileStructure,
			Confidence: 0.95,
			Query:      query,
		}
		if name := primaryName(a); name != "" {
			s.Filter = vector.Filter{PathContains: strings.ToLower(name)}
		}
		strategies = append(strategies, s)
	}

	contextual := Strategy{
		Name:       StrategyContextual,
		Confidence: 0.8,
		Query:      strings.TrimSpace(query + " " + contextExpansions[a.Type]),
	}
	if a.Type == QueryTypeConceptual {
		contextual.Filter = vector.Filter{FileType: string(chunk.FileTypeDocs)}
	}
	strategies = append(strategies, contextual)

	strategies = append(strategies, Strategy{
		Name:       StrategySemantic,
		Confidence: 0.7,
		Query:      query,
	})

	p.logger.Debug("planned query",
		slog.String("type", string(a.Type)),
		slog.Int("entities", len(a.Entities)),
		slog.Int("targets", len(a.Targets)),
		slog.Int("strategies", len(strategies)))
	return a, strategies
}

// targetFilter matches path-like targets against file paths and
// everything else against content.
func targetFilter(target string) vector.Filter {
	if strings.Contains(target, "/") || looksLikeFile(target) {
		return vector.Filter{PathContains: target}
	}
	return vector.Filter{ContentContains: target}
}

// primaryName picks the token most likely to appear in a file path.
func primaryName(a *Analysis) string {
	if len(a.Targets) > 0 {
		t := a.Targets[0]
		if looksLikeFile(t) {
			base := path.Base(t)
			return strings.TrimSuffix(base, path.Ext(base))
		}
		return t
	}
	if len(a.Entities) > 0 {
		return a.Entities[0]
	}
	return ""
}

var knownExtensions = func() map[string]bool {
	m := make(map[string]bool)
	for _, ext := range chunk.KnownExtensions() {
		m[ext] = true
	}
	return m
}()

func looksLikeFile(token string) bool {
	ext := strings.ToLower(path.Ext(token))
	return ext != "" && knownExtensions[ext]
}

func extractEntities(query string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(matches []string) {
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				entities = append(entities, m)
			}
		}
	}

	add(camelCasePattern.FindAllString(query, -1))
	add(snakeCasePattern.FindAllString(query, -1))
	for _, m := range dottedPattern.FindAllString(query, -1) {
		// A dotted ref with a known extension is a file, not a method.
		if !looksLikeFile(m) && !seen[m] {
			seen[m] = true
			entities = append(entities, m)
		}
	}
	for _, m := range fileLikePattern.FindAllString(query, -1) {
		if looksLikeFile(m) && !seen[m] {
			seen[m] = true
			entities = append(entities, m)
		}
	}

	return entities
}

func extractTargets(query string) []string {
	seen := make(map[string]bool)
	var targets []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t != "" && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	for _, groups := range quotedPattern.FindAllStringSubmatch(query, -1) {
		for _, g := range groups[1:] {
			if g != "" {
				add(g)
			}
		}
	}
	for _, m := range fileLikePattern.FindAllString(query, -1) {
		if looksLikeFile(m) {
			add(m)
		}
	}
	for _, groups := range declPattern.FindAllStringSubmatch(query, -1) {
		add(groups[1])
	}

	return targets
}
