package chunk

import (
	"regexp"
	"strings"
)

// Complexity weights. The score only steers chunk sizing; it is never
// stored on a record or shown to users.
const (
	declarationWeight = 0.1
	controlWeight     = 0.05
	importWeight      = 0.03
	indentWeight      = 0.01
	indentCap         = 0.2
	depthCap          = 0.3
	complexityCap     = 2.0
)

var genericControlPattern = regexp.MustCompile(`\b(if|else|elif|for|while|switch|case|match|try|catch|except|finally|when)\b`)

// EstimateComplexity scores content density in [0, 2]. Declarations,
// control flow, imports and indentation all raise the score; structured
// data contributes its nesting depth instead.
func EstimateComplexity(content string, strategy *Strategy) float64 {
	if strings.TrimSpace(content) == "" {
		return 0
	}

	if strategy != nil && strategy.FileType == FileTypeData {
		return minFloat(structuralDepth(content), depthCap)
	}

	var score float64
	lines := strings.Split(content, "\n")
	indentLevels := make(map[int]struct{})

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strategy != nil {
			if strategy.FunctionPattern != nil && strategy.FunctionPattern.MatchString(line) {
				score += declarationWeight
			}
			if strategy.ClassPattern != nil && strategy.ClassPattern.MatchString(line) {
				score += declarationWeight
			}
			if strategy.ImportPattern != nil && strategy.ImportPattern.MatchString(line) {
				score += importWeight
			}
		}
		if genericControlPattern.MatchString(trimmed) {
			score += controlWeight
		}
		indentLevels[indentDepth(line)] = struct{}{}
	}

	indentScore := float64(len(indentLevels)) * indentWeight
	score += minFloat(indentScore, indentCap)

	return minFloat(score, complexityCap)
}

// structuralDepth measures the maximum bracket/indent nesting of
// structured data, scaled to the depth cap.
func structuralDepth(content string) float64 {
	depth, maxDepth := 0, 0
	for _, r := range content {
		switch r {
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			if depth > 0 {
				depth--
			}
		}
	}
	if maxDepth == 0 {
		// Indentation-structured data such as YAML.
		for _, line := range strings.Split(content, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if d := indentDepth(line); d > maxDepth {
				maxDepth = d
			}
		}
	}
	return float64(maxDepth) * 0.05
}

func indentDepth(line string) int {
	spaces := 0
	for _, r := range line {
		switch r {
		case ' ':
			spaces++
		case '\t':
			spaces += 4
		default:
			return spaces / 4
		}
	}
	return 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
