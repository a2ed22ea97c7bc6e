package service

import (
	"sort"
	"strings"
	"unicode"

	"github.com/quizforge/quizforge/internal/models"
)

// Dedupe thresholds. Two candidates are considered duplicates when their
// stems are similar enough or they test the same fact with reshuffled
// options.
const (
	stemJaccardThreshold    = 0.45
	stemOverlapThreshold    = 0.5
	optionsJaccardThreshold = 0.4
)

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// overlapRatio is |intersection| / min(|a|,|b|), which catches a short
// stem fully contained in a longer rephrasing.
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	return float64(inter) / float64(min)
}

func optionText(m models.MCQ) string {
	var sb strings.Builder
	for _, o := range m.Options {
		sb.WriteString(o.Text)
		sb.WriteByte(' ')
	}
	return sb.String()
}

// IsDuplicate reports whether two MCQs likely test the same fact.
func IsDuplicate(a, b models.MCQ) bool {
	sa, sb := tokenize(a.Stem), tokenize(b.Stem)
	if jaccard(sa, sb) >= stemJaccardThreshold {
		return true
	}
	if overlapRatio(sa, sb) >= stemOverlapThreshold {
		return true
	}
	if a.CorrectOption == b.CorrectOption {
		if jaccard(tokenize(optionText(a)), tokenize(optionText(b))) >= optionsJaccardThreshold {
			return true
		}
	}
	return false
}

// Dedupe keeps the first of each duplicate cluster, preserving order.
func Dedupe(mcqs []models.MCQ) []models.MCQ {
	kept := make([]models.MCQ, 0, len(mcqs))
	for _, m := range mcqs {
		dup := false
		for _, k := range kept {
			if IsDuplicate(m, k) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, m)
		}
	}
	return kept
}

// Rank orders candidates best-first: medium difficulty comes before
// everything else, quality score breaks ties within each band, and the
// sort is stable so generation order decides the rest.
func Rank(mcqs []models.MCQ) []models.MCQ {
	ranked := make([]models.MCQ, len(mcqs))
	copy(ranked, mcqs)
	sort.SliceStable(ranked, func(i, j int) bool {
		mi := strings.EqualFold(ranked[i].Difficulty, "medium")
		mj := strings.EqualFold(ranked[j].Difficulty, "medium")
		if mi != mj {
			return mi
		}
		return ranked[i].QualityScore > ranked[j].QualityScore
	})
	return ranked
}

// SelectDiverse picks up to n candidates, round-robining across topic
// buckets in slug order so one topic cannot dominate the final set.
// When the pool already fits, it is returned as-is.
func SelectDiverse(mcqs []models.MCQ, n int, defaultTopic string) []models.MCQ {
	if n <= 0 || len(mcqs) == 0 {
		return nil
	}
	if len(mcqs) <= n {
		return mcqs
	}

	buckets := make(map[string][]models.MCQ)
	for _, m := range mcqs {
		tag := strings.ToLower(strings.TrimSpace(m.TopicTag))
		if tag == "" {
			tag = defaultTopic
		}
		buckets[tag] = append(buckets[tag], m)
	}

	slugs := make([]string, 0, len(buckets))
	for slug := range buckets {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	out := make([]models.MCQ, 0, n)
	indices := make([]int, len(slugs))
	for len(out) < n {
		advanced := false
		for i, slug := range slugs {
			if len(out) >= n {
				break
			}
			bucket := buckets[slug]
			if indices[i] < len(bucket) {
				out = append(out, bucket[indices[i]])
				indices[i]++
				advanced = true
			}
		}
		if !advanced {
			break
		}
	}
	return out
}

// Select runs the full selection pass: dedupe, rank, then topic-diverse
// truncation to the target count.
func Select(candidates []models.MCQ, target int, defaultTopic string) []models.MCQ {
	return SelectDiverse(Rank(Dedupe(candidates)), target, defaultTopic)
}
