// Package progress holds the stateless aggregations behind the dashboards: course progress, question
// response rates, average grades and class capacity usage. Percentages are in [0, 100], rounded to one decimal.
package progress

import "math"

// Percent returns part/total as a percentage; 0 when total <= 0.
func Percent(part, total int) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	return round(float64(part) / float64(total) * 100)
}

// CourseProgress is the share of required blocks completed.
func CourseProgress(completed, required int) float64 {
	if completed > required {
		completed = required
	}
	return Percent(completed, required)
}

// Course is the view of a course needed to compute progress.
type Course struct {
	ID               int
	RequiredBlockIDs []string
}

// Record marks a block of a course as completed (or not) by the student.
type Record struct {
	CourseID  int
	BlockID   string
	Completed bool
}

type Summary struct {
	Completed int     `json:"completed"`
	Required  int     `json:"required"`
	Percent   float64 `json:"percent"`
}

// StudentProgress aggregates completed required blocks across all the tracked courses of a student.
// Records of untracked courses or non-required blocks are ignored.
func StudentProgress(courses []Course, records []Record) Summary {
	required := make(map[int]map[string]bool, len(courses))
	var sum Summary
	for _, c := range courses {
		blocks := make(map[string]bool, len(c.RequiredBlockIDs))
		for _, id := range c.RequiredBlockIDs {
			blocks[id] = true
		}
		required[c.ID] = blocks
		sum.Required += len(blocks)
	}

	done := make(map[int]map[string]bool)
	for _, r := range records {
		if !r.Completed || !required[r.CourseID][r.BlockID] {
			continue
		}
		if done[r.CourseID] == nil {
			done[r.CourseID] = make(map[string]bool)
		}
		if !done[r.CourseID][r.BlockID] {
			done[r.CourseID][r.BlockID] = true
			sum.Completed++
		}
	}
	sum.Percent = CourseProgress(sum.Completed, sum.Required)
	return sum
}

// ResponseRate is the share of questions answered.
func ResponseRate(answered, total int) float64 {
	if answered > total {
		answered = total
	}
	return Percent(answered, total)
}

// Submission is the view of a test submission needed to compute response rates.
type Submission struct {
	TestID   int
	Answered int
}

type Rate struct {
	Answered int     `json:"answered"`
	Total    int     `json:"total"`
	Percent  float64 `json:"percent"`
}

// ResponseRateBy buckets submissions with key (e.g. test → class id) and computes the response rate of
// each bucket. questions maps a test id to its number of questions; submissions of unknown tests, or of
// tests key maps to 0, are skipped.
func ResponseRateBy(submissions []Submission, questions map[int]int, key func(testID int) int) map[int]Rate {
	rates := make(map[int]Rate)
	for _, s := range submissions {
		total, ok := questions[s.TestID]
		if !ok {
			continue
		}
		bucket := key(s.TestID)
		if bucket == 0 {
			continue
		}
		answered := s.Answered
		if answered > total {
			answered = total
		}
		r := rates[bucket]
		r.Answered += answered
		r.Total += total
		rates[bucket] = r
	}
	for bucket, r := range rates {
		r.Percent = ResponseRate(r.Answered, r.Total)
		rates[bucket] = r
	}
	return rates
}

// Score is one graded result out of Total points.
type Score struct {
	Score int
	Total int
}

// AverageScore is the mean percentage of scores; scores without points are ignored.
func AverageScore(scores []Score) float64 {
	var sum float64
	var n int
	for _, s := range scores {
		if s.Total <= 0 {
			continue
		}
		sum += float64(s.Score) / float64(s.Total) * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return round(sum / float64(n))
}

// CapacityUsage is enrolled/max clamped to [0, 100]; 0 when there is no maximum.
func CapacityUsage(enrolled, max int) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(Percent(enrolled, max), 100)
}

func round(f float64) float64 {
	return math.Round(f*10) / 10
}
