package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseProgress(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		required  int
		want      float64
	}{
		{name: "no required blocks", completed: 0, required: 0, want: 0},
		{name: "none completed", completed: 0, required: 4, want: 0},
		{name: "partial", completed: 1, required: 3, want: 33.3},
		{name: "all", completed: 7, required: 7, want: 100},
		{name: "more than required", completed: 9, required: 7, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CourseProgress(tt.completed, tt.required))
		})
	}
}

func TestStudentProgress(t *testing.T) {
	courses := []Course{
		{ID: 1, RequiredBlockIDs: []string{"a", "b"}},
		{ID: 2, RequiredBlockIDs: []string{"c", "d"}},
	}
	records := []Record{
		{CourseID: 1, BlockID: "a", Completed: true},
		{CourseID: 1, BlockID: "a", Completed: true}, // duplicate
		{CourseID: 1, BlockID: "b", Completed: false},
		{CourseID: 2, BlockID: "c", Completed: true},
		{CourseID: 2, BlockID: "x", Completed: true}, // not required
		{CourseID: 3, BlockID: "e", Completed: true}, // untracked course
	}

	got := StudentProgress(courses, records)
	assert.Equal(t, Summary{Completed: 2, Required: 4, Percent: 50}, got)

	assert.Equal(t, Summary{}, StudentProgress(nil, records))
}

func TestResponseRate(t *testing.T) {
	assert.Equal(t, float64(0), ResponseRate(0, 0))
	assert.Equal(t, float64(75), ResponseRate(3, 4))
	assert.Equal(t, float64(100), ResponseRate(5, 4))
}

func TestResponseRateBy(t *testing.T) {
	questions := map[int]int{10: 4, 11: 2, 12: 5}
	classOf := map[int]int{10: 1, 11: 1, 12: 2}
	subs := []Submission{
		{TestID: 10, Answered: 4},
		{TestID: 10, Answered: 2},
		{TestID: 11, Answered: 1},
		{TestID: 12, Answered: 5},
		{TestID: 99, Answered: 3}, // unknown test
	}

	got := ResponseRateBy(subs, questions, func(testID int) int { return classOf[testID] })
	assert.Equal(t, map[int]Rate{
		1: {Answered: 7, Total: 10, Percent: 70},
		2: {Answered: 5, Total: 5, Percent: 100},
	}, got)
}

func TestCapacityUsage(t *testing.T) {
	tests := []struct {
		enrolled, max int
		want          float64
	}{
		{enrolled: 5, max: 0, want: 0},
		{enrolled: 5, max: -1, want: 0},
		{enrolled: 0, max: 10, want: 0},
		{enrolled: 5, max: 20, want: 25},
		{enrolled: 30, max: 20, want: 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CapacityUsage(tt.enrolled, tt.max), "CapacityUsage(%d, %d)", tt.enrolled, tt.max)
	}
}

func TestAverageScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []Score
		want   float64
	}{
		{name: "none", want: 0},
		{name: "single", scores: []Score{{Score: 1, Total: 3}}, want: 33.3},
		{name: "mean of percentages", scores: []Score{{Score: 8, Total: 10}, {Score: 10, Total: 20}}, want: 65},
		{name: "no points ignored", scores: []Score{{Score: 0, Total: 0}, {Score: 4, Total: 4}}, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AverageScore(tt.scores))
		})
	}
}
