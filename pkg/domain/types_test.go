package domain

import "testing"

func TestReadinessFor(t *testing.T) {
	cases := []struct {
		count int
		want  SubjectReadiness
	}{
		{0, ReadinessUpdating},
		{MinExamReadyQuestions - 1, ReadinessUpdating},
		{MinExamReadyQuestions, ReadinessReady},
		{MaxSubjectQuestions, ReadinessReady},
	}
	for _, tc := range cases {
		if got := ReadinessFor(tc.count); got != tc.want {
			t.Errorf("ReadinessFor(%d) = %s, want %s", tc.count, got, tc.want)
		}
	}
}
