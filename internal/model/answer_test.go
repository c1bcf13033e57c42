package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasResponse(t *testing.T) {
	assert.False(t, HasResponse(nil))
	assert.False(t, HasResponse([]Answer{{QuestionID: "q1", Response: ""}}))
	assert.False(t, HasResponse([]Answer{{QuestionID: "q1", Response: "  \t"}}))
	assert.True(t, HasResponse([]Answer{
		{QuestionID: "q1", Response: ""},
		{QuestionID: "q2", Response: "B"},
	}))
}

func TestCloneAnswersIsIndependent(t *testing.T) {
	src := []Answer{{QuestionID: "q1", Response: "A"}}
	dst := CloneAnswers(src)
	dst[0].Response = "changed"
	assert.Equal(t, "A", src[0].Response)
}

func TestAnswerKeyScore(t *testing.T) {
	key := AnswerKey{
		"q1": {Response: "Paris", Points: 2},
		"q2": {Response: "4", Points: 1},
		"q3": {Response: "", Points: 5}, // essay, graded manually
		"q4": {Response: "true"},
	}

	score := key.Score([]Answer{
		{QuestionID: "q1", Response: " paris "},
		{QuestionID: "q2", Response: "5"},
		{QuestionID: "q3", Response: "long essay"},
		{QuestionID: "q4", Response: "TRUE"},
	})
	assert.InDelta(t, 75.0, score, 0.0001)

	assert.Zero(t, AnswerKey{}.Score([]Answer{{QuestionID: "q1", Response: "x"}}))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleStudent.Valid())
	assert.True(t, RoleLecturer.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("guest").Valid())
}
