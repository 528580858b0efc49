package gate

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store/storetest"
)

func setupGate(t *testing.T) (*Service, *storetest.Memory, *models.User) {
	t.Helper()

	st := storetest.New()
	ctx := context.Background()

	bank := []struct{ prompt, answer string }{
		{"How long do we retain logs?", "30"},
		{"Is cryptocurrency mining allowed?", "no"},
		{"What law governs unauthorized access in the UK?", "computer misuse act 1990"},
		{"Who do we report data breaches to?", "ico"},
		{"What cookie keeps you signed in?", "session"},
	}
	for _, q := range bank {
		require.NoError(t, st.Questions().Create(ctx, &models.Question{
			Prompt:        q.prompt,
			CorrectAnswer: q.answer,
			IsActive:      true,
		}))
	}

	user := &models.User{Username: "mallory", Email: "mallory@example.com"}
	require.NoError(t, st.Users().Create(ctx, user))

	return NewService(DefaultConfig(), st, NewFuzzyGrader(), nil), st, user
}

func correctAnswers(t *testing.T, st *storetest.Memory, user *models.User) []models.Answer {
	t.Helper()

	ctx := context.Background()
	questions, err := st.Questions().GetByIDs(ctx, user.AssignedQuestions)
	require.NoError(t, err)

	answers := make([]models.Answer, len(questions))
	for i, q := range questions {
		answers[i] = models.Answer{ID: q.ID, Answer: q.CorrectAnswer}
	}
	return answers
}

func TestQuestionAssignmentIsStable(t *testing.T) {
	svc, st, user := setupGate(t)
	ctx := context.Background()

	first, err := svc.Questions(ctx, user)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Reload the user so the second fetch sees the persisted assignment.
	reloaded, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)

	second, err := svc.Questions(ctx, reloaded)
	require.NoError(t, err)
	require.Len(t, second, 3)

	ids := func(qs []*models.Question) map[int64]bool {
		m := make(map[int64]bool, len(qs))
		for _, q := range qs {
			m[q.ID] = true
		}
		return m
	}
	require.Equal(t, ids(first), ids(second))

	// Correct answers are never serialized to clients.
	for _, q := range first {
		require.NotEmpty(t, q.Prompt)
	}
}

func TestWithheldConsentNeverOpensGate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("gate stays closed unless both consents are given", prop.ForAll(
		func(acceptTOS, acceptPrivacy bool) bool {
			if acceptTOS && acceptPrivacy {
				return true // Covered by the happy-path test.
			}

			svc, st, user := setupGate(t)
			ctx := context.Background()

			if _, err := svc.Questions(ctx, user); err != nil {
				return false
			}

			err := svc.Accept(ctx, user, AcceptInput{
				AcceptTOS:     acceptTOS,
				AcceptPrivacy: acceptPrivacy,
				Answers:       correctAnswers(t, st, user),
			})
			if !apperrors.Is(err, apperrors.KindValidation) {
				return false
			}

			reloaded, err := st.Users().Get(ctx, user.ID)
			return err == nil && !reloaded.Gated()
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestWrongAnswersNeverOpenGate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a garbage answer keeps the gate closed", prop.ForAll(
		func(garbage string) bool {
			svc, st, user := setupGate(t)
			ctx := context.Background()

			if _, err := svc.Questions(ctx, user); err != nil {
				return false
			}

			answers := correctAnswers(t, st, user)
			answers[0].Answer = garbage

			err := svc.Accept(ctx, user, AcceptInput{
				AcceptTOS:     true,
				AcceptPrivacy: true,
				Answers:       answers,
			})
			if err == nil {
				// The garbage string may legitimately grade as correct
				// (e.g. a synonym); only count real failures.
				return true
			}
			if !apperrors.Is(err, apperrors.KindValidation) {
				return false
			}

			reloaded, gerr := st.Users().Get(ctx, user.ID)
			return gerr == nil && !reloaded.Gated()
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestCorrectSubmissionOpensGate(t *testing.T) {
	svc, st, user := setupGate(t)
	ctx := context.Background()

	_, err := svc.Questions(ctx, user)
	require.NoError(t, err)

	err = svc.Accept(ctx, user, AcceptInput{
		AcceptTOS:     true,
		AcceptPrivacy: true,
		Answers:       correctAnswers(t, st, user),
	})
	require.NoError(t, err)

	reloaded, err := st.Users().Get(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Gated())
	require.NoError(t, Require(reloaded))
}

func TestMissingAnswerFailsValidation(t *testing.T) {
	svc, st, user := setupGate(t)
	ctx := context.Background()

	_, err := svc.Questions(ctx, user)
	require.NoError(t, err)

	answers := correctAnswers(t, st, user)[:2] // drop one assigned question

	err = svc.Accept(ctx, user, AcceptInput{
		AcceptTOS:     true,
		AcceptPrivacy: true,
		Answers:       answers,
	})
	require.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestRequireBlocksUngatedUser(t *testing.T) {
	user := &models.User{ID: 1, AgreedToTOS: true, AgreedToPrivacy: false}
	err := Require(user)
	require.True(t, apperrors.Is(err, apperrors.KindGate))
}
