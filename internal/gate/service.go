// Package gate implements the acceptable-use access gate: consent flags plus
// a short graded quiz. Users cannot hold resources until they pass.
package gate

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/denhq/control-plane/internal/apperrors"
	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// Config holds gate configuration.
type Config struct {
	// QuestionCount is how many questions each user is assigned.
	QuestionCount int
}

// DefaultConfig returns gate defaults.
func DefaultConfig() *Config {
	return &Config{QuestionCount: 3}
}

// Service manages question assignment and gate acceptance.
type Service struct {
	cfg    *Config
	store  store.Store
	grader Grader
	logger *slog.Logger
}

// NewService creates a new gate service.
func NewService(cfg *Config, st store.Store, grader Grader, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if grader == nil {
		grader = NewFuzzyGrader()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		store:  st,
		grader: grader,
		logger: logger,
	}
}

// Questions returns the user's assigned quiz questions, assigning a random
// subset of the active bank on first fetch. The assignment is stable: repeat
// fetches return the same questions until the user passes the gate.
func (s *Service) Questions(ctx context.Context, user *models.User) ([]*models.Question, error) {
	if len(user.AssignedQuestions) > 0 {
		questions, err := s.store.Questions().GetByIDs(ctx, user.AssignedQuestions)
		if err != nil {
			return nil, apperrors.Internal("loading assigned questions").WithCause(err)
		}
		if len(questions) > 0 {
			return questions, nil
		}
		// Assigned questions have all been retired; reassign below.
	}

	active, err := s.store.Questions().ListActive(ctx)
	if err != nil {
		return nil, apperrors.Internal("listing questions").WithCause(err)
	}
	if len(active) == 0 {
		return nil, apperrors.Internal("question bank is empty")
	}

	rand.Shuffle(len(active), func(i, j int) {
		active[i], active[j] = active[j], active[i]
	})
	n := s.cfg.QuestionCount
	if n > len(active) {
		n = len(active)
	}
	picked := active[:n]

	ids := make([]int64, len(picked))
	for i, q := range picked {
		ids[i] = q.ID
	}
	if err := s.store.Users().SetAssignedQuestions(ctx, user.ID, ids); err != nil {
		return nil, apperrors.Internal("saving question assignment").WithCause(err)
	}
	user.AssignedQuestions = ids

	return picked, nil
}

// AcceptInput is a gate acceptance submission.
type AcceptInput struct {
	AcceptTOS     bool            `json:"accept_tos"`
	AcceptPrivacy bool            `json:"accept_privacy"`
	Answers       []models.Answer `json:"answers"`
}

// Accept grades the submission and, if everything passes, marks both consents
// accepted. A failed submission changes nothing; acceptance is all-or-nothing.
func (s *Service) Accept(ctx context.Context, user *models.User, input AcceptInput) error {
	if !input.AcceptTOS || !input.AcceptPrivacy {
		return apperrors.Validation("you must accept both the terms and privacy policy")
	}

	if err := s.Validate(ctx, user, input.Answers); err != nil {
		return err
	}

	if err := s.store.Users().SetAcceptance(ctx, user.ID); err != nil {
		return apperrors.Internal("saving acceptance").WithCause(err)
	}

	s.logger.Info("user passed access gate", "user_id", user.ID, "username", user.Username)
	return nil
}

// Validate grades answers against the user's assigned questions without
// recording acceptance.
func (s *Service) Validate(ctx context.Context, user *models.User, answers []models.Answer) error {
	if len(answers) == 0 {
		return apperrors.Validation("please answer the questions")
	}
	if len(user.AssignedQuestions) == 0 {
		return apperrors.Validation("no questions assigned; fetch the questions first")
	}

	questions, err := s.store.Questions().GetByIDs(ctx, user.AssignedQuestions)
	if err != nil {
		return apperrors.Internal("loading questions").WithCause(err)
	}
	if len(questions) == 0 {
		return apperrors.Internal("no active questions available")
	}

	provided := make(map[int64]string, len(answers))
	for _, a := range answers {
		provided[a.ID] = a.Answer
	}

	for _, q := range questions {
		got, ok := provided[q.ID]
		if !ok || !s.grader.Correct(got, q.CorrectAnswer) {
			return apperrors.Validation("one or more answers are incorrect")
		}
	}
	return nil
}

// Require returns a gate error unless the user has passed the gate.
func Require(user *models.User) error {
	if !user.Gated() {
		return apperrors.Gate("acceptable use policy not accepted")
	}
	return nil
}
