package gate

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/denhq/control-plane/internal/models"
	"github.com/denhq/control-plane/internal/store"
)

// bankFile is the on-disk YAML question bank format.
type bankFile struct {
	Questions []bankQuestion `yaml:"questions"`
}

type bankQuestion struct {
	Prompt string `yaml:"prompt"`
	Answer string `yaml:"answer"`
	Active *bool  `yaml:"active"`
}

// SeedQuestions loads the YAML question bank at path into the store. Seeding
// only happens when the questions table is empty, so redeploys do not
// duplicate the bank.
func SeedQuestions(ctx context.Context, st store.Store, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	count, err := st.Questions().Count(ctx)
	if err != nil {
		return fmt.Errorf("counting questions: %w", err)
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading question bank: %w", err)
	}

	var bank bankFile
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return fmt.Errorf("parsing question bank: %w", err)
	}
	if len(bank.Questions) == 0 {
		return fmt.Errorf("question bank %s contains no questions", path)
	}

	for i, bq := range bank.Questions {
		if bq.Prompt == "" || bq.Answer == "" {
			return fmt.Errorf("question bank entry %d is missing prompt or answer", i)
		}
		active := true
		if bq.Active != nil {
			active = *bq.Active
		}
		q := &models.Question{
			Prompt:        bq.Prompt,
			CorrectAnswer: bq.Answer,
			IsActive:      active,
		}
		if err := st.Questions().Create(ctx, q); err != nil {
			return fmt.Errorf("seeding question %d: %w", i, err)
		}
	}

	logger.Info("seeded question bank", "path", path, "questions", len(bank.Questions))
	return nil
}
