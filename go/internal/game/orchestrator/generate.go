package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// GenerateRequest optionally replaces the settings given at creation.
type GenerateRequest struct {
	Settings *models.GameSettings
}

// Generate produces the game's questions and marks it ready. With no
// questions the game stays in generating so the host may retry.
func (o *Orchestrator) Generate(ctx context.Context, gameID uuid.UUID, req GenerateRequest) error {
	owner := o.leaseOwner()
	ok, err := o.store.AcquireLease(ctx, gameID, leaseGenerate, owner, o.cfg.GenerationLeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire generation lease: %w", err)
	}
	if !ok {
		return ErrGenerationInProgress
	}
	defer o.releaseLease(ctx, gameID, leaseGenerate, owner)

	session, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if !canPrepare(s.Status) {
			return fmt.Errorf("%w: cannot generate questions for %s game", ErrInvalidTransition, s.Status)
		}
		s.Status = models.GameStatusGenerating
		if req.Settings != nil {
			s.Settings = *req.Settings
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrGameNotFound
	}
	if err != nil {
		return err
	}

	settings := session.Settings
	requested := settings.RequestedQuestions()
	if requested <= 0 {
		return fmt.Errorf("%w: no questions requested", ErrInvalidRequest)
	}

	o.emitStatus(ctx, session)
	o.postSystem(ctx, session.RoomID, generatingMessage(requested), MessageTypeGameInfo)

	logger := log.With().Str("game_id", gameID.String()).Str("room_id", session.RoomID).Logger()
	logger.Info().Int("requested", requested).Bool("general_knowledge", settings.UseGeneralKnowledge).Msg("generating questions")

	var excerpts []string
	if !settings.UseGeneralKnowledge {
		excerpts = o.loadExcerpts(ctx, settings.DocumentIDs)
	}

	var questions []models.Question
	for _, problem := range settings.Problems {
		if problem.Count <= 0 {
			continue
		}
		generated := o.generateProblem(ctx, problem, settings.UseGeneralKnowledge, excerpts)
		logger.Info().Str("problem_type", problem.Content).Int("count", len(generated)).Msg("problem questions generated")
		questions = append(questions, generated...)
	}

	if len(questions) == 0 {
		logger.Warn().Msg("question generation produced nothing")
		o.postSystem(ctx, session.RoomID, generationFailedMessage(), MessageTypeGameInfo)
		return ErrNoQuestions
	}

	if err := o.MarkReady(ctx, gameID, questions); err != nil {
		return err
	}
	o.postSystem(ctx, session.RoomID, readyMessage(len(questions)), MessageTypeGameInfo)

	if settings.AutoStart {
		o.tasks.Go("auto-start", gameID, func(ctx context.Context) error {
			if !o.sleep(ctx, o.cfg.AutoStartDelay) {
				return nil
			}
			return o.Start(ctx, gameID)
		})
	}
	return nil
}

// GenerateAsync runs Generate in the background.
func (o *Orchestrator) GenerateAsync(gameID uuid.UUID, req GenerateRequest) error {
	if !o.tasks.Go("generate", gameID, func(ctx context.Context) error {
		return o.Generate(ctx, gameID, req)
	}) {
		return ErrOrchestratorIsClosing
	}
	return nil
}

func (o *Orchestrator) loadExcerpts(ctx context.Context, documentIDs []string) []string {
	if o.materials == nil || len(documentIDs) == 0 {
		return nil
	}
	excerpts, err := o.materials.Excerpts(ctx, documentIDs, o.cfg.MaxContextChunks)
	if err != nil {
		log.Warn().Err(err).Strs("document_ids", documentIDs).Msg("failed to load material excerpts")
		return nil
	}
	return excerpts
}

// generateProblem asks the generator for one problem's questions and falls
// back to excerpt questions when it fails or returns nothing.
func (o *Orchestrator) generateProblem(ctx context.Context, problem models.ProblemSpec, generalKnowledge bool, excerpts []string) []models.Question {
	if !generalKnowledge && len(excerpts) == 0 {
		return nil
	}

	var questions []models.Question
	if o.generator != nil {
		gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
		var err error
		if generalKnowledge {
			questions, err = o.generator.GenerateFromGeneralKnowledge(gctx, problem.Content, problem.Count)
		} else {
			questions, err = o.generator.Generate(gctx, problem.Content, problem.Count, excerpts)
		}
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("problem_type", problem.Content).Msg("generator failed, using fallback questions")
			questions = nil
		}
	}

	questions = usable(questions)
	if len(questions) == 0 {
		questions = FallbackQuestions(problem.Content, problem.Count, excerpts)
	}
	if len(questions) > problem.Count {
		questions = questions[:problem.Count]
	}
	for i := range questions {
		if questions[i].ProblemType == "" {
			questions[i].ProblemType = problem.Content
		}
	}
	return questions
}

// usable copies the questions that have both text and an answer.
func usable(questions []models.Question) []models.Question {
	out := make([]models.Question, 0, len(questions))
	for _, q := range questions {
		if q.Text != "" && q.ReferenceAnswer != "" {
			out = append(out, q)
		}
	}
	return out
}
