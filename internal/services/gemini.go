package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"studentforge-backend/internal/models"
)

const (
	defaultQuizQuestions = 10
	// maxPromptChars keeps long documents inside the model context.
	maxPromptChars = 120_000
)

type GeminiService struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	publisher Publisher
	rateChan  chan struct{} // Token bucket
}

func NewGeminiService(apiKey, modelName string, concurrentReqs int, publisher Publisher) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.3)
	model.SetTopP(0.95)
	model.ResponseMIMEType = "application/json"

	if concurrentReqs < 1 {
		concurrentReqs = 1
	}
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:    client,
		model:     model,
		publisher: publisher,
		rateChan:  rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// GenerateQuizQuestions asks Gemini for questions about documentText and
// returns the ones that pass validation.
func (s *GeminiService) GenerateQuizQuestions(ctx context.Context, job *models.Job, documentText string) ([]models.QuizQuestion, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	var config models.GenerateQuizRequest
	if err := json.Unmarshal(job.ConfigJSON, &config); err != nil {
		return nil, fmt.Errorf("decode quiz config: %w", err)
	}

	s.publisher.Publish(ctx, job.UserID, models.WSMessage{
		Type: "status_update",
		Payload: models.StatusUpdate{
			JobID: job.ID, Step: 2, StepName: "Generating Questions",
		},
	})

	resp, err := s.model.GenerateContent(ctx, genai.Text(buildQuizPrompt(config, documentText)))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}
	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Warn().Int("candidate", i).Str("finish_reason", cand.FinishReason.String()).
				Str("job_id", job.ID.String()).Msg("Gemini stopped early")
		}
	}

	questions := validateQuizQuestions(parseQuizQuestions(extractText(resp)))
	if len(questions) == 0 {
		return nil, fmt.Errorf("Gemini returned no usable questions")
	}
	return questions, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// parseQuizQuestions tolerates code fences and chatter around the JSON array.
func parseQuizQuestions(rawText string) []models.QuizQuestion {
	rawText = strings.TrimSpace(rawText)
	rawText = strings.TrimPrefix(rawText, "```json")
	rawText = strings.TrimPrefix(rawText, "```")
	rawText = strings.TrimSuffix(rawText, "```")
	rawText = strings.TrimSpace(rawText)

	var questions []models.QuizQuestion
	if err := json.Unmarshal([]byte(rawText), &questions); err != nil {
		start := strings.Index(rawText, "[")
		end := strings.LastIndex(rawText, "]")
		if start >= 0 && end > start {
			json.Unmarshal([]byte(rawText[start:end+1]), &questions)
		}
	}
	return questions
}

func buildQuizPrompt(config models.GenerateQuizRequest, content string) string {
	var b strings.Builder

	n := config.NumQuestions
	if n <= 0 {
		n = defaultQuizQuestions
	}
	difficulty := config.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}
	if len(content) > maxPromptChars {
		content = content[:maxPromptChars]
	}

	b.WriteString("You are an expert educational assessor. Generate quiz questions based on the following study document.\n\n")
	b.WriteString("CRITICAL: Return ONLY a valid JSON array. No preamble, no markdown, no backticks.\n\n")
	b.WriteString(fmt.Sprintf("Generate exactly %d multiple choice questions.\n", n))
	b.WriteString(fmt.Sprintf("Difficulty: %s\n", difficulty))

	switch difficulty {
	case "easy":
		b.WriteString("Easy = direct recall from text.\n")
	case "medium":
		b.WriteString("Medium = application of concepts.\n")
	case "hard":
		b.WriteString("Hard = analysis, synthesis, or inference beyond what is explicitly stated.\n")
	}

	b.WriteString(`
JSON schema per question:
{"question": "string", "options": ["string", "string", "string", "string"], "correct_index": int, "explanation": "string"}
`)

	b.WriteString("\n---DOCUMENT---\n")
	b.WriteString(content)
	b.WriteString("\n---END---\n")

	return b.String()
}

// validateQuizQuestions drops questions a student could not answer and
// clamps a bad correct_index to the first option.
func validateQuizQuestions(questions []models.QuizQuestion) []models.QuizQuestion {
	valid := []models.QuizQuestion{}
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" || len(q.Options) < 2 {
			continue
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			q.CorrectIndex = 0
		}
		valid = append(valid, q)
	}
	return valid
}
