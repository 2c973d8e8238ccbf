package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/ludus/go/internal/models"
)

// System message types posted to room chat.
const (
	MessageTypeGameInfo     = "game_info"
	MessageTypeGameQuestion = "game_question"
	MessageTypeGameHint     = "game_hint"
	MessageTypeGameAnswer   = "game_answer"
	MessageTypeGameResult   = "game_result"
)

var medals = []string{"🥇", "🥈", "🥉"}

func questionMessage(index, total int, q models.Question, limit time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %d/%d", index+1, total)
	if q.ProblemType != "" {
		fmt.Fprintf(&b, " [%s]", q.ProblemType)
	}
	fmt.Fprintf(&b, "\n\n%s\n\n", q.Text)
	if q.Context != "" {
		fmt.Fprintf(&b, "%s\n\n", q.Context)
	}
	fmt.Fprintf(&b, "Time limit: %s. Answer in the chat!", limit)
	return b.String()
}

func hintMessage(q models.Question) string {
	if q.Hint == "" {
		return ""
	}
	return "Hint: " + q.Hint
}

func correctMessage(userName string, q models.Question, last bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s got it!\nAnswer: %s", userName, q.ReferenceAnswer)
	if q.Explanation != "" {
		fmt.Fprintf(&b, "\n\n%s", q.Explanation)
	}
	b.WriteString("\n\n")
	b.WriteString(nextLine(last))
	return b.String()
}

func timeoutMessage(q models.Question, last bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time's up!\nAnswer: %s", q.ReferenceAnswer)
	if q.Explanation != "" {
		fmt.Fprintf(&b, "\n\n%s", q.Explanation)
	}
	b.WriteString("\n\n")
	b.WriteString(nextLine(last))
	return b.String()
}

func nextLine(last bool) string {
	if last {
		return "Results coming up..."
	}
	return "Next question coming up..."
}

func rankingMessage(ranking []models.RankingEntry) string {
	var b strings.Builder
	b.WriteString("Game over! Final ranking:\n")
	if len(ranking) == 0 {
		b.WriteString("\nNo participants.")
		return b.String()
	}
	for i, entry := range ranking {
		prefix := fmt.Sprintf("%d.", entry.Rank)
		if i < len(medals) {
			prefix = medals[i]
		}
		fmt.Fprintf(&b, "\n%s %s: %d pts (%d correct)", prefix, entry.UserName, entry.TotalScore, entry.CorrectAnswers)
	}
	return b.String()
}

func generatingMessage(count int) string {
	return fmt.Sprintf("Generating %d questions...", count)
}

func readyMessage(count int) string {
	return fmt.Sprintf("%d questions are ready. Waiting for the host to start.", count)
}

func generationFailedMessage() string {
	return "Could not generate any questions. Check the selected materials and try again."
}
