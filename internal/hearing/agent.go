package hearing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/vitals/internal/engine"
)

const defaultTimeout = 45 * time.Second

var completionOptions = engine.Options{Temperature: 0.7, MaxTokens: 1024}

// Agent drives one dialogue turn: prompt, completion, parse.
type Agent struct {
	llm     engine.Completer
	timeout time.Duration
}

// New creates an Agent. A zero timeout selects the default.
func New(llm engine.Completer, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Agent{llm: llm, timeout: timeout}
}

// Respond runs one turn. When the model cannot be used the result is flagged
// Fallback and its Reply asks the user to repeat, restating the current
// question. The fallback Turn never carries extracted data.
func (a *Agent) Respond(ctx context.Context, in PromptInput) engine.Result[Turn] {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.llm.Complete(ctx, BuildTurnPrompt(in), completionOptions)
	if err != nil {
		qid := ""
		if in.Question != nil {
			qid = in.Question.ID
		}
		slog.Warn("hearing turn unavailable, asking user to repeat", "stage", "hearing", "question_id", qid, "error", err)
		return engine.Fallback(Turn{Reply: RetryReply(in)}, err)
	}

	turn := ParseTurn(raw)
	if turn.Reply == "" {
		turn.Reply = "Thanks, noted."
	}
	return engine.Ok(turn)
}

// RetryReply is the neutral continuation shown when a turn could not be
// processed. It restates the pending question so the conversation goes on.
func RetryReply(in PromptInput) string {
	if in.Question == nil {
		return "Sorry, I couldn't process that just now. Could you say it again?"
	}
	return fmt.Sprintf("Sorry, I couldn't process that just now. Let's keep going: %s", in.Question.Question)
}
