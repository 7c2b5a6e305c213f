package orchestration

import (
	"context"
	"fmt"
	"strings"
)

type workerRun func(context.Context) error

func panicSafeNamedWorker(name string, run func(context.Context) error) workerRun {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
		}()

		if err = run(ctx); err != nil {
			return fmt.Errorf("%s worker failed: %w", name, err)
		}

		return nil
	}
}

func senderName(turn *QueuedTurn) string {
	if name := turn.Input.Sender(); name != "" {
		return name
	}
	return turn.SubmittedBy
}

func joinSentences(sentences []string) string {
	return strings.Join(sentences, " ")
}
