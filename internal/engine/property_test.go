package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
	"github.com/roach88/protoengine/internal/testutil"
)

func drawParams(rt *rapid.T, label string) ir.Params {
	switch rapid.IntRange(0, 4).Draw(rt, label) {
	case 0:
		return ir.CommentParams{Message: rapid.StringMatching(`[a-z ]{0,12}`).Draw(rt, label+"-msg")}
	case 1:
		return ir.HomeParams{}
	case 2:
		return ir.DelayParams{Seconds: rapid.Float64Range(0, 5).Draw(rt, label+"-seconds")}
	case 3:
		return ir.WaitForResumeParams{}
	default:
		return ir.CustomParams{Data: map[string]any{"n": rapid.IntRange(0, 9).Draw(rt, label+"-n")}}
	}
}

// Commands always complete in queue order, one at a time, and the action
// log replays to the live state.
func TestProperty_RunsInQueueOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		log := &memoryLog{}
		e, err := New(execution.NewSimulator(),
			WithConfig(testConfig()),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithClock(testutil.NewStepClock(time.Millisecond)),
			WithIDs(NewSequenceGenerator()),
			WithActionLog(log),
		)
		require.NoError(rt, err)
		errCh := make(chan error, 1)
		go func() { errCh <- e.Run(context.Background()) }()
		defer func() {
			e.Close()
			<-errCh
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		n := rapid.IntRange(1, 12).Draw(rt, "commands")
		for i := 0; i < n; i++ {
			p := drawParams(rt, "command")
			_, err := e.Enqueue(ctx, ir.CommandRequest{Kind: p.Kind(), Params: p})
			require.NoError(rt, err)
		}

		// Keep playing through wait-for-resume pauses until the run ends.
		for {
			require.NoError(rt, e.Play(ctx))
			s, err := e.WaitFor(ctx, func(s *state.State) bool {
				return s.Status() == ir.RunPaused || s.Status().IsTerminal()
			})
			require.NoError(rt, err)
			if s.Status().IsTerminal() {
				break
			}
		}

		s := e.State()
		require.Equal(rt, ir.RunSucceeded, s.Status())

		var lastDone time.Time
		for i, cmd := range s.AllCommands() {
			require.Equal(rt, ir.CommandSucceeded, cmd.Status, "command %d", i)
			require.NotNil(rt, cmd.StartedAt)
			require.NotNil(rt, cmd.CompletedAt)
			if i > 0 {
				require.False(rt, cmd.StartedAt.Before(lastDone), "command %d started before its predecessor completed", i)
			}
			lastDone = *cmd.CompletedAt
		}

		require.Len(rt, log.Envelopes(), int(e.Seq()))
		hash, err := VerifyReplay(testConfig(), log.Envelopes())
		require.NoError(rt, err)
		want, err := e.Snapshot().Hash()
		require.NoError(rt, err)
		require.Equal(rt, want, hash)
	})
}
