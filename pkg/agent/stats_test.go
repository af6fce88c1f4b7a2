package agent_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/onereach/deskshell/pkg/agent"
	"github.com/onereach/deskshell/pkg/repository"
)

func TestStatsRecordAuction(t *testing.T) {
	ctx := context.Background()
	stats := agent.NewStats(repository.NewMemory())

	stats.RecordAuction(ctx, "what's the weather", "weather", []agent.Bid{
		{AgentID: "weather", Confidence: 0.9, Reasoning: "forecast request"},
		{AgentID: "calendar", Confidence: 0.2, Reasoning: "mentions time"},
	})

	// Every bid counts, win or lose.
	w, ok := stats.StatFor("weather")
	gt.True(t, ok)
	gt.Equal(t, w.TotalBids, 1)
	gt.Equal(t, w.Wins, 1)
	gt.Equal(t, w.TotalConfidence, 0.9)

	c, ok := stats.StatFor("calendar")
	gt.True(t, ok)
	gt.Equal(t, c.TotalBids, 1)
	gt.Equal(t, c.Wins, 0)

	history := stats.History()
	gt.A(t, history).Length(1)
	gt.Equal(t, history[0].WinnerID, "weather")
	gt.A(t, history[0].Bids).Length(2)
}

func TestStatsRecordExecution(t *testing.T) {
	ctx := context.Background()
	stats := agent.NewStats(repository.NewMemory())

	stats.RecordExecution(ctx, "weather", 120*time.Millisecond, true)
	stats.RecordExecution(ctx, "weather", 80*time.Millisecond, true)
	stats.RecordExecution(ctx, "weather", 300*time.Millisecond, false)

	st, ok := stats.StatFor("weather")
	gt.True(t, ok)
	gt.Equal(t, st.Executions, 3)
	gt.Equal(t, st.Successes, 2)
	gt.Equal(t, st.Failures, 1)
	gt.Equal(t, st.TotalExecutionTimeMs, int64(500))
	gt.Equal(t, st.Min, int64(80))
	gt.Equal(t, st.Max, int64(300))
	gt.Equal(t, st.Last, int64(300))
}

func TestStatsHistoryRingCapped(t *testing.T) {
	ctx := context.Background()
	stats := agent.NewStats(repository.NewMemory())

	for i := 0; i < 130; i++ {
		stats.RecordAuction(ctx, fmt.Sprintf("utterance %d", i), "weather", []agent.Bid{
			{AgentID: "weather", Confidence: 0.8},
		})
	}

	history := stats.History()
	gt.A(t, history).Length(100)
	gt.Equal(t, history[0].Utterance, "utterance 30")
	gt.Equal(t, history[99].Utterance, "utterance 129")
}

func TestStatsPersistAndReload(t *testing.T) {
	ctx := context.Background()
	settings := repository.NewMemory()

	stats := agent.NewStats(settings)
	stats.RecordAuction(ctx, "turn on the lights", "lights", []agent.Bid{
		{AgentID: "lights", Confidence: 0.95},
	})
	stats.RecordExecution(ctx, "lights", 40*time.Millisecond, true)

	reloaded := agent.NewStats(settings)
	gt.NoError(t, reloaded.Load(ctx))

	st, ok := reloaded.StatFor("lights")
	gt.True(t, ok)
	gt.Equal(t, st.TotalBids, 1)
	gt.Equal(t, st.Wins, 1)
	gt.Equal(t, st.Executions, 1)
	gt.A(t, reloaded.History()).Length(1)
}

func TestStatsLoadFreshProfile(t *testing.T) {
	stats := agent.NewStats(repository.NewMemory())
	gt.NoError(t, stats.Load(context.Background()))
	gt.A(t, stats.History()).Length(0)
}
