package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quill/internal/shared/logging"
)

func coffeeRun(t *testing.T) *Run {
	t.Helper()
	tasks := NewBuilder(nil, nil).Build(coffeeRequest(), &fixedDrawer{names: []string{"x"}})
	run, err := NewRun("Coffee", tasks)
	require.NoError(t, err)
	return run
}

func TestDeriveLatestEntryWins(t *testing.T) {
	run := coffeeRun(t)
	run.Log().Append(LogEntry{TaskIndex: 0, Status: StatusStarting, AgentRole: "Researcher"})
	run.Log().Append(LogEntry{TaskIndex: 0, Status: StatusFinished, AgentRole: "Researcher", Output: "notes"})
	run.Log().Append(LogEntry{TaskIndex: 1, Status: StatusStarting, AgentRole: "Content Writer"})

	snap := NewMonitor(0).Snapshot(run)
	require.Equal(t, 1, snap.Completed)
	require.Equal(t, 3, snap.Total)
	require.InDelta(t, 1.0/3.0, snap.Fraction(), 1e-9)
	require.Equal(t, "notes", snap.Tasks[0].Output)
	require.NotNil(t, snap.Current)
	require.Equal(t, 1, snap.Current.Index)
	require.Nil(t, snap.Failed)
	require.False(t, snap.Terminal)
	require.False(t, snap.Done)
	require.Equal(t, StatusPending, snap.Tasks[2].Status)
}

func TestDeriveEveryPrefixIsConsistent(t *testing.T) {
	h, res := startCoffee(t, coffeeRequest(), &scriptedBackend{})
	require.True(t, res.OK())

	entries := h.Run().Log().Entries()
	prev := 0
	for n := 0; n <= len(entries); n++ {
		snap := Derive(h.Run(), entries[:n], false)
		require.GreaterOrEqual(t, snap.Completed, prev)
		prev = snap.Completed
		for i, ts := range snap.Tasks {
			if ts.Status == StatusPending {
				for _, later := range snap.Tasks[i:] {
					require.Equal(t, StatusPending, later.Status, "prefix %d", n)
				}
				break
			}
		}
	}
	require.Equal(t, 3, prev)
}

func TestDeriveSkipsOutOfRangeEntries(t *testing.T) {
	run := coffeeRun(t)
	snap := Derive(run, []LogEntry{{TaskIndex: 9, Status: StatusFinished}, {TaskIndex: -1, Status: StatusFailed}}, false)
	require.Zero(t, snap.Completed)
	require.Nil(t, snap.Failed)
}

func TestSnapshotFractionEmpty(t *testing.T) {
	require.Zero(t, Snapshot{}.Fraction())
}

func TestWatchEndsWithTerminalSnapshot(t *testing.T) {
	backend := &scriptedBackend{}
	run := coffeeRun(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watch := NewMonitor(10*time.Millisecond).Watch(ctx, run)
	h := NewExecutor(newRegistry(backend)).Start(context.Background(), run)

	var last Snapshot
	count := 0
	for snap := range watch {
		require.GreaterOrEqual(t, snap.Seq, last.Seq)
		last = snap
		count++
	}
	_, ok := h.Result()
	require.True(t, ok, "result must be readable once a Done snapshot is seen")
	require.Positive(t, count)
	require.True(t, last.Terminal)
	require.True(t, last.Done)
	require.Equal(t, 3, last.Completed)
	require.Equal(t, 1.0, last.Fraction())
}

func TestWatchStopsWhenContextEnds(t *testing.T) {
	run := coffeeRun(t)
	ctx, cancel := context.WithCancel(context.Background())

	watch := NewMonitor(5*time.Millisecond).Watch(ctx, run)
	first := <-watch
	require.Equal(t, StatusPending, first.Tasks[0].Status)
	cancel()
	for range watch {
	}
}

func TestWatchClosesChannelWhenWatcherPanics(t *testing.T) {
	monitor := NewMonitor(time.Millisecond)
	monitor.logger = logging.Nop()

	watch := monitor.Watch(context.Background(), nil)
	select {
	case _, ok := <-watch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel was not closed after the watcher panicked")
	}
}
