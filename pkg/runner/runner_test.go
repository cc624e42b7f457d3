package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/zitadel-sub007/pkg/runner"
)

// recordingService notes lifecycle calls in a shared journal.
type recordingService struct {
	name      string
	journal   *journal
	startErr  error
	stopErr   error
	healthErr error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.journal.add("start " + s.name)
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	if s.stopErr != nil {
		return s.stopErr
	}
	s.journal.add("stop " + s.name)
	return nil
}

func (s *recordingService) HealthCheck(context.Context) error { return s.healthErr }

func TestRunStartsInOrderAndStopsOnCancel(t *testing.T) {
	j := &journal{}
	a := &recordingService{name: "a", journal: j}
	b := &recordingService{name: "b", journal: j}

	r := runner.New([]runner.Service{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let both services start, then shut down.
	require.Eventually(t, func() bool {
		entries := j.list()
		return len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not shut down")
	}

	entries := j.list()
	assert.Equal(t, "start a", entries[0])
	assert.Equal(t, "start b", entries[1])
	assert.ElementsMatch(t, []string{"stop a", "stop b"}, entries[2:])
}

func TestRunStopsStartedServicesWhenOneFailsToStart(t *testing.T) {
	j := &journal{}
	a := &recordingService{name: "a", journal: j}
	broken := &recordingService{name: "broken", journal: j, startErr: errors.New("no dice")}

	r := runner.New([]runner.Service{a, broken})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start broken")
	assert.Equal(t, []string{"start a", "stop a"}, j.list())
}

func TestRunReportsStopFailures(t *testing.T) {
	j := &journal{}
	a := &recordingService{name: "a", journal: j, stopErr: errors.New("stuck")}

	r := runner.New([]runner.Service{a}, runner.WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop a")
}

func TestHealthCheck(t *testing.T) {
	j := &journal{}
	healthy := &recordingService{name: "ok", journal: j}
	sick := &recordingService{name: "sick", journal: j, healthErr: errors.New("degraded")}

	require.NoError(t, runner.New([]runner.Service{healthy}).HealthCheck(context.Background()))

	err := runner.New([]runner.Service{healthy, sick}).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sick")
}
