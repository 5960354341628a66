package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/withsecure-connector/pkg/checkpoint"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/testutil"
)

type RunSuite struct {
	testutil.IntegrationTestSuite
}

func TestRunSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(RunSuite))
}

func (s *RunSuite) config(api *testutil.FakeAPI, name string) *config.Config {
	cfg := config.Default()
	cfg.Connector.Frequency = 1
	cfg.API.BaseURL = api.URL()
	cfg.API.TokenURL = api.TokenURL()
	cfg.API.ClientID = "client"
	cfg.API.Secret = "secret"
	cfg.API.EnableHTTP2 = false
	cfg.Checkpoint.Path = s.Path(name, "context.json")
	cfg.Sink.Type = "file"
	cfg.Sink.Compression = "none"
	cfg.Sink.File.Directory = s.Path(name, "events")
	s.Require().NoError(cfg.Validate())
	return cfg
}

func event(id string, ts time.Time) string {
	return fmt.Sprintf(`{"id":%q,"serverTimestampStart":%q}`, id, ts.UTC().Format(time.RFC3339Nano))
}

func readEvents(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var lines []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "events-") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		f.Close()
	}
	return lines
}

func (s *RunSuite) TestForwardsPagesAndCheckpoints() {
	api := testutil.NewFakeAPI(s.T())
	now := time.Now().UTC()
	first := []string{event("e1", now.Add(-20*time.Second)), event("e2", now.Add(-10*time.Second))}
	second := []string{event("e3", now.Add(-5*time.Second))}
	api.SetPage("", testutil.FakePage{Items: first, NextAnchor: "a1"})
	api.SetPage("a1", testutil.FakePage{Items: second})

	cfg := s.config(api, "forward")
	ctx, cancel := context.WithCancel(s.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runConnector(ctx, cfg) }()

	store := checkpoint.NewFileStore(cfg.Checkpoint.Path, nil)
	testutil.AssertEventually(s.T(), func() bool {
		_, found, err := store.Load(context.Background())
		return err == nil && found && len(readEvents(cfg.Sink.File.Directory)) >= 3
	}, 10*time.Second, "events forwarded and watermark persisted")

	cancel()
	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(10 * time.Second):
		s.FailNow("connector did not stop after cancellation")
	}

	lines := readEvents(cfg.Sink.File.Directory)
	s.Subset(lines, append(first, second...))

	watermark, found, err := store.Load(context.Background())
	s.Require().NoError(err)
	s.True(found)
	expected := now.Add(-5 * time.Second).Truncate(time.Second).Add(time.Second)
	s.True(expected.Equal(watermark), "watermark %s, expected %s", watermark, expected)

	requests := api.Requests()
	s.Require().GreaterOrEqual(len(requests), 2)
	s.Equal("asc", requests[0].Get("order"))
	s.Equal("1000", requests[0].Get("limit"))
	s.False(requests[0].Has("anchor"))
	s.Equal("a1", requests[1].Get("anchor"))
	s.Equal(1, api.TokenRequests())
}

func (s *RunSuite) TestCorruptCheckpointStopsBeforeFetching() {
	api := testutil.NewFakeAPI(s.T())
	cfg := s.config(api, "corrupt")

	s.Require().NoError(os.MkdirAll(filepath.Dir(cfg.Checkpoint.Path), 0o750))
	s.Require().NoError(os.WriteFile(cfg.Checkpoint.Path, []byte("not json"), 0o600))

	err := runConnector(s.Context(), cfg)
	s.Require().Error(err)
	s.True(checkpoint.IsCorrupt(err))
	s.Empty(api.Requests())
}

func (s *RunSuite) TestShutdownBeforeStartIsClean() {
	api := testutil.NewFakeAPI(s.T())
	cfg := s.config(api, "cancelled")

	ctx, cancel := context.WithCancel(s.Context())
	cancel()

	s.Require().NoError(runConnector(ctx, cfg))
	s.Empty(api.Requests())
	s.NoFileExists(cfg.Checkpoint.Path)
}
