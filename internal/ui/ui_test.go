package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2pchat/p2pchat/internal/dispatch"
	"github.com/p2pchat/p2pchat/internal/message"
)

func TestRunDeliversEachSinkKind(t *testing.T) {
	d := dispatch.New(4, 4, t.TempDir(), 1<<20, false, nil)

	var (
		gotText   message.Text
		gotStatus message.Status
		gotPath   string
		gotErr    error
	)
	textCh := make(chan struct{}, 1)
	statusCh := make(chan struct{}, 1)
	pathCh := make(chan struct{}, 1)
	errCh := make(chan struct{}, 1)

	sink := Sink{
		OnText:      func(t message.Text) { gotText = t; textCh <- struct{}{} },
		OnStatus:    func(st message.Status) { gotStatus = st; statusCh <- struct{}{} },
		OnFileSaved: func(p string) { gotPath = p; pathCh <- struct{}{} },
		OnError:     func(e error) { gotErr = e; errCh <- struct{}{} },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx, d)

	d.Text <- message.Text{UTF8: "hi"}
	d.Status <- message.Status{Kind: "info", Detail: "connected"}
	d.FileSaved <- "/tmp/out.bin"
	d.Errors <- errors.New("boom")

	waitFor(t, textCh)
	waitFor(t, statusCh)
	waitFor(t, pathCh)
	waitFor(t, errCh)

	require.Equal(t, "hi", gotText.UTF8)
	require.Equal(t, "info", gotStatus.Kind)
	require.Equal(t, "/tmp/out.bin", gotPath)
	require.EqualError(t, gotErr, "boom")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := dispatch.New(1, 1, t.TempDir(), 1<<20, false, nil)
	ctx, cancel := context.WithCancel(context.Background())

	doneCh := make(chan struct{})
	go func() {
		Sink{}.Run(ctx, d)
		close(doneCh)
	}()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink callback")
	}
}
