package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/config"
	"github.com/p2pchat/p2pchat/internal/filestage"
	"github.com/p2pchat/p2pchat/internal/message"
	"github.com/p2pchat/p2pchat/internal/wire"
)

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func baseConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.DownloadDirectory = filepath.Join(t.TempDir(), "downloads")
	cfg.HeartbeatInterval = time.Minute
	cfg.ReconnectAttempts = 3
	cfg.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

// startPair launches a listener-side endpoint and a dialer-side endpoint
// against it, returning once both Start calls have returned (Ready or
// failed), along with whatever error each Start call produced.
func startPair(t *testing.T, cfgA, cfgB config.Config) (a, b *Endpoint, errA, errB error) {
	port := freePort(t)
	cfgA.ListenPort = uint16(port)
	cfgB.ListenPort = uint16(freePort(t))

	var err error
	a, err = New(cfgA)
	require.NoError(t, err)
	b, err = New(cfgB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)

	go func() { doneA <- a.Start(ctx, "") }()
	time.Sleep(50 * time.Millisecond) // give the listener time to bind
	go func() { doneB <- b.Start(ctx, "127.0.0.1:"+strconv.Itoa(port)) }()

	select {
	case errA = <-doneA:
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for listener endpoint to finish Start")
	}
	select {
	case errB = <-doneB:
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for dialer endpoint to finish Start")
	}
	return a, b, errA, errB
}

func TestHandshakeNegotiatesEncryptionByDefault(t *testing.T) {
	cfgA, cfgB := baseConfig(t), baseConfig(t)

	a, b, errA, errB := startPair(t, cfgA, cfgB)
	require.NoError(t, errA)
	require.NoError(t, errB)

	require.Equal(t, Ready, a.State())
	require.Equal(t, Ready, b.State())
	require.True(t, a.crypto.HasSessionKey())
	require.True(t, b.crypto.HasSessionKey())
	require.NotNil(t, a.Peer().PublicKeyFingerprint)
	require.NotNil(t, b.Peer().PublicKeyFingerprint)

	a.Shutdown()
	b.Shutdown()
}

func TestHandshakeFallsBackWhenBothDeclineEncryption(t *testing.T) {
	cfgA, cfgB := baseConfig(t), baseConfig(t)
	cfgA.EncryptionEnabled = false
	cfgB.EncryptionEnabled = false

	a, b, errA, errB := startPair(t, cfgA, cfgB)
	require.NoError(t, errA)
	require.NoError(t, errB)
	require.Equal(t, Ready, a.State())
	require.Equal(t, Ready, b.State())
	require.False(t, a.crypto.HasSessionKey())
	require.False(t, b.crypto.HasSessionKey())

	a.Shutdown()
	b.Shutdown()
}

func TestHandshakeClosesWhenLocalRequiresEncryptionButPeerDeclines(t *testing.T) {
	cfgA, cfgB := baseConfig(t), baseConfig(t)
	cfgA.EncryptionEnabled = true
	cfgB.EncryptionEnabled = false

	a, b, errA, errB := startPair(t, cfgA, cfgB)
	require.Error(t, errA)
	var required *chaterr.EncryptionRequired
	require.ErrorAs(t, errA, &required)
	require.NoError(t, errB)

	b.Shutdown()
}

func TestTextMessageDeliveredAndAcked(t *testing.T) {
	a, b, errA, errB := startPair(t, baseConfig(t), baseConfig(t))
	require.NoError(t, errA)
	require.NoError(t, errB)
	defer a.Shutdown()
	defer b.Shutdown()

	require.NoError(t, a.SendText("hello there"))

	select {
	case text := <-b.Dispatcher.Text:
		require.Equal(t, "hello there", text.UTF8)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for text to arrive")
	}

	require.Eventually(t, func() bool {
		return a.tracker.Count() == 0
	}, 3*time.Second, 20*time.Millisecond, "sender's pending record should clear once the ack arrives")
}

func TestPeerShutdownSurfacesAsPeerClosed(t *testing.T) {
	a, b, errA, errB := startPair(t, baseConfig(t), baseConfig(t))
	require.NoError(t, errA)
	require.NoError(t, errB)
	defer a.Shutdown()

	b.Shutdown()

	select {
	case err := <-a.Dispatcher.Errors:
		var closed *chaterr.PeerClosed
		require.ErrorAs(t, err, &closed)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the peer's clean close to surface")
	}
}

// relayFrames pumps wire frames from src to dst, re-encoding each one so it
// can be mutated in flight. mutate, if non-nil, is given a chance to alter
// each decoded message before it is forwarded.
func relayFrames(src, dst net.Conn, mutate func(*message.Message)) {
	defer dst.Close()
	var buf []byte
	chunk := make([]byte, 8192)
	freshID := func() uint64 { return 0 }
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		for {
			msg, consumed, err := wire.Decode(buf, freshID)
			if err != nil {
				break
			}
			buf = buf[consumed:]
			if mutate != nil {
				mutate(&msg)
			}
			if _, werr := dst.Write(wire.Encode(msg)); werr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// startTamperProxy sits between a dialer and the real listener, flipping a bit
// in the first CipherText frame it relays from the dialer side so the
// tampering happens to real bytes in flight rather than to an in-memory
// struct.
func startTamperProxy(t *testing.T, listenPort, targetPort int) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", listenPort))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", targetPort))
		if err != nil {
			_ = conn.Close()
			return
		}
		tampered := false
		go relayFrames(conn, upstream, func(msg *message.Message) {
			if tampered {
				return
			}
			if ct, ok := msg.Kind.(message.CipherText); ok && len(ct.Ciphertext) > 0 {
				ct.Ciphertext[0] ^= 0xFF
				msg.Kind = ct
				tampered = true
			}
		})
		go relayFrames(upstream, conn, nil)
	}()
}

func TestTamperedCiphertextClosesSessionWithoutDelivery(t *testing.T) {
	cfgA, cfgB := baseConfig(t), baseConfig(t)
	portA := freePort(t)
	cfgA.ListenPort = uint16(portA)
	cfgB.ListenPort = uint16(freePort(t))
	proxyPort := freePort(t)

	a, err := New(cfgA)
	require.NoError(t, err)
	b, err := New(cfgB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	doneA := make(chan error, 1)
	go func() { doneA <- a.Start(ctx, "") }()
	time.Sleep(50 * time.Millisecond)

	startTamperProxy(t, proxyPort, portA)

	doneB := make(chan error, 1)
	go func() { doneB <- b.Start(ctx, "127.0.0.1:"+strconv.Itoa(proxyPort)) }()

	select {
	case errA := <-doneA:
		require.NoError(t, errA)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for listener endpoint to finish Start")
	}
	select {
	case errB := <-doneB:
		require.NoError(t, errB)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for dialer endpoint to finish Start")
	}
	defer a.Shutdown()
	defer b.Shutdown()

	require.NoError(t, b.SendText("this will be tampered in flight"))

	select {
	case err := <-a.Dispatcher.Errors:
		var authFailed *chaterr.AuthenticationFailed
		require.ErrorAs(t, err, &authFailed)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the tampered ciphertext to surface as an authentication failure")
	}

	require.Eventually(t, func() bool {
		return a.State() == Closed
	}, 2*time.Second, 20*time.Millisecond, "a tampered ciphertext must drain and close the session")

	select {
	case text := <-a.Dispatcher.Text:
		t.Fatalf("tampered message must never be delivered to the UI sink, got %+v", text)
	case <-time.After(200 * time.Millisecond):
	}
}

// startDropFirstProxy forwards every frame except the first CipherText
// frame in flight, which it silently discards, simulating the dropped
// transmission spec.md §8 scenario 5 requires; the tracker's own retry, not
// the test, is what gets the message through.
func startDropFirstProxy(t *testing.T, listenPort, targetPort int) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", listenPort))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", targetPort))
		if err != nil {
			_ = conn.Close()
			return
		}
		dropped := false
		go relayFramesDropping(conn, upstream, &dropped)
		go relayFrames(upstream, conn, nil)
	}()
}

// relayFramesDropping behaves like relayFrames but discards (rather than
// forwards) the first CipherText frame it sees, flipping *dropped once it
// has done so.
func relayFramesDropping(src, dst net.Conn, dropped *bool) {
	defer dst.Close()
	var buf []byte
	chunk := make([]byte, 8192)
	freshID := func() uint64 { return 0 }
	for {
		n, readErr := src.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		for {
			msg, consumed, err := wire.Decode(buf, freshID)
			if err != nil {
				break
			}
			buf = buf[consumed:]
			if !*dropped {
				if _, ok := msg.Kind.(message.CipherText); ok {
					*dropped = true
					continue
				}
			}
			if _, werr := dst.Write(wire.Encode(msg)); werr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

func TestDroppedTransmissionRecoversViaRetryExactlyOnce(t *testing.T) {
	cfgA, cfgB := baseConfig(t), baseConfig(t)
	portA := freePort(t)
	cfgA.ListenPort = uint16(portA)
	cfgB.ListenPort = uint16(freePort(t))
	proxyPort := freePort(t)

	a, err := New(cfgA)
	require.NoError(t, err)
	b, err := New(cfgB)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 18*time.Second)
	defer cancel()

	doneA := make(chan error, 1)
	go func() { doneA <- a.Start(ctx, "") }()
	time.Sleep(50 * time.Millisecond)

	startDropFirstProxy(t, proxyPort, portA)

	doneB := make(chan error, 1)
	go func() { doneB <- b.Start(ctx, "127.0.0.1:"+strconv.Itoa(proxyPort)) }()

	select {
	case errA := <-doneA:
		require.NoError(t, errA)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for listener endpoint to finish Start")
	}
	select {
	case errB := <-doneB:
		require.NoError(t, errB)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for dialer endpoint to finish Start")
	}
	defer a.Shutdown()
	defer b.Shutdown()

	require.NoError(t, b.SendText("resilient to a dropped first send"))

	select {
	case text := <-a.Dispatcher.Text:
		require.Equal(t, "resilient to a dropped first send", text.UTF8)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the retried message to arrive")
	}

	select {
	case text := <-a.Dispatcher.Text:
		t.Fatalf("retry must be delivered exactly once, got a second delivery: %+v", text)
	case <-time.After(1 * time.Second):
	}

	require.Eventually(t, func() bool {
		return b.tracker.Count() == 0
	}, 3*time.Second, 20*time.Millisecond, "sender's pending record should clear once the retried copy is acked")
}

func TestFileTransferEndToEnd(t *testing.T) {
	a, b, errA, errB := startPair(t, baseConfig(t), baseConfig(t))
	require.NoError(t, errA)
	require.NoError(t, errB)
	defer a.Shutdown()
	defer b.Shutdown()

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.txt")
	content := []byte("this is the file content")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	f, err := filestage.Prepare(srcPath, 10<<20)
	require.NoError(t, err)
	require.NoError(t, a.SendFile(f))

	select {
	case savedPath := <-b.Dispatcher.FileSaved:
		saved, err := os.ReadFile(savedPath)
		require.NoError(t, err)
		require.Equal(t, content, saved)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for file to be saved")
	}
}
