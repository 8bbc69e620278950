package configwatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/atlink/pkg/link"
)

type recordingPeer struct {
	mu    sync.Mutex
	calls []link.Tunables
	err   error
}

func (p *recordingPeer) SendTo(uint64, []byte) error  { return nil }
func (p *recordingPeer) Broadcast([]byte) int         { return 0 }
func (p *recordingPeer) Sessions() []link.SessionInfo { return nil }

func (p *recordingPeer) Reconfigure(t link.Tunables) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, t)
	return nil
}

func (p *recordingPeer) applied() []link.Tunables {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]link.Tunables(nil), p.calls...)
}

// fileLoader parses the file content as a read timeout duration.
func fileLoader(path string) (link.Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return link.Tunables{}, err
	}
	d, err := time.ParseDuration(string(data))
	if err != nil {
		return link.Tunables{}, err
	}
	return link.Tunables{ReadTimeout: d}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, path string, peer link.Peer) *Plugin {
	t.Helper()
	plugin := New(Config{Path: path, Loader: fileLoader, DebounceDelay: 20 * time.Millisecond})
	if err := plugin.Initialize(context.Background(), link.PluginConfig{Peer: peer}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		if err := plugin.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return plugin
}

func TestPlugin_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "1s")

	peer := &recordingPeer{}
	plugin := startWatcher(t, path, peer)

	writeFile(t, path, "7s")
	waitUntil(t, "reload", func() bool { return plugin.Reloads() == 1 })

	got := peer.applied()
	if len(got) != 1 || got[0].ReadTimeout != 7*time.Second {
		t.Errorf("applied = %+v", got)
	}
}

func TestPlugin_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "1s")

	peer := &recordingPeer{}
	plugin := New(Config{Path: path, Loader: fileLoader, DebounceDelay: 200 * time.Millisecond})
	if err := plugin.Initialize(context.Background(), link.PluginConfig{Peer: peer}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer plugin.Shutdown(context.Background())

	for _, v := range []string{"2s", "3s", "4s"} {
		writeFile(t, path, v)
		time.Sleep(10 * time.Millisecond)
	}
	waitUntil(t, "reload", func() bool { return plugin.Reloads() >= 1 })
	time.Sleep(300 * time.Millisecond)

	got := peer.applied()
	if len(got) != 1 {
		t.Fatalf("reloads = %d, want 1", len(got))
	}
	if got[0].ReadTimeout != 4*time.Second {
		t.Errorf("ReadTimeout = %v, want 4s", got[0].ReadTimeout)
	}
}

func TestPlugin_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "1s")

	peer := &recordingPeer{}
	plugin := startWatcher(t, path, peer)

	writeFile(t, filepath.Join(dir, "other.toml"), "9s")
	time.Sleep(200 * time.Millisecond)

	if plugin.Reloads() != 0 {
		t.Errorf("reloads = %d, want 0", plugin.Reloads())
	}
}

func TestPlugin_InvalidFileKeepsSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "1s")

	peer := &recordingPeer{}
	plugin := startWatcher(t, path, peer)

	writeFile(t, path, "not a duration")
	time.Sleep(200 * time.Millisecond)
	if n := len(peer.applied()); n != 0 {
		t.Fatalf("applied %d invalid reloads", n)
	}

	writeFile(t, path, "5s")
	waitUntil(t, "recovery reload", func() bool { return plugin.Reloads() == 1 })
}

func TestPlugin_RejectedReconfigure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "1s")

	peer := &recordingPeer{err: errors.New("invalid config")}
	plugin := startWatcher(t, path, peer)

	writeFile(t, path, "2s")
	time.Sleep(200 * time.Millisecond)
	if plugin.Reloads() != 0 {
		t.Errorf("reloads = %d, want 0", plugin.Reloads())
	}
}

func TestPlugin_Name(t *testing.T) {
	plugin := New(DefaultConfig())
	if plugin.Name() != "configwatcher" {
		t.Errorf("Name() = %v, want configwatcher", plugin.Name())
	}
}

func TestPlugin_DisabledWithoutPath(t *testing.T) {
	plugin := New(Config{Loader: fileLoader})
	if err := plugin.Initialize(context.Background(), link.PluginConfig{Peer: &recordingPeer{}}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := plugin.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestPlugin_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.toml")
	plugin := New(Config{Path: path, Loader: fileLoader})
	if err := plugin.Initialize(context.Background(), link.PluginConfig{Peer: &recordingPeer{}}); err == nil {
		plugin.Shutdown(context.Background())
		t.Fatal("expected error for missing directory")
	}
}
