package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// writeFile creates path under root with content, making parent directories
func writeFile(t *testing.T, root, path, content string) string {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	return full
}

// writePlugin creates a plugin folder under root with a manifest and Lua files
func writePlugin(t *testing.T, root, dir, manifest string, files map[string]string) string {
	t.Helper()

	folder := filepath.Join(root, filepath.FromSlash(dir))
	writeFile(t, folder, ManifestFile, manifest)
	for name, content := range files {
		writeFile(t, folder, name, content)
	}
	return folder
}

// flagPlugin returns Lua files whose load() increments the global counter "loads"
func flagPlugin() map[string]string {
	return map[string]string{
		EntryFile: `-- nothing to export`,
		"main.lua": `
local M = {}
function M.load()
  loads = (loads or 0) + 1
end
return M
`,
	}
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// entriesAt returns the log entries recorded at level
func entriesAt(hook *test.Hook, level logrus.Level) []logrus.Entry {
	var entries []logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == level {
			entries = append(entries, *entry)
		}
	}
	return entries
}

type recordedEvent struct {
	topic   string
	payload any
}

// recordingPublisher captures published events
type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) {
	p.events = append(p.events, recordedEvent{topic: topic, payload: payload})
}

func (p *recordingPublisher) topics() []string {
	topics := make([]string, 0, len(p.events))
	for _, e := range p.events {
		topics = append(topics, e.topic)
	}
	return topics
}
