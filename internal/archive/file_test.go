package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

func TestFileSinkWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	sink, err := NewFileSink(path, false)
	require.NoError(t, err)

	m := message.Message{
		ID: 1, Source: message.SidePubSub, Destination: message.SideVariable,
		TopicOrNode: "n1", Value: json.RawMessage(`1`), Status: message.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, sink.Write(context.Background(), []message.Message{m}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec Record
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	require.EqualValues(t, 1, rec.ID)
	require.Equal(t, "completed", rec.Status)
}

func TestUnsupportedBackendErrors(t *testing.T) {
	_, err := New("tape-drive", Config{})
	require.Error(t, err)
}
