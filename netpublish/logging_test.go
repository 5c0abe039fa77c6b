package netpublish

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggingPublisherLogsEachCall(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	pub := New(logger)

	require.NoError(t, pub.Publish(context.Background(), "atlas/proposal/v1", []byte("x")))
	require.NoError(t, pub.SendResponse(context.Background(), "req-1", []byte("y")))
	require.NoError(t, pub.RequestState(context.Background(), "peer-1", 5))

	out := buf.String()
	require.Contains(t, out, "publish")
	require.Contains(t, out, "send_response")
	require.Contains(t, out, "request_state")
}

func TestNewDefaultsToSlogDefault(t *testing.T) {
	pub := New(nil)
	require.NotNil(t, pub.Logger)
}
