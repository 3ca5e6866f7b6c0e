package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    domain.TurnRequest
		wantErr bool
	}{
		{line: "book", want: domain.TurnRequest{Intent: "book"}},
		{line: "city=Quito", want: domain.TurnRequest{Parameters: map[string]any{"city": "Quito"}}},
		{line: "book count=2 ok=true", want: domain.TurnRequest{Intent: "book", Parameters: map[string]any{"count": 2.0, "ok": true}}},
		{line: `{"intent":"confirm","parameters":{"slot":"09:00"}}`, want: domain.TurnRequest{Intent: "confirm", Parameters: map[string]any{"slot": "09:00"}}},
		{line: "book cancel", wantErr: true},
		{line: "=x", wantErr: true},
		{line: "{broken", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingEngine struct {
	reqs []domain.TurnRequest
}

func (r *recordingEngine) ProcessTurn(_ context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	r.reqs = append(r.reqs, req)
	if req.Intent == "broken" {
		return nil, domain.NewConfigurationError("broken", "state does not exist")
	}
	return &domain.TurnResult{
		SessionID:      req.SessionID,
		FinalStateID:   "state_" + req.Intent,
		RenderedOutput: map[string]any{"prompt": "hello " + req.Intent},
	}, nil
}

func TestRunChat(t *testing.T) {
	eng := &recordingEngine{}
	var out bytes.Buffer
	in := strings.NewReader("book city=Quito\n\nbroken\nbad tokens here\nquit\nnever\n")

	err := RunChat(context.Background(), eng, in, &out, ChatOptions{SessionID: "cli"})
	require.NoError(t, err)

	require.Len(t, eng.reqs, 3)
	assert.True(t, eng.reqs[0].IsInitialCall)
	assert.Equal(t, "cli", eng.reqs[1].SessionID)
	assert.Equal(t, "Quito", eng.reqs[1].Parameters["city"])
	assert.Equal(t, "broken", eng.reqs[2].Intent)

	text := out.String()
	assert.Contains(t, text, "hello book")
	assert.Contains(t, text, ">>> configuration error: broken")
	assert.Contains(t, text, ">>> only one intent per turn")
}

func TestRunChat_JSON(t *testing.T) {
	eng := &recordingEngine{}
	var out bytes.Buffer

	err := RunChat(context.Background(), eng, strings.NewReader("go\n"), &out, ChatOptions{SessionID: "s", Resume: true, JSON: true})
	require.NoError(t, err)

	require.Len(t, eng.reqs, 1)
	var res domain.TurnResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "state_go", res.FinalStateID)
}

func TestRunChat_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()

	err := RunChat(ctx, &recordingEngine{}, r, &bytes.Buffer{}, ChatOptions{Resume: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, HandleExecutionError(err))
}
