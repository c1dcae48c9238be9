package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/datachat/backend/internal/model/chat"
	chat "github.com/zhouzirui/datachat/backend/internal/service/chat"
)

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, got.ID)
	require.False(t, got.HasCredential)
	require.Equal(t, model.StateUninitialized, got.State)
	require.NotEmpty(t, got.CSRFToken)
	require.Equal(t, session.CSRFToken, got.CSRFToken)
	require.NotEqual(t, session.ID, got.CSRFToken)

	other, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEqual(t, session.CSRFToken, other.CSRFToken)
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService(time.Hour)

	_, err := svc.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestServiceCredential(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	_, err := svc.Credential(ctx, session.ID)
	require.ErrorIs(t, err, chat.ErrCredentialMissing)

	require.NoError(t, svc.SetCredential(ctx, session.ID, "sk-test"))
	credential, err := svc.Credential(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "sk-test", credential)

	got, _ := svc.GetSession(ctx, session.ID)
	require.True(t, got.HasCredential)

	require.NoError(t, svc.SetCredential(ctx, session.ID, ""))
	_, err = svc.Credential(ctx, session.ID)
	require.ErrorIs(t, err, chat.ErrCredentialMissing)
}

func TestServiceEnsureSeededRunsOnce(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	calls := 0
	build := func() (string, error) {
		calls++
		return "system", nil
	}

	require.NoError(t, svc.EnsureSeeded(ctx, session.ID, build))
	require.NoError(t, svc.EnsureSeeded(ctx, session.ID, build))
	require.Equal(t, 1, calls)

	messages, err := svc.LoadMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, model.RoleSystem, messages[0].Role)
}

func TestServiceEnsureSeededPropagatesError(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	boom := errors.New("boom")
	require.ErrorIs(t, svc.EnsureSeeded(ctx, session.ID, func() (string, error) { return "", boom }), boom)

	got, _ := svc.GetSession(ctx, session.ID)
	require.Equal(t, model.StateUninitialized, got.State)
}

func TestServiceTurnLifecycle(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)
	require.NoError(t, svc.EnsureSeeded(ctx, session.ID, func() (string, error) { return "system", nil }))

	messages, err := svc.BeginTurn(ctx, session.ID, "hola")
	require.NoError(t, err)
	require.Len(t, messages, 2)

	_, err = svc.BeginTurn(ctx, session.ID, "otra")
	require.ErrorIs(t, err, model.ErrTurnInProgress)

	require.NoError(t, svc.CompleteTurn(ctx, session.ID, "respuesta"))

	transcript, err := svc.LoadTranscript(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "hola"},
		{Role: model.RoleAssistant, Content: "respuesta"},
	}, transcript)
}

func TestServiceSessionsAreIsolated(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		session, err := svc.CreateSession(ctx)
		require.NoError(t, err)
		ids[i] = session.ID
	}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = svc.SetCredential(ctx, id, "key-"+id)
			_ = svc.EnsureSeeded(ctx, id, func() (string, error) { return "system", nil })
			if _, err := svc.BeginTurn(ctx, id, "pregunta de "+id); err == nil {
				_ = svc.CompleteTurn(ctx, id, "respuesta para "+id)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		credential, err := svc.Credential(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "key-"+id, credential)

		transcript, err := svc.LoadTranscript(ctx, id)
		require.NoError(t, err)
		require.Len(t, transcript, 2)
		require.Equal(t, "pregunta de "+id, transcript[0].Content)
		require.Equal(t, "respuesta para "+id, transcript[1].Content)
	}
}

func TestServiceEndSession(t *testing.T) {
	svc := chat.NewService(time.Hour)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	require.NoError(t, svc.EndSession(ctx, session.ID))
	require.ErrorIs(t, svc.EndSession(ctx, session.ID), chat.ErrSessionNotFound)
	_, err := svc.Credential(ctx, session.ID)
	require.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestServiceSweepExpiresIdleSessions(t *testing.T) {
	svc := chat.NewService(time.Minute)
	ctx := context.Background()

	session, _ := svc.CreateSession(ctx)
	require.Equal(t, 0, svc.Sweep())

	chat.SetClock(svc, func() time.Time { return time.Now().Add(2 * time.Minute) })
	require.Equal(t, 1, svc.Sweep())

	_, err := svc.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestServiceSweepDisabled(t *testing.T) {
	svc := chat.NewService(0)
	_, _ = svc.CreateSession(context.Background())

	chat.SetClock(svc, func() time.Time { return time.Now().Add(24 * time.Hour) })
	require.Equal(t, 0, svc.Sweep())
}
