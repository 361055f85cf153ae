package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-tracker/internal/app"
	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/domain"
)

func testApp(t *testing.T, expireDays int) *app.App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Connections["default"] = config.ConnectionConfig{Driver: "memory"}
	cfg.Server.BaseURL = "https://t.example.com"
	cfg.Tracker.ExpireDays = expireDays

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	return a
}

func run(t *testing.T, a *app.App, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(context.Context, string) (*app.App, error) { return a, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sendOne(t *testing.T, a *app.App) string {
	t.Helper()
	out := a.Tracker.BeforeSend(context.Background(), domain.OutgoingMessage{
		From:    domain.Address{Email: "a@example.com"},
		To:      []domain.Address{{Name: "Bee", Email: "b@example.com"}},
		Subject: "Hello",
		Body:    domain.Body{Kind: domain.BodyHTML, Content: `<body><a href="https://example.com/x">x</a></body>`},
	})
	hash, ok := out.Headers.Get("X-Mailer-Hash")
	require.True(t, ok)
	return hash
}

func TestShow(t *testing.T) {
	a := testApp(t, 0)
	hash := sendOne(t, a)

	out, err := run(t, a, "", "show", hash)
	require.NoError(t, err)

	var res ShowResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, hash, res.Message.Hash)
	assert.Equal(t, "Bee <b@example.com>", res.Message.Recipient)
	assert.Empty(t, res.Message.Content)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "https://example.com/x", res.Links[0].URL)

	out, err = run(t, a, "", "show", "--content", hash)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Message.Content, "/beacon/"+hash)
}

func TestShowUnknown(t *testing.T) {
	a := testApp(t, 0)
	_, err := run(t, a, "", "show", "nope")
	assert.ErrorContains(t, err, `no sent message with hash "nope"`)
}

func TestSweep(t *testing.T) {
	a := testApp(t, 0)
	out, err := run(t, a, "", "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "retention disabled")

	a = testApp(t, 7)
	fresh := sendOne(t, a)
	old := "old00000000000000000000000000000"
	require.NoError(t, a.Store.Repo.CreateMessage(context.Background(), &domain.SentMessage{
		Hash:      old,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}))

	out, err = run(t, a, "", "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 messages")

	_, err = a.Tracker.Message(context.Background(), old)
	assert.Error(t, err)
	_, err = a.Tracker.Message(context.Background(), fresh)
	assert.NoError(t, err)
}

func TestReplayFromStdin(t *testing.T) {
	a := testApp(t, 0)
	envelope := `{"Type":"UnsubscribeConfirmation","TopicArn":"arn:aws:sns:us-east-1:1:t","Message":"bye"}`

	out, err := run(t, a, envelope, "replay", "-")
	require.NoError(t, err)
	assert.Equal(t, "unsubscribe confirmed\n", out)

	_, err = run(t, a, "{", "replay", "-")
	assert.ErrorContains(t, err, "unsupported notification envelope type")
}
