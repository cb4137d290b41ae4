package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/tests/fixtures"
)

var sentMessageID = regexp.MustCompile(`^<[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}@127\.0\.0\.1>$`)

func lunchRequest() SendRequest {
	return SendRequest{
		To:      []string{"alice@example.org"},
		Bcc:     []string{"boss@example.org"},
		Subject: "Lunch?",
		HTML:    "<p>Noon at the <b>usual</b> place?</p>",
	}
}

func TestSend_Success(t *testing.T) {
	// Arrange
	env := newTestEnv(t)
	mb := &fixtures.SMTPMailbox{Username: "me@example.com", Password: "s3cret"}
	srv := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))
	account := env.createAccount(t, "", srv.Addr, "s3cret")

	// Act
	result, err := env.sendService().Send(testContext(t), account.ID, lunchRequest())

	// Assert
	require.NoError(t, err)
	assert.Regexp(t, sentMessageID, result.MessageID)
	assert.Equal(t, []string{"alice@example.org", "boss@example.org"}, result.Recipients)
	assert.NoError(t, result.PersistError)

	require.NotNil(t, result.Message)
	stored, err := env.messages.GetByID(context.Background(), account.ID, result.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, result.MessageID, stored.ExternalID)
	assert.Equal(t, models.DirectionSent, stored.Direction)
	assert.True(t, stored.IsRead)
	assert.Equal(t, "me@example.com", stored.FromAddress)
	assert.Equal(t, []string{"alice@example.org"}, stored.ToAddresses)
	assert.Equal(t, []string{"boss@example.org"}, stored.BccAddresses)
	assert.Equal(t, "Noon at the usual place?", stored.Snippet)

	threads := env.listThreads(t, account.ID)
	require.Len(t, threads, 1)
	assert.True(t, threads[0].IsRead)
	assert.Equal(t, []models.Participant{{Email: "me@example.com", Name: "Me Example"}}, threads[0].Participants)

	require.True(t, srv.WaitIdle(1, 3*time.Second))
	assert.Empty(t, srv.Errors())
	assert.Equal(t, "EHLO mail.test", srv.Lines()[0])
	require.Len(t, mb.Delivered(), 1)
	assert.Contains(t, mb.Delivered()[0], "Message-ID: "+result.MessageID+"\r\n")
	assert.NotContains(t, mb.Delivered()[0], "boss@example.org")
	assert.Contains(t, env.auditLog.String(), `"event_type":"send_completed"`)
}

func TestSend_RecipientRejectedWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	mb := &fixtures.SMTPMailbox{
		Username:   "me@example.com",
		Password:   "s3cret",
		RejectRcpt: []string{"alice@example.org"},
	}
	srv := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))
	account := env.createAccount(t, "", srv.Addr, "s3cret")

	result, err := env.sendService().Send(testContext(t), account.ID, lunchRequest())

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Contains(t, apperrors.GetMailError(err).Reply, "550")
	assert.Equal(t, int64(0), env.countMessages(t, account.ID))
	assert.Empty(t, env.listThreads(t, account.ID))

	require.True(t, srv.WaitIdle(1, 3*time.Second))
	assert.False(t, srv.HasLinePrefix("DATA"))
	assert.Empty(t, mb.Delivered())
}

func TestSend_AuthRejected(t *testing.T) {
	env := newTestEnv(t)
	mb := &fixtures.SMTPMailbox{Username: "me@example.com", Password: "right"}
	srv := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))
	account := env.createAccount(t, "", srv.Addr, "wrong")

	_, err := env.sendService().Send(testContext(t), account.ID, lunchRequest())

	assert.ErrorIs(t, err, apperrors.ErrAuth)
	assert.Equal(t, int64(0), env.countMessages(t, account.ID))
	audit := env.auditLog.String()
	assert.Contains(t, audit, `"event_type":"mail_auth_failure"`)
	assert.Contains(t, audit, `"protocol":"smtp"`)
	assert.NotContains(t, audit, "wrong")
}

func TestSend_InvalidRequestNeverDials(t *testing.T) {
	env := newTestEnv(t)
	srv := fixtures.NewMailServer(t, fixtures.SMTPScript(&fixtures.SMTPMailbox{}))
	account := env.createAccount(t, "", srv.Addr, "s3cret")

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"no recipients", SendRequest{Subject: "hi", HTML: "x"}},
		{"header injection", SendRequest{To: []string{"a@example.org"}, Subject: "hi\r\nBcc: z@example.org"}},
		{"bad address", SendRequest{To: []string{"not an address"}}},
		{"display name recipient", SendRequest{To: []string{"Alice <alice@example.org>"}}},
		{"display name bcc", SendRequest{To: []string{"a@example.org"}, Bcc: []string{"Bob <bob@example.org>"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sendService().Send(testContext(t), account.ID, tt.req)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, srv.Sessions())
}

func TestSend_ReplyJoinsThreadOnSync(t *testing.T) {
	env := newTestEnv(t)
	smtpSrv := fixtures.NewMailServer(t, fixtures.SMTPScript(&fixtures.SMTPMailbox{Username: "me@example.com", Password: "s3cret"}))
	imapSrv := fixtures.NewMailServer(t, fixtures.IMAPScript(fixtures.IMAPMailbox{Messages: []fixtures.IMAPMessage{{
		Seq:       1,
		From:      "Alice <alice@example.org>",
		To:        "me@example.com",
		Subject:   "RE: lunch?",
		Date:      time.Now().Add(time.Minute).UTC().Format(time.RFC1123Z),
		MessageID: "<reply-1@example.org>",
		Body:      "Sure, see you there\r\n",
	}}}))
	account := env.createAccount(t, imapSrv.Addr, smtpSrv.Addr, "s3cret")

	_, err := env.sendService().Send(testContext(t), account.ID, lunchRequest())
	require.NoError(t, err)
	_, err = env.syncService().Sync(testContext(t), account.ID)
	require.NoError(t, err)

	threads := env.listThreads(t, account.ID)
	require.Len(t, threads, 1)
	assert.Equal(t, "Lunch?", threads[0].Subject)
	assert.Equal(t, 2, threads[0].MessageCount)
	assert.False(t, threads[0].IsRead)
	assert.Equal(t, "Sure, see you there", threads[0].Snippet)
	assert.Len(t, threads[0].Participants, 2)
}

func TestSend_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sendService().Send(testContext(t), 42, lunchRequest())

	assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
}
