package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

func TestPostgresRepo_InsertInboundMessage(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	message := &model.Message{
		MessageID:         "msg-uuid-1",
		ConversationID:    testConversationID,
		ContactID:         testContactID,
		Channel:           model.ChannelWhatsApp,
		ProviderMessageID: "wamid.test.1",
		Text:              "hello",
		SentAt:            time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectQuery(`INSERT INTO "inbound_dedup"`).
		WithArgs(string(model.ChannelWhatsApp), "wamid.test.1", testWorkspaceID, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	err := repo.InsertInboundMessage(ctx, message)
	require.NoError(t, err)
	assert.Equal(t, model.MessageDirectionInbound, message.Direction)
	assert.Equal(t, int64(10), message.ID)
	assert.Equal(t, testWorkspaceID, message.WorkspaceID)
}

func TestPostgresRepo_InsertInboundMessage_DuplicateDelivery(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	message := &model.Message{
		MessageID:         "msg-uuid-2",
		ConversationID:    testConversationID,
		Channel:           model.ChannelWhatsApp,
		ProviderMessageID: "wamid.test.dup",
	}

	// The second delivery of the same webhook hits the dedup constraint and
	// the whole transaction rolls back, so no message row survives either.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`INSERT INTO "inbound_dedup"`).
		WillReturnError(uniqueViolation("uniq_inbound_dedup"))
	mock.ExpectRollback()

	err := repo.InsertInboundMessage(ctx, message)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestPostgresRepo_InsertInboundMessage_DuplicateInConversation(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	message := &model.Message{
		MessageID:         "msg-uuid-3",
		ConversationID:    testConversationID,
		Channel:           model.ChannelWhatsApp,
		ProviderMessageID: "wamid.test.dup2",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "messages"`).
		WillReturnError(uniqueViolation("uniq_messages_provider_msg"))
	mock.ExpectRollback()

	err := repo.InsertInboundMessage(ctx, message)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestPostgresRepo_FindMessageByID(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "direction", "message_text"}).
		AddRow(int64(10), testConversationID, model.MessageDirectionInbound, "hello")

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE id = \$1`).
		WithArgs(int64(10), 1).
		WillReturnRows(rows)

	message, err := repo.FindMessageByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello", message.Text)
	assert.Equal(t, model.MessageDirectionInbound, message.Direction)
}

func TestPostgresRepo_FindMessageByID_NotFound(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE id = \$1`).
		WithArgs(int64(404), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindMessageByID(ctx, 404)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresRepo_UpdateMessageDeliveryStatus(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	mock.ExpectExec(`UPDATE "messages" SET .* WHERE provider_message_id = \$3 AND direction = \$4`).
		WithArgs("delivered", AnyTime{}, "wamid.out.1", model.MessageDirectionOutbound).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateMessageDeliveryStatus(ctx, "wamid.out.1", "delivered")
	assert.NoError(t, err)
}

func TestPostgresRepo_UpdateMessageDeliveryStatus_UnknownMessage(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	mock.ExpectExec(`UPDATE "messages" SET .* WHERE provider_message_id = \$3 AND direction = \$4`).
		WithArgs("read", AnyTime{}, "wamid.unknown", model.MessageDirectionOutbound).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateMessageDeliveryStatus(ctx, "wamid.unknown", "read")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
