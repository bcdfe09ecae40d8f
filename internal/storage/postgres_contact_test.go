package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shire602-cyber/alainbcenter-crm-sub009/internal/apperrors"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
)

func TestPostgresRepo_SaveContact(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	contact := &model.Contact{
		ID:      testContactID,
		Phone:   "+971501234567",
		Channel: model.ChannelWhatsApp,
		Name:    "Ayesha",
	}

	mock.ExpectExec(`INSERT INTO "contacts" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveContact(ctx, contact)
	require.NoError(t, err)
	assert.Equal(t, testWorkspaceID, contact.WorkspaceID)
}

func TestPostgresRepo_SaveContact_DuplicatePhone(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	contact := &model.Contact{
		ID:    "contact-other",
		Phone: "+971501234567",
	}

	mock.ExpectExec(`INSERT INTO "contacts"`).
		WillReturnError(uniqueViolation("uniq_contacts_phone"))

	err := repo.SaveContact(ctx, contact)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestPostgresRepo_FindContactByPhone_SkipsTombstones(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	rows := sqlmock.NewRows([]string{"id", "phone", "name", "merged_into_id"}).
		AddRow(testContactID, "+971501234567", "Ayesha", "")

	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE phone = \$1 AND merged_into_id = ''`).
		WithArgs("+971501234567", 1).
		WillReturnRows(rows)

	contact, err := repo.FindContactByPhone(ctx, "+971501234567")
	require.NoError(t, err)
	assert.Equal(t, testContactID, contact.ID)
}

func TestPostgresRepo_FindContactByProviderUserID(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	rows := sqlmock.NewRows([]string{"id", "provider_user_id", "channel"}).
		AddRow(testContactID, "ig-user-99", "instagram")

	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE channel = \$1 AND provider_user_id = \$2 AND merged_into_id = ''`).
		WithArgs("instagram", "ig-user-99", 1).
		WillReturnRows(rows)

	contact, err := repo.FindContactByProviderUserID(ctx, model.ChannelInstagram, "ig-user-99")
	require.NoError(t, err)
	assert.Equal(t, testContactID, contact.ID)
}

func TestPostgresRepo_MergeContacts_SelfMerge(t *testing.T) {
	repo, _, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	err := repo.MergeContacts(ctx, testContactID, testContactID)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPostgresRepo_MergeContacts(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	canonicalRows := sqlmock.NewRows([]string{"id", "phone", "provider_user_id"}).
		AddRow("contact-canonical", "+971501234567", "")
	duplicateRows := sqlmock.NewRows([]string{"id", "phone", "provider_user_id", "channel"}).
		AddRow("contact-duplicate", "", "ig-user-99", "instagram")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE id = \$1`).
		WithArgs("contact-canonical", 1).
		WillReturnRows(canonicalRows)
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE id = \$1`).
		WithArgs("contact-duplicate", 1).
		WillReturnRows(duplicateRows)
	// The duplicate's only conversation has no canonical counterpart on
	// its channel, so it moves over wholesale.
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE contact_id = \$1`).
		WithArgs("contact-duplicate").
		WillReturnRows(sqlmock.NewRows([]string{"id", "contact_id", "channel"}).
			AddRow("conv-dup", "contact-duplicate", "instagram"))
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE contact_id = \$1 AND channel = \$2`).
		WithArgs("contact-canonical", "instagram", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`UPDATE "conversations" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", AnyTime{}, "conv-dup").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "leads" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "messages" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`UPDATE "followup_tasks" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "contacts" SET "merged_into_id"=\$1`).
		WithArgs("contact-canonical", AnyTime{}, "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The canonical contact gains the provider identity it was missing.
	mock.ExpectExec(`UPDATE "contacts" SET .* WHERE id = \$4`).
		WithArgs("instagram", "ig-user-99", AnyTime{}, "contact-canonical").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MergeContacts(ctx, "contact-canonical", "contact-duplicate")
	assert.NoError(t, err)
}

func TestPostgresRepo_MergeContacts_CollidingConversation(t *testing.T) {
	repo, mock, teardown := newTestRepoWithMatcher(t, sqlmock.QueryMatcherRegexp)
	t.Cleanup(teardown)
	ctx := contextWithTestWorkspace()

	canonicalRows := sqlmock.NewRows([]string{"id", "phone", "provider_user_id"}).
		AddRow("contact-canonical", "+971501234567", "ig-user-1")
	duplicateRows := sqlmock.NewRows([]string{"id", "phone", "provider_user_id", "channel"}).
		AddRow("contact-duplicate", "+971501234567", "", "whatsapp")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE id = \$1`).
		WithArgs("contact-canonical", 1).
		WillReturnRows(canonicalRows)
	mock.ExpectQuery(`SELECT \* FROM "contacts" WHERE id = \$1`).
		WithArgs("contact-duplicate", 1).
		WillReturnRows(duplicateRows)
	// Both contacts hold a WhatsApp conversation: re-pointing would hit
	// the (contact_id, channel) uniqueness, so the duplicate's rows are
	// folded into the surviving conversation instead.
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE contact_id = \$1`).
		WithArgs("contact-duplicate").
		WillReturnRows(sqlmock.NewRows([]string{"id", "contact_id", "channel"}).
			AddRow("conv-dup", "contact-duplicate", "whatsapp"))
	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE contact_id = \$1 AND channel = \$2`).
		WithArgs("contact-canonical", "whatsapp", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "contact_id", "channel"}).
			AddRow("conv-keep", "contact-canonical", "whatsapp"))
	mock.ExpectExec(`UPDATE "messages" SET "conversation_id"=\$1`).
		WithArgs("conv-keep", "conv-dup").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`UPDATE "outbound_jobs" SET "conversation_id"=\$1`).
		WithArgs("conv-keep", "conv-dup").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "conversations" SET "is_deleted"=\$1`).
		WithArgs(true, AnyTime{}, "conv-dup").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "leads" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "messages" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`UPDATE "followup_tasks" SET "contact_id"=\$1`).
		WithArgs("contact-canonical", "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "contacts" SET "merged_into_id"=\$1`).
		WithArgs("contact-canonical", AnyTime{}, "contact-duplicate").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MergeContacts(ctx, "contact-canonical", "contact-duplicate")
	assert.NoError(t, err)
}
