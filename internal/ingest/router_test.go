package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
)

func TestRoute_DispatchesToRegisteredHandler(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	var handled model.EventType
	router.Register(model.V1WebhookWhatsApp, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		handled = eventType
		return nil
	})

	err := router.Route(ctx, testMetadata("v1.webhook.whatsapp"), []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, model.V1WebhookWhatsApp, handled)
}

func TestRoute_PropagatesWorkspaceIntoContext(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	var seenWorkspace string
	router.Register(model.V1WebhookInstagram, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		seenWorkspace, _ = workspace.FromContext(ctx)
		return nil
	})

	err := router.Route(ctx, testMetadata("v1.webhook.instagram"), []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, "workspace-test-123", seenWorkspace)
}

func TestRoute_PropagatesHandlerError(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	handlerErr := fmt.Errorf("admission failed")
	router.Register(model.V1WebhookFacebook, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		return handlerErr
	})

	err := router.Route(ctx, testMetadata("v1.webhook.facebook"), []byte(`{}`))

	assert.ErrorIs(t, err, handlerErr)
}

func TestRoute_FallsBackToDefaultHandler(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	var defaultCalled bool
	router.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		defaultCalled = true
		return nil
	})

	err := router.Route(ctx, testMetadata("v1.webhook.leadads"), []byte(`{}`))

	require.NoError(t, err)
	assert.True(t, defaultCalled)
}

func TestRoute_UnknownSubjectWithoutHandlersIsDropped(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	err := router.Route(ctx, testMetadata("v2.unknown.subject"), []byte(`{}`))

	assert.NoError(t, err)
}

func TestRoute_WorkspaceSuffixedSubjectStillMaps(t *testing.T) {
	ctx := testContext(t)
	router := NewRouter()

	var handled bool
	router.Register(model.V1WebhookWhatsApp, func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		handled = true
		return nil
	})

	err := router.Route(ctx, testMetadata("v1.webhook.whatsapp.workspace-test-123"), []byte(`{}`))

	require.NoError(t, err)
	assert.True(t, handled)
}
