package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classifieds/internal/common/tracing"
)

func TestSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("none installs a no-op shutdown", func(t *testing.T) {
		shutdown, err := tracing.Setup(ctx, tracing.Config{ServiceName: "classifieds", Exporter: "none"})
		require.NoError(t, err)
		assert.NoError(t, shutdown(ctx))
	})

	t.Run("stdout", func(t *testing.T) {
		shutdown, err := tracing.Setup(ctx, tracing.Config{ServiceName: "classifieds", Exporter: "stdout"})
		require.NoError(t, err)
		assert.NoError(t, shutdown(ctx))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := tracing.Setup(ctx, tracing.Config{Exporter: "zipkin"})
		assert.ErrorIs(t, err, tracing.ErrUnknownExporter)
	})
}
