package bot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jakehlee/valorie/internal/config"
)

func TestNew_BackgroundTasksReadyBeforeStart(t *testing.T) {
	cfg := &config.Config{
		DiscordToken:      "offline-token",
		DatabasePath:      filepath.Join(t.TempDir(), "bot.db"),
		HTTPTimeout:       5 * time.Second,
		PollInterval:      time.Minute,
		SchedulerInterval: time.Minute,
		DefaultLeadTime:   15 * time.Minute,
	}

	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Stop() })

	// Global slash commands survive restarts, so interactions can fire
	// as soon as the gateway opens; everything the handlers touch must
	// exist before Start is ever called
	require.NotNil(t, b.poller)
	require.NotNil(t, b.scheduler)
	require.NotNil(t, b.repo)
}
