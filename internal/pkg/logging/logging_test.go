package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"coinflip-game/internal/config"
)

func TestSetup_Level(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	Setup(config.LogConfig{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup(config.LogConfig{Level: "nonsense", Pretty: true})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
