package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInit_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	Init("test", "prod", "warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Init("test", "dev", "nonsense")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	Init("test", "prod", "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
