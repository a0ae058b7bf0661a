package infra

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPoolLimits(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/lessons")
	require.NoError(t, err)

	applyPoolLimits(poolCfg, DBConfig{MaxConns: 4, MinConns: 9, ApplicationName: "lessonforge"})

	assert.EqualValues(t, 4, poolCfg.MaxConns)
	assert.NotEqualValues(t, 9, poolCfg.MinConns)
	assert.Equal(t, "lessonforge", poolCfg.ConnConfig.RuntimeParams["application_name"])
}
