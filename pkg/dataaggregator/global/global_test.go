package global

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/clawbotneo/nl-verkeer/pkg/config"
	"github.com/clawbotneo/nl-verkeer/pkg/dataaggregator"
	"github.com/clawbotneo/nl-verkeer/pkg/redis_client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceNames(a *dataaggregator.Aggregator) []string {
	var names []string
	for _, source := range a.Sources {
		names = append(names, source.GetName())
	}
	return names
}

func TestSetupModes(t *testing.T) {
	cfg := config.Default()

	pipeline, err := Setup(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ndw"}, sourceNames(pipeline.Aggregator))
	assert.Nil(t, pipeline.Enricher)
	assert.Nil(t, pipeline.Aggregator.Enricher)
	assert.Same(t, pipeline.Aggregator, dataaggregator.GlobalAggregator)

	cfg.Mode = string(dataaggregator.ModeScrapePreferred)
	cfg.Enrichment.BearerToken = "token"

	pipeline, err = Setup(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"anwb", "ndw"}, sourceNames(pipeline.Aggregator))
	require.NotNil(t, pipeline.Enricher)
	assert.Equal(t, 8, pipeline.Enricher.Concurrency)
}

func TestSetupRejectsUnknownMode(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "fastest"

	_, err := Setup(cfg)
	assert.Error(t, err)
}

func TestSetupWithRedis(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Address = server.Addr()

	pipeline, err := Setup(cfg)
	require.NoError(t, err)
	assert.NotNil(t, pipeline.Aggregator.Persister)

	redis_client.Client.Close()
	redis_client.Client = nil
}
