package openapitools

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	srv := newAPIServer(t)
	conv, err := NewConverter(nil, WithHTTPClient(srv.Client()), WithMetrics(metrics)).
		Convert(context.Background(), encode(petstore(srv.URL)), SourceBase64)
	require.NoError(t, err)
	list, create := conv.Tools[0], conv.Tools[1]

	_, err = list.Invoke(context.Background(), nil)
	require.NoError(t, err)

	srv.respond(http.StatusBadGateway, `{}`)
	_, err = list.Invoke(context.Background(), nil)
	require.Error(t, err)

	srv.respond(http.StatusOK, `not json`)
	_, err = list.Invoke(context.Background(), nil)
	require.Error(t, err)

	_, err = create.Invoke(context.Background(), map[string]interface{}{})
	require.ErrorIs(t, err, ErrInvalidArguments)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("listPets", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("listPets", OutcomeHTTPError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("listPets", OutcomeDecodeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocations.WithLabelValues("createPet", OutcomeInvalidArguments)))

	expected := `
# HELP openapitools_invocations_total Total number of tool invocations
# TYPE openapitools_invocations_total counter
openapitools_invocations_total{outcome="decode_error",tool="listPets"} 1
openapitools_invocations_total{outcome="http_error",tool="listPets"} 1
openapitools_invocations_total{outcome="invalid_arguments",tool="createPet"} 1
openapitools_invocations_total{outcome="success",tool="listPets"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "openapitools_invocations_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.duration))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe("tool", OutcomeSuccess, 0) })
}
