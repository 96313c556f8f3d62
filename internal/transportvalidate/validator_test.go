package transportvalidate

import (
	"testing"

	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpPushConnection(targetAddress string) *model.Connection {
	return &model.Connection{
		ID:   "conn-1",
		Type: model.HTTPPush,
		Targets: []model.Target{
			{Address: targetAddress},
		},
	}
}

func TestValidate_HTTPPushValidTarget(t *testing.T) {
	conn := httpPushConnection("PATCH:/x/{{thing:namespace}}/{{thing:name}}")
	assert.NoError(t, Validate(conn))
}

func TestValidate_HTTPPushRejectsDelete(t *testing.T) {
	conn := httpPushConnection("DELETE:/x")
	err := Validate(conn)
	require.Error(t, err)
	assert.True(t, ditterr.Is(err, ditterr.KindConnectionConfigurationInvalid))
}

func TestValidate_HTTPPushRejectsEmptyAddress(t *testing.T) {
	conn := httpPushConnection("")
	err := Validate(conn)
	require.Error(t, err)
	assert.True(t, ditterr.Is(err, ditterr.KindConnectionConfigurationInvalid))
}

func TestValidate_HTTPPushRejectsSources(t *testing.T) {
	conn := httpPushConnection("GET:/x")
	conn.Sources = []model.Source{{Address: "some-source"}}
	err := Validate(conn)
	require.Error(t, err)
	assert.True(t, ditterr.Is(err, ditterr.KindConnectionConfigurationInvalid))
}

func TestValidate_NonHTTPPushAllowsSources(t *testing.T) {
	conn := &model.Connection{
		ID:      "conn-2",
		Type:    model.Kafka,
		Sources: []model.Source{{Address: "broker:9092"}},
	}
	assert.NoError(t, Validate(conn))
}
