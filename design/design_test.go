package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/goa/v3/eval"
	"goa.design/goa/v3/expr"
)

func TestDesignEvaluates(t *testing.T) {
	require.NoError(t, eval.RunDSL())

	assert.Equal(t, "blurcast", expr.Root.API.Name)

	setBlur := expr.Root.Service("system").Method("set_blur")
	require.NotNil(t, setBlur)
	obj := expr.AsObject(setBlur.Payload.Type)
	require.NotNil(t, obj)
	assert.NotNil(t, obj.Attribute("enabled"))
	assert.True(t, setBlur.Payload.IsRequired("enabled"))

	readyz := expr.Root.Service("health").Method("readyz")
	require.NotNil(t, readyz)
	require.Len(t, readyz.Errors, 1)
	assert.Equal(t, "not_ready", readyz.Errors[0].Name)

	endpoint := expr.Root.API.HTTP.Service("system").Endpoint("set_blur")
	require.NotNil(t, endpoint)
	require.Len(t, endpoint.Routes, 1)
	assert.Equal(t, "PUT", endpoint.Routes[0].Method)
	assert.Equal(t, "/api/system/blur", endpoint.Routes[0].Path)
}
