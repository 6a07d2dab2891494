package suiteimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postmanDoc = `{
  "info": {
    "_postman_id": "11111111-1111-1111-1111-111111111111",
    "name": "Widgets API",
    "schema": "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"
  },
  "item": [
    {
      "name": "List widgets",
      "request": {
        "method": "GET",
        "header": [{"key": "Accept", "value": "application/json"}],
        "url": {
          "raw": "https://api.example.test/widgets?limit=10",
          "query": [{"key": "limit", "value": "10"}]
        }
      }
    },
    {
      "name": "Create widget",
      "request": {
        "method": "POST",
        "url": {"raw": "https://api.example.test/widgets"},
        "body": {"mode": "raw", "raw": "{\"name\":\"gear\"}"}
      }
    }
  ]
}`

const openapiDoc = `
openapi: 3.0.0
info:
  title: Widgets API
  version: "1.0"
paths:
  /widgets:
    get:
      summary: List widgets
      responses:
        "200":
          description: ok
    post:
      responses:
        "201":
          description: created
`

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "postman", DetectFormat([]byte(postmanDoc)))
	assert.Equal(t, "openapi", DetectFormat([]byte(openapiDoc)))
	assert.Equal(t, "", DetectFormat([]byte(`{"foo":"bar"}`)))
}

func TestImportPostmanBuildsOneStepPerRequest(t *testing.T) {
	suite, err := ImportPostman("widgets", []byte(postmanDoc))
	require.NoError(t, err)
	assert.Equal(t, "Widgets API", suite.Name)
	require.Len(t, suite.Steps, 2)

	list := suite.Steps[0]
	assert.Equal(t, "GET", list.Request.Method)
	assert.Equal(t, "application/json", list.Request.Headers["Accept"])
	assert.Equal(t, "10", list.Request.Query["limit"])
	require.Len(t, list.Assertions, 1)
	assert.Equal(t, "exists", list.Assertions[0].Strategy)

	create := suite.Steps[1]
	assert.Equal(t, "POST", create.Request.Method)
	name := create.Request.Body.Field("name")
	s, ok := name.String()
	require.True(t, ok)
	assert.Equal(t, "gear", s)
}

func TestImportOpenAPIBuildsOneStepPerOperation(t *testing.T) {
	suite, err := ImportOpenAPI("widgets", "https://api.example.test", []byte(openapiDoc))
	require.NoError(t, err)
	assert.Equal(t, "Widgets API", suite.Name)
	require.Len(t, suite.Steps, 2)

	var methods []string
	for _, s := range suite.Steps {
		methods = append(methods, s.Request.Method)
		assert.Equal(t, "https://api.example.test/widgets", s.Request.URL)
	}
	assert.ElementsMatch(t, []string{"GET", "POST"}, methods)
}
