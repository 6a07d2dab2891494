// Package suiteimport converts external API description formats into the
// in-memory suite tree (spec §6 "suite-tree importers" — collaborators that
// feed the rsuite.Suite data model, same role as a YAML loader). Grounded
// on the teacher's pkg/core/tools/spec_ingester/{postman_parser,
// openapi_parser}.go, which walk the same two libraries
// (rbretecher/go-postman-collection, pb33f/libopenapi) to build a
// ParsedSpec of endpoints; this package builds an rsuite.Suite instead,
// one step per discovered endpoint, each asserting only that the response
// exists (spec §9: imported suites get a minimal default assertion set,
// since neither source format carries expected-response fixtures).
package suiteimport

import (
	"fmt"
	"strings"

	"github.com/pb33f/libopenapi"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
	postman "github.com/rbretecher/go-postman-collection"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// DetectFormat applies the teacher's simple content-sniffing heuristics to
// pick an importer without requiring the caller to know the file extension.
func DetectFormat(content []byte) string {
	s := string(content)
	switch {
	case strings.Contains(s, "_postman_id") || (strings.Contains(s, "\"info\"") && strings.Contains(s, "\"schema\"")):
		return "postman"
	case strings.Contains(s, "openapi") || strings.Contains(s, "swagger"):
		return "openapi"
	default:
		return ""
	}
}

// ImportPostman builds a Suite from a Postman Collection v2.1 document.
func ImportPostman(nodeID string, content []byte) (*rsuite.Suite, error) {
	collection, err := postman.ParseCollection(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("suiteimport: parsing postman collection: %w", err)
	}

	suite := &rsuite.Suite{NodeID: nodeID, Name: collection.Info.Name, Priority: rsuite.PriorityMedium}
	collectPostmanItems(collection.Items, suite)
	return suite, nil
}

func collectPostmanItems(items []*postman.Items, suite *rsuite.Suite) {
	for _, item := range items {
		if item.IsGroup() {
			collectPostmanItems(item.Items, suite)
			continue
		}
		req := item.Request
		if req == nil {
			continue
		}

		headers := make(map[string]string)
		for _, h := range req.Header {
			headers[h.Key] = h.Value
		}
		query := make(map[string]string)
		url := ""
		if req.URL != nil {
			url = req.URL.Raw
			for _, q := range req.URL.Query {
				query[q.Key] = q.Value
			}
		}
		body := rvalue.Undefined
		if req.Body != nil && req.Body.Raw != "" {
			if v, err := rvalue.ParseJSON([]byte(req.Body.Raw)); err == nil {
				body = v
			} else {
				body = rvalue.String(req.Body.Raw)
			}
		}

		stepID := fmt.Sprintf("step-%d", len(suite.Steps)+1)
		suite.Steps = append(suite.Steps, &rsuite.Step{
			StepID: stepID,
			Name:   item.Name,
			Action: rsuite.ActionRequest,
			Request: &rsuite.RequestSpec{
				Method:  string(req.Method),
				URL:     url,
				Headers: headers,
				Query:   query,
				Body:    body,
			},
			Assertions: []rsuite.Assertion{{FieldPath: "status_code", Strategy: "exists"}},
		})
	}
}

// ImportOpenAPI builds a Suite from an OpenAPI 3.x document, one step per
// path+method operation. baseURL is prefixed onto each templated path since
// OpenAPI paths are server-relative.
func ImportOpenAPI(nodeID, baseURL string, content []byte) (*rsuite.Suite, error) {
	document, err := libopenapi.NewDocument(content)
	if err != nil {
		return nil, fmt.Errorf("suiteimport: parsing openapi document: %w", err)
	}
	model, err := document.BuildV3Model()
	if err != nil {
		return nil, fmt.Errorf("suiteimport: building openapi v3 model: %w", err)
	}

	suite := &rsuite.Suite{NodeID: nodeID, Name: model.Model.Info.Title, Priority: rsuite.PriorityMedium}

	if model.Model.Paths == nil {
		return suite, nil
	}
	for pair := model.Model.Paths.PathItems.First(); pair != nil; pair = pair.Next() {
		path := pair.Key()
		item := pair.Value()

		ops := map[string]*v3.Operation{
			"GET": item.Get, "POST": item.Post, "PUT": item.Put,
			"DELETE": item.Delete, "PATCH": item.Patch,
		}
		for method, op := range ops {
			if op == nil {
				continue
			}
			stepID := fmt.Sprintf("step-%d", len(suite.Steps)+1)
			name := op.Summary
			if name == "" {
				name = method + " " + path
			}
			suite.Steps = append(suite.Steps, &rsuite.Step{
				StepID: stepID,
				Name:   name,
				Action: rsuite.ActionRequest,
				Request: &rsuite.RequestSpec{
					Method: method,
					URL:    baseURL + path,
				},
				Assertions: []rsuite.Assertion{{FieldPath: "status_code", Strategy: "exists"}},
			})
		}
	}
	return suite, nil
}
