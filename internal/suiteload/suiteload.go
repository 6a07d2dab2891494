// Package suiteload is the default textual suite format: one YAML document
// per suite, loaded recursively from a project directory (spec §6: "the
// parser is an external collaborator; the core only accepts an in-memory
// tree"). Grounded on the teacher's use of gopkg.in/yaml.v3 for its own
// on-disk memory/config documents (pkg/core/memory.go), adapted here to
// decode the suite/step shape instead.
package suiteload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// docAssertion/docScenario/docStep/docSuite mirror the YAML wire shape; a
// plain struct tree decoded once and converted to rsuite types, rather than
// implementing yaml.Unmarshaler directly on the domain types, keeps the
// domain model free of format concerns.
type docSuite struct {
	NodeID     string          `yaml:"node_id"`
	Name       string          `yaml:"name"`
	Priority   string          `yaml:"priority"`
	Variables  map[string]any  `yaml:"variables"`
	Exports    []string        `yaml:"exports"`
	Depends    []docDependency `yaml:"depends"`
	Steps      []docStep       `yaml:"steps"`
	Credential *docCredential  `yaml:"credential"`
}

type docCredential struct {
	Kind         string   `yaml:"kind"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	Token        string   `yaml:"token"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	HeaderName   string   `yaml:"header_name"`
}

type docDependency struct {
	NodeID   string `yaml:"node_id"`
	Required bool   `yaml:"required"`
	Guard    string `yaml:"guard"`
	Cache    bool   `yaml:"cache"`
}

type docStep struct {
	StepID     string            `yaml:"step_id"`
	Name       string            `yaml:"name"`
	Request    *docRequest       `yaml:"request"`
	Input      *docInput         `yaml:"input"`
	Call       *docCall          `yaml:"call"`
	Iterate    *docIterate       `yaml:"iterate"`
	Scenarios  []docScenario     `yaml:"scenarios"`
	Assertions []docAssertion    `yaml:"assertions"`
	Captures   map[string]string `yaml:"captures"`
	RetryMax   int               `yaml:"retry_max"`
	TimeoutMS  int               `yaml:"timeout_ms"`
}

type docRequest struct {
	Method    string            `yaml:"method"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Query     map[string]string `yaml:"query"`
	Body      any               `yaml:"body"`
	TimeoutMS int               `yaml:"timeout_ms"`
}

type docInput struct {
	Prompt  string `yaml:"prompt"`
	SaveAs  string `yaml:"save_as"`
	Default any    `yaml:"default"`
}

type docCall struct {
	SuitePath string         `yaml:"suite"`
	StepKey   string         `yaml:"step"`
	Variables map[string]any `yaml:"variables"`
	Isolate   *bool          `yaml:"isolate"`
	Alias     string         `yaml:"alias"`
	OnError   string         `yaml:"on_error"`
}

type docIterate struct {
	Over       string `yaml:"over"`
	As         string `yaml:"as"`
	Sequential *bool  `yaml:"sequential"`
}

type docScenario struct {
	When string    `yaml:"when"`
	Then *docBranch `yaml:"then"`
	Else *docBranch `yaml:"else"`
}

type docBranch struct {
	Assertions []docAssertion    `yaml:"assertions"`
	Captures   map[string]string `yaml:"captures"`
	Variables  map[string]any    `yaml:"variables"`
}

type docAssertion struct {
	Field    string `yaml:"field"`
	Strategy string `yaml:"strategy"`
	Value    any    `yaml:"value"`
}

// Load reads every *.yaml/*.yml file under dir (recursively) and returns
// the suites keyed by node_id.
func Load(dir string) (map[string]*rsuite.Suite, error) {
	suites := make(map[string]*rsuite.Suite)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		suite, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("suiteload: %s: %w", path, err)
		}
		if suite == nil {
			return nil
		}
		suites[suite.NodeID] = suite
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suites, nil
}

func loadFile(path string) (*rsuite.Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc docSuite
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.NodeID == "" {
		return nil, nil
	}
	return toSuite(path, &doc), nil
}

func toSuite(path string, doc *docSuite) *rsuite.Suite {
	suite := &rsuite.Suite{
		NodeID:    doc.NodeID,
		Name:      doc.Name,
		Path:      path,
		Priority:  rsuite.ParsePriority(doc.Priority),
		Variables: toValueMap(doc.Variables),
		Exports:   doc.Exports,
	}
	for _, dep := range doc.Depends {
		suite.Depends = append(suite.Depends, rsuite.DependencyEdge{
			NodeID: dep.NodeID, Required: dep.Required, Guard: dep.Guard, Cache: dep.Cache,
		})
	}
	if doc.Credential != nil {
		suite.Credential = &rsuite.CredentialSpec{
			Kind:         doc.Credential.Kind,
			TokenURL:     doc.Credential.TokenURL,
			ClientID:     doc.Credential.ClientID,
			ClientSecret: doc.Credential.ClientSecret,
			Scopes:       doc.Credential.Scopes,
			Token:        doc.Credential.Token,
			Username:     doc.Credential.Username,
			Password:     doc.Credential.Password,
			HeaderName:   doc.Credential.HeaderName,
		}
	}
	for _, s := range doc.Steps {
		suite.Steps = append(suite.Steps, toStep(&s))
	}
	return suite
}

func toStep(doc *docStep) *rsuite.Step {
	step := &rsuite.Step{
		StepID:     doc.StepID,
		Name:       doc.Name,
		Assertions: toAssertions(doc.Assertions),
		Captures:   doc.Captures,
		RetryMax:   doc.RetryMax,
		TimeoutMS:  doc.TimeoutMS,
	}
	if doc.Request != nil {
		step.Request = &rsuite.RequestSpec{
			Method:    doc.Request.Method,
			URL:       doc.Request.URL,
			Headers:   doc.Request.Headers,
			Query:     doc.Request.Query,
			Body:      rvalue.FromAny(doc.Request.Body),
			TimeoutMS: doc.Request.TimeoutMS,
		}
		step.Action = rsuite.ActionRequest
	}
	if doc.Input != nil {
		step.Input = &rsuite.InputSpec{Prompt: doc.Input.Prompt, SaveAs: doc.Input.SaveAs, Default: rvalue.FromAny(doc.Input.Default)}
		if step.Request == nil {
			step.Action = rsuite.ActionInput
		}
	}
	if doc.Call != nil {
		step.Call = &rsuite.CallSpec{
			SuitePath: doc.Call.SuitePath,
			StepKey:   doc.Call.StepKey,
			Variables: toValueMap(doc.Call.Variables),
			IsolateContext: doc.Call.Isolate,
			Alias:     doc.Call.Alias,
			OnError:   doc.Call.OnError,
		}
		step.Action = rsuite.ActionCall
	}
	if doc.Iterate != nil {
		sequential := true
		if doc.Iterate.Sequential != nil {
			sequential = *doc.Iterate.Sequential
		}
		step.Iterate = &rsuite.IterateSpec{Over: doc.Iterate.Over, AsVar: doc.Iterate.As, Sequential: sequential}
		step.Action = rsuite.ActionIterate
	}
	for _, sc := range doc.Scenarios {
		step.Scenarios = append(step.Scenarios, rsuite.Scenario{
			Condition: sc.When,
			Then:      toBranch(sc.Then),
			Else:      toBranch(sc.Else),
		})
	}
	if step.Request == nil && step.Call == nil && step.Iterate == nil && step.Input == nil && len(step.Scenarios) > 0 {
		step.Action = rsuite.ActionScenarioOnly
	}
	return step
}

func toBranch(doc *docBranch) *rsuite.Branch {
	if doc == nil {
		return nil
	}
	return &rsuite.Branch{
		Assertions: toAssertions(doc.Assertions),
		Captures:   doc.Captures,
		Variables:  toValueMap(doc.Variables),
	}
}

func toAssertions(docs []docAssertion) []rsuite.Assertion {
	out := make([]rsuite.Assertion, 0, len(docs))
	for _, a := range docs {
		out = append(out, rsuite.Assertion{FieldPath: a.Field, Strategy: a.Strategy, Params: rvalue.FromAny(a.Value)})
	}
	return out
}

func toValueMap(m map[string]any) map[string]rvalue.Value {
	if m == nil {
		return nil
	}
	out := make(map[string]rvalue.Value, len(m))
	for k, v := range m {
		out[k] = rvalue.FromAny(v)
	}
	return out
}
