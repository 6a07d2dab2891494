// Package transport implements the HTTP transport collaborator contract
// from spec §6: executeRequest(step_name, request) -> {status,
// request_details, response_details, duration_ms, error_message?}. The
// transport does not interpret variables — interpolation has already
// happened by the time a RequestSpec reaches here.
//
// The teacher's go.mod commits to github.com/valyala/fasthttp but never
// actually wires it into any tool (its HTTPTool type is referenced
// throughout pkg/core/tools but never defined in the retrieved snapshot).
// This is exactly the "many concurrent requests" workload fasthttp targets
// — a bounded-parallel suite scheduler issuing large numbers of short-lived
// requests — so falcon-runner is what finally gives that dependency a home.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// Transport executes HTTP requests on behalf of the request strategy (C5).
type Transport struct {
	client *fasthttp.Client
}

func New() *Transport {
	return &Transport{
		client: &fasthttp.Client{
			MaxConnsPerHost:     512,
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
}

// Result is what Execute returns: the response tree plus timing, matching
// the §6 transport contract.
type Result struct {
	Response   *rsuite.ResponseSpec
	DurationMS int64
	Err        error
}

// Execute issues one HTTP request. stepName is used only for diagnostics.
func (t *Transport) Execute(stepName string, req *rsuite.RequestSpec) Result {
	fastReq := fasthttp.AcquireRequest()
	fastResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(fastReq)
	defer fasthttp.ReleaseResponse(fastResp)

	url := req.URL
	if len(req.Query) > 0 {
		var sb strings.Builder
		sb.WriteString(url)
		if strings.Contains(url, "?") {
			sb.WriteByte('&')
		} else {
			sb.WriteByte('?')
		}
		first := true
		for k, v := range req.Query {
			if !first {
				sb.WriteByte('&')
			}
			first = false
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
		url = sb.String()
	}

	fastReq.SetRequestURI(url)
	fastReq.Header.SetMethod(methodOrDefault(req.Method))
	for k, v := range req.Headers {
		fastReq.Header.Set(k, v)
	}
	if !req.Body.IsUndefined() && !req.Body.IsNull() {
		fastReq.SetBody([]byte(req.Body.Stringify()))
		if fastReq.Header.ContentType() == nil || len(fastReq.Header.ContentType()) == 0 {
			fastReq.Header.SetContentType("application/json")
		}
	}

	client := t.client
	if req.Certificate != nil {
		client = t.clientWithCertificate(req.Certificate)
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()
	err := client.DoTimeout(fastReq, fastResp, timeout)
	duration := time.Since(start)

	if err != nil {
		return Result{DurationMS: duration.Milliseconds(), Err: fmt.Errorf("transport: %s %s: %w", req.Method, stepName, err)}
	}

	headers := make(map[string]string)
	fastResp.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})

	body := append([]byte(nil), fastResp.Body()...)
	respVal := parseResponseBody(body)

	return Result{
		Response: &rsuite.ResponseSpec{
			StatusCode: fastResp.StatusCode(),
			Headers:    headers,
			Body:       respVal,
			RawBody:    string(body),
			DurationMS: duration.Milliseconds(),
		},
		DurationMS: duration.Milliseconds(),
	}
}

func methodOrDefault(m string) string {
	if m == "" {
		return fasthttp.MethodGet
	}
	return m
}

func (t *Transport) clientWithCertificate(cert *rsuite.Certificate) *fasthttp.Client {
	tlsCfg := &tls.Config{InsecureSkipVerify: cert.InsecureSkipVerify}

	if cert.CertFile != "" && cert.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(cert.CertFile, cert.KeyFile)
		if err == nil {
			tlsCfg.Certificates = []tls.Certificate{pair}
		}
	}
	if cert.CAFile != "" {
		if pem, err := os.ReadFile(cert.CAFile); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				tlsCfg.RootCAs = pool
			}
		}
	}

	return &fasthttp.Client{TLSConfig: tlsCfg, MaxConnsPerHost: 64}
}

// parseResponseBody attempts a JSON decode; non-JSON bodies fall back to a
// plain string value so assertions/captures can still inspect raw text.
func parseResponseBody(body []byte) rvalue.Value {
	if len(body) == 0 {
		return rvalue.Null
	}
	if v, err := rvalue.ParseJSON(body); err == nil {
		return v
	}
	return rvalue.String(string(body))
}
