package ride

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Check names as they appear in the summary.
const (
	CheckStatusOK      = "status is 200"
	CheckHasRideID     = "response has ride_id"
	CheckMatchesSchema = "response matches schema"
)

// Response is what a virtual user observed for one POST /ride/start.
// Err is set when no HTTP response was received at all.
type Response struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Check is a named boolean assertion against a single response.
// The returned string explains a failure and is empty on success.
type Check struct {
	Name string
	Fn   func(resp *Response) (bool, string)
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name   string
	Passed bool
	Reason string
}

// DefaultChecks returns the two checks every ride-start response must pass.
func DefaultChecks() []Check {
	return []Check{StatusOK(), HasRideID()}
}

// StatusOK passes when the response status is exactly 200.
func StatusOK() Check {
	return Check{
		Name: CheckStatusOK,
		Fn: func(resp *Response) (bool, string) {
			if resp.StatusCode != http.StatusOK {
				return false, fmt.Sprintf("status %d", resp.StatusCode)
			}
			return true, ""
		},
	}
}

// HasRideID passes when the body is a JSON object with a ride_id key.
// A null ride_id still counts as present.
func HasRideID() Check {
	return Check{
		Name: CheckHasRideID,
		Fn: func(resp *Response) (bool, string) {
			if !gjson.ValidBytes(resp.Body) {
				return false, "invalid JSON body"
			}
			body := gjson.ParseBytes(resp.Body)
			if !body.IsObject() {
				return false, "body is not a JSON object"
			}
			if !body.Get("ride_id").Exists() {
				return false, "missing ride_id"
			}
			return true, ""
		},
	}
}

// MatchesSchema compiles a JSON Schema document and returns a check that
// validates response bodies against it.
func MatchesSchema(schema string) (Check, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(schema)); err != nil {
		return Check{}, fmt.Errorf("invalid response schema: %w", err)
	}
	compiled, err := compiler.Compile("response.json")
	if err != nil {
		return Check{}, fmt.Errorf("invalid response schema: %w", err)
	}

	return Check{
		Name: CheckMatchesSchema,
		Fn: func(resp *Response) (bool, string) {
			var doc interface{}
			if err := json.Unmarshal(resp.Body, &doc); err != nil {
				return false, "invalid JSON body"
			}
			if err := compiled.Validate(doc); err != nil {
				return false, err.Error()
			}
			return true, ""
		},
	}, nil
}

// Evaluate runs every check against resp. A transport error fails all of them.
func Evaluate(resp *Response, checks []Check) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		if resp.Err != nil {
			results = append(results, CheckResult{Name: c.Name, Reason: resp.Err.Error()})
			continue
		}
		ok, reason := c.Fn(resp)
		results = append(results, CheckResult{Name: c.Name, Passed: ok, Reason: reason})
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
