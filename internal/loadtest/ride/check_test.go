package ride

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_DefaultChecks(t *testing.T) {
	tests := []struct {
		name       string
		resp       Response
		wantPassed bool
		wantStatus bool
		wantRideID bool
	}{
		{
			name:       "200 with ride_id",
			resp:       Response{StatusCode: 200, Body: []byte(`{"ride_id": 42}`)},
			wantPassed: true,
			wantStatus: true,
			wantRideID: true,
		},
		{
			name:       "500 with ride_id in body",
			resp:       Response{StatusCode: 500, Body: []byte(`{"ride_id": 42}`)},
			wantRideID: true,
		},
		{
			name:       "500 with error body",
			resp:       Response{StatusCode: 500, Body: []byte(`{"detail":"boom"}`)},
		},
		{
			name:       "200 with non-JSON body",
			resp:       Response{StatusCode: 200, Body: []byte(`not json`)},
			wantStatus: true,
		},
		{
			name:       "200 without ride_id",
			resp:       Response{StatusCode: 200, Body: []byte(`{"status":"ok"}`)},
			wantStatus: true,
		},
		{
			name:       "200 with null ride_id",
			resp:       Response{StatusCode: 200, Body: []byte(`{"ride_id": null}`)},
			wantPassed: true,
			wantStatus: true,
			wantRideID: true,
		},
		{
			name:       "200 with JSON array",
			resp:       Response{StatusCode: 200, Body: []byte(`[{"ride_id": 1}]`)},
			wantStatus: true,
		},
		{
			name:       "200 with empty body",
			resp:       Response{StatusCode: 200},
			wantStatus: true,
		},
		{
			name: "transport error",
			resp: Response{Err: errors.New("connection refused")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate(&tt.resp, DefaultChecks())
			require.Len(t, results, 2)

			assert.Equal(t, CheckStatusOK, results[0].Name)
			assert.Equal(t, tt.wantStatus, results[0].Passed)
			assert.Equal(t, CheckHasRideID, results[1].Name)
			assert.Equal(t, tt.wantRideID, results[1].Passed)
			assert.Equal(t, tt.wantPassed, Passed(results))

			for _, r := range results {
				if !r.Passed {
					assert.NotEmpty(t, r.Reason)
				}
			}
		})
	}
}

func TestMatchesSchema(t *testing.T) {
	check, err := MatchesSchema(`{
		"type": "object",
		"required": ["ride_id", "status"],
		"properties": {
			"ride_id": {"type": "integer"},
			"status": {"const": "started"}
		}
	}`)
	require.NoError(t, err)
	assert.Equal(t, CheckMatchesSchema, check.Name)

	ok, reason := check.Fn(&Response{StatusCode: 200, Body: []byte(`{"ride_id": 7, "status": "started"}`)})
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason = check.Fn(&Response{StatusCode: 200, Body: []byte(`{"ride_id": "7", "status": "started"}`)})
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	ok, _ = check.Fn(&Response{StatusCode: 200, Body: []byte(`nope`)})
	assert.False(t, ok)
}

func TestMatchesSchema_InvalidSchema(t *testing.T) {
	_, err := MatchesSchema(`{"type": `)
	assert.Error(t, err)
}
