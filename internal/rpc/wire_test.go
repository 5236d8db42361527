package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestRejectsWrongVersion(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"list"}`))
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, err.(*wireErr).code)
}

func TestParseRequestRejectsMissingID(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"list"}`))
	require.Error(t, err)
}

func TestParseRequestRejectsMissingMethod(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)
}

func TestParseRequestRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"list","bogus":true}`))
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, err.(*wireErr).code)
}

func TestParseRequestRejectsOversizedMessage(t *testing.T) {
	huge := make([]byte, MaxMessageSize+1)
	for i := range huge {
		huge[i] = 'x'
	}
	_, err := ParseRequest(huge)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, err.(*wireErr).code)
}

func TestParseRequestAcceptsOmittedParams(t *testing.T) {
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"list"}`))
	require.NoError(t, err)
	assert.Equal(t, "list", req.Method)
	assert.Nil(t, req.Params)
}

// TestRoundTripEveryMethod covers property 4: serialize(parse(msg)) == msg
// up to key ordering, for one request exercising every defined method.
func TestRoundTripEveryMethod(t *testing.T) {
	fixtures := []string{
		`{"jsonrpc":"2.0","id":1,"method":"list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"load","params":{"path":"/etc/jobd/a.json"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"unload","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"enable","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":5,"method":"disable","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"start","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":7,"method":"stop","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":8,"method":"restart","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":9,"method":"clear","params":{"label":"a"}}`,
		`{"jsonrpc":"2.0","id":10,"method":"runMethod","params":{"label":"a","method":"reload"}}`,
	}

	for _, fixture := range fixtures {
		req, err := ParseRequest([]byte(fixture))
		require.NoError(t, err, fixture)

		out := struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params,omitempty"`
		}{JSONRPC: req.JSONRPC, ID: req.ID, Method: req.Method, Params: req.Params}

		b, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, fixture, string(b))
	}
}

func TestSuccessAndFailureEnvelopes(t *testing.T) {
	id := json.RawMessage(`7`)

	resp := Success(id, map[string]int{"x": 1})
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{"x":1}}`, string(b))

	errResp := Failure(id, CodeInvalidRequest, "boom")
	b, err = json.Marshal(errResp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"error":{"code":-32600,"message":"boom"}}`, string(b))
}
