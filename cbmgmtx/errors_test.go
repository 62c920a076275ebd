package cbmgmtx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForInvalidArg(t *testing.T) {
	t.Run("single field", func(t *testing.T) {
		body := `{"errors":{"ramQuota":"RAM quota cannot be less than 100 MiB"},
			"summaries":{"ramSummary":{"total":3028287488,"free":2923429888}}}`
		sErr := parseForInvalidArg(body)
		assert.Equal(t, "ramQuota", sErr.Argument)
		assert.Equal(t, "RAM quota cannot be less than 100 MiB", sErr.Reason)
	})

	t.Run("multiple fields picks one", func(t *testing.T) {
		body := `{"errors":{"name":"Bucket name cannot be empty","ramQuota":"too small"}}`
		sErr := parseForInvalidArg(body)
		switch sErr.Argument {
		case "name":
			assert.Equal(t, "Bucket name cannot be empty", sErr.Reason)
		case "ramQuota":
			assert.Equal(t, "too small", sErr.Reason)
		default:
			t.Fatalf("unexpected argument %q", sErr.Argument)
		}
	})

	t.Run("reason containing commas and quotes", func(t *testing.T) {
		body := `{"errors":{"evictionPolicy":"must be one of \"valueOnly\", \"fullEviction\""}}`
		sErr := parseForInvalidArg(body)
		assert.Equal(t, "evictionPolicy", sErr.Argument)
		assert.Equal(t, `must be one of "valueOnly", "fullEviction"`, sErr.Reason)
	})

	t.Run("unparsable body falls back to raw text", func(t *testing.T) {
		body := `Unexpected server error, request logged.`
		sErr := parseForInvalidArg(body)
		assert.Empty(t, sErr.Argument)
		assert.Equal(t, body, sErr.Reason)
	})

	t.Run("empty errors map falls back to raw text", func(t *testing.T) {
		body := `{"errors":{}}`
		sErr := parseForInvalidArg(body)
		assert.Empty(t, sErr.Argument)
		assert.Equal(t, body, sErr.Reason)
	})
}

func TestDecodeCommonErrorBody(t *testing.T) {
	h := Management{}

	cases := []struct {
		name       string
		statusCode int
		body       string
		expectErr  error
	}{
		{"unauthorized", 401, "", ErrAccessDenied},
		{"forbidden", 403, "Forbidden. User needs the following permissions", ErrAccessDenied},
		{"uninitialized pool", 404, `"unknown pool"`, ErrPoolNotInitialized},
		{"missing endpoint", 404, "Object Not Found", ErrUnsupportedFeature},
		{"already initialized", 400, "Cluster is already initialized.", ErrAlreadyInitialized},
		{"already provisioned", 400, "Node is already provisioned", ErrAlreadyInitialized},
		{"field errors", 400, `{"errors":{"hostname":"Unable to resolve"}}`, ErrServerInvalidArg},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.decodeCommonErrorBody(tc.statusCode, []byte(tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expectErr)

			var serverErr ServerError
			require.ErrorAs(t, err, &serverErr)
			assert.Equal(t, tc.statusCode, serverErr.HttpStatusCode())
			assert.Equal(t, tc.body, string(serverErr.Body))
		})
	}

	t.Run("unclassified status", func(t *testing.T) {
		err := h.decodeCommonErrorBody(500, []byte("internal error"))
		require.Error(t, err)

		var serverErr ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, 500, serverErr.HttpStatusCode())
		assert.Contains(t, serverErr.Error(), "internal error")
	})
}

func TestServerErrorUnwrapsToSentinel(t *testing.T) {
	err := ServerError{
		Cause:      ErrBucketNotFound,
		StatusCode: 404,
		Body:       []byte("Requested resource not found."),
	}

	assert.True(t, errors.Is(err, ErrBucketNotFound))
	assert.Contains(t, err.Error(), "status: 404")
	assert.Contains(t, err.Error(), "Requested resource not found.")
}
