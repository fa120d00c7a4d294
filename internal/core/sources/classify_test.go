package sources

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

func TestClassify_StatusCodeRules(t *testing.T) {
	assert.Equal(t, quote.ErrorKindRateLimit, Classify(&httpError{status: 429}))
	assert.Equal(t, quote.ErrorKindNotFound, Classify(&httpError{status: 404}))
	assert.Equal(t, quote.ErrorKindNetwork, Classify(&httpError{status: 503}))
}

func TestClassify_MessageSubstringRules(t *testing.T) {
	assert.Equal(t, quote.ErrorKindTimeout, Classify(errors.New("context deadline exceeded: timeout")))
	assert.Equal(t, quote.ErrorKindNetwork, Classify(errors.New("dial tcp: connection reset (ECONNRESET)")))
	assert.Equal(t, quote.ErrorKindValidation, Classify(errors.New("failed to decode response body")))
	assert.Equal(t, quote.ErrorKindOther, Classify(errors.New("something unexpected")))
}

func TestClassify_NilIsEmpty(t *testing.T) {
	assert.Equal(t, quote.ErrorKind(""), Classify(nil))
}
