package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")

	err := Classify(ErrTransport, cause)

	assert.True(t, IsTransport(err))
	assert.False(t, IsAuthentication(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "transport error: dial tcp: connection refused", err.Error())
}

func TestClassify_NilCause(t *testing.T) {
	assert.NoError(t, Classify(ErrAuthentication, nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	err := Classify(ErrAuthentication, stderrors.New("bad password"))

	assert.Same(t, err, Classify(ErrAuthentication, err))
}
