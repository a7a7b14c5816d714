package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindInvalidCredentials: http.StatusUnauthorized,
		KindRateLimited:        http.StatusTooManyRequests,
		KindInvalidInput:       http.StatusBadRequest,
		KindAllProvidersFailed: http.StatusServiceUnavailable,
		KindNotFound:           http.StatusNotFound,
	}
	for kind, status := range cases {
		assert.Equal(t, status, New(kind, "x").HTTPStatus())
	}
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindStorageError, "save failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(err))
}

func TestAsExtractsServiceError(t *testing.T) {
	err := fmtWrap(NotFound("container", "abc"))
	svcErr := As(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, KindNotFound, svcErr.Kind)
}

func TestTransientKinds(t *testing.T) {
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindCircuitOpen.Transient())
	assert.False(t, KindInvalidCredentials.Transient())
}

func fmtWrap(err error) error {
	return errors.Join(err)
}
