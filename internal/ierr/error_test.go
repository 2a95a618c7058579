package ierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("load user: %w", New(ErrorCodeUnavailable, cause))

	assert.Equal(t, ErrorCodeUnavailable, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorCodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "Unavailable: connection refused", New(ErrorCodeUnavailable, cause).Error())
}
