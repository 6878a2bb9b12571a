package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublic(t *testing.T) {
	msg, code, errs := Public(Validation("Validation failed: data.content: is required", "data.content: is required"))
	assert.Equal(t, "Validation failed: data.content: is required", msg)
	assert.Equal(t, "VALIDATION_ERROR", code)
	assert.Equal(t, []string{"data.content: is required"}, errs)

	msg, code, _ = Public(NotFound("Device not found"))
	assert.Equal(t, "Device not found", msg)
	assert.Equal(t, "NOT_FOUND", code)

	// 内部错误不泄露细节
	msg, code, _ = Public(Internal("redis hset failed", errors.New("dial tcp 10.0.0.1:6379: refused")))
	assert.Equal(t, InternalMessage, msg)
	assert.Equal(t, "INTERNAL_ERROR", code)

	msg, _, _ = Public(Configuration("Handler for message type 'chat' already registered"))
	assert.Equal(t, InternalMessage, msg)

	msg, code, _ = Public(errors.New("boom"))
	assert.Equal(t, InternalMessage, msg)
	assert.Equal(t, "INTERNAL_ERROR", code)

	// 包装后仍可识别
	wrapped := fmt.Errorf("handle: %w", Validation("bad"))
	msg, _, _ = Public(wrapped)
	assert.Equal(t, "bad", msg)
	assert.True(t, IsKind(wrapped, KindValidation))
	assert.False(t, IsKind(wrapped, KindNotFound))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("x").HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NotFound("x").HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Connection("x", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Configuration("x").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, MessageHandling("x", nil).HTTPStatus())
}

func TestUnwrap(t *testing.T) {
	root := errors.New("root")
	err := Internal("wrap", root)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "wrap: root", err.Error())
}
