package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with cause",
			err:  NewError(ErrInvalidToken, "bad token", errors.New("parse failed")),
			want: "invalid_token: bad token: parse failed",
		},
		{
			name: "without cause",
			err:  NewError(ErrForbidden, "not allowed", nil),
			want: "forbidden: not allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := NewInternalError("something broke", cause)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("outer: %w", err)
	var gwErr *Error
	require.ErrorAs(t, wrapped, &gwErr)
	assert.Equal(t, ErrInternal, gwErr.Type)
}

func TestType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrExpiredToken, Type(NewExpiredTokenError("late", nil)))
	assert.Equal(t, ErrTokenReplayed, Type(NewTokenReplayedError("seen", nil)))
	assert.Equal(t, ErrInternal, Type(errors.New("plain error")),
		"untyped errors are internal")
	assert.Equal(t, ErrInternal, Type(nil))
}

func TestIs(t *testing.T) {
	t.Parallel()

	err := NewForbiddenError("no", nil)
	assert.True(t, Is(err, ErrForbidden))
	assert.False(t, Is(err, ErrInvalidToken))
	assert.False(t, Is(errors.New("plain"), ErrForbidden))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{NewInvalidTokenError("bad", nil), http.StatusUnauthorized},
		{NewExpiredTokenError("late", nil), http.StatusUnauthorized},
		{NewTokenReplayedError("seen", nil), http.StatusUnauthorized},
		{NewInsufficientScopeError("scope", nil), http.StatusForbidden},
		{NewForbiddenError("no", nil), http.StatusForbidden},
		{NewError(ErrOrgMismatch, "wrong org", nil), http.StatusForbidden},
		{NewNotFoundError(ErrToolNotFound, "gone"), http.StatusNotFound},
		{NewInvalidRequestError("bad body", nil), http.StatusBadRequest},
		{NewError(ErrRateLimited, "slow down", nil), http.StatusTooManyRequests},
		{NewInternalError("broke", nil), http.StatusInternalServerError},
		{errors.New("plain error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "error %v", tt.err)
	}
}

func TestReplayDistinctFromInvalid(t *testing.T) {
	t.Parallel()

	// Same HTTP status class, distinct machine codes.
	replayed := NewTokenReplayedError("seen", nil)
	invalid := NewInvalidTokenError("bad", nil)
	assert.Equal(t, HTTPStatus(replayed), HTTPStatus(invalid))
	assert.NotEqual(t, Type(replayed), Type(invalid))
}
