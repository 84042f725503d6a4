package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qms-platform/signoff/internal/workflow"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: title must not be empty", workflow.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: not yours", workflow.ErrAuthorization), http.StatusForbidden},
		{fmt.Errorf("%w: document doc-1", workflow.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: already signed", workflow.ErrInvalidState), http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestPlaceholderRequestAcceptsBothNamings(t *testing.T) {
	page, x, y, w, h := 2, 10.0, 20.0, 30.0, 5.0

	p, err := placeholderRequest{Page: &page, X: &x, Y: &y, W: &w, H: &h}.toPlaceholder()
	assert.NoError(t, err)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 30.0, p.W)

	p, err = placeholderRequest{PPage: &page, PX: &x, PY: &y, PW: &w, H: &h}.toPlaceholder()
	assert.NoError(t, err)
	assert.Equal(t, 5.0, p.H)

	_, err = placeholderRequest{Page: &page, X: &x}.toPlaceholder()
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestSignerRequestPrefersAssignedFields(t *testing.T) {
	in := signerRequest{Name: "Al", AssignedToName: "Alice", Email: "a@co.com"}.toInput()
	assert.Equal(t, "Alice", in.Name)
	assert.Equal(t, "a@co.com", in.Email)
}
