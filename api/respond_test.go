package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/facade"
	"github.com/xraph/herald/id"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: body", herald.ErrValidation), http.StatusBadRequest},
		{herald.ErrInsufficientBalance, http.StatusPaymentRequired},
		{herald.ErrGroupNotFound, http.StatusNotFound},
		{herald.ErrContactNotFound, http.StatusNotFound},
		{herald.ErrJobNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: pool closed", herald.ErrQueueBackend), http.StatusServiceUnavailable},
		{&facade.JobError{JobID: id.NewJobID(), Message: "smsc down"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
