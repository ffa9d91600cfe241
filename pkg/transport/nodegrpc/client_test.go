package nodegrpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nexusfleet/nexuscore/pkg/coreerr"
)

func TestTranslateRPCError_MapsGRPCCodesToCoreErrTaxonomy(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.DeadlineExceeded, coreerr.ErrTimeout},
		{codes.Canceled, coreerr.ErrCancelled},
		{codes.NotFound, coreerr.ErrNotFound},
		{codes.AlreadyExists, coreerr.ErrAlreadyExists},
		{codes.InvalidArgument, coreerr.ErrInvalidArgument},
		{codes.ResourceExhausted, coreerr.ErrNoSpace},
		{codes.FailedPrecondition, coreerr.ErrStateConflict},
		{codes.Unavailable, coreerr.ErrIoError},
	}

	for _, tc := range cases {
		err := translateRPCError("CreatePool", "pool", "pool-a", status.Error(tc.code, "boom"))
		assert.ErrorIsf(t, err, tc.want, "code %s", tc.code)
	}
}

func TestTranslateRPCError_NilIsNil(t *testing.T) {
	assert.NoError(t, translateRPCError("CreatePool", "pool", "pool-a", nil))
}

func TestTranslateRPCError_NonStatusErrorBecomesIoError(t *testing.T) {
	err := translateRPCError("CreatePool", "pool", "pool-a", errors.New("connection refused"))
	assert.ErrorIs(t, err, coreerr.ErrIoError)
}
