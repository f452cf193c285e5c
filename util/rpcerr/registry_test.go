package rpcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"storj.io/drpc/drpcerr"
)

func TestErrGroup(t *testing.T) {
	group := ErrGroup(900)
	errTest := group.Register(errors.New("test error"), 5)

	t.Run("code", func(t *testing.T) {
		assert.Equal(t, uint64(905), Code(errTest))
		assert.Equal(t, uint64(905), Code(fmt.Errorf("wrapped: %w", errTest)))
		assert.Equal(t, uint64(0), Code(errors.New("plain")))
		assert.Equal(t, uint64(905), Code(fmt.Errorf("%w: %w", errors.New("first"), errTest)))
	})
	t.Run("coded", func(t *testing.T) {
		joined := fmt.Errorf("%w: %w", errors.New("first"), errTest)
		assert.Equal(t, uint64(905), drpcerr.Code(Coded(joined)))
		assert.Equal(t, joined.Error(), Coded(joined).Error())
		assert.Nil(t, Coded(nil))
	})
	t.Run("lookup", func(t *testing.T) {
		assert.Equal(t, errTest, Err(905))
		assert.Equal(t, uint64(906), Code(Err(906)))
	})
	t.Run("unwrap", func(t *testing.T) {
		assert.Equal(t, errTest, Unwrap(fmt.Errorf("wrapped: %w", errTest)))
		plain := errors.New("plain")
		assert.Equal(t, plain, Unwrap(plain))
	})
	t.Run("duplicate", func(t *testing.T) {
		assert.Panics(t, func() { group.Register(errors.New("dup"), 5) })
	})
}
