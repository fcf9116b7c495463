package statlineerrors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeData, "nothing"))
}

func TestWrap_PreservesCauseAndStack(t *testing.T) {
	base := New(ErrorTypeConnection, "dial").WithTable("Observations")
	wrapped := Wrap(base, ErrorTypeFetchFailed, "page 3")

	require.NotNil(t, wrapped)
	assert.Equal(t, base.Stack, wrapped.Stack)
	assert.Equal(t, "Observations", wrapped.Table)
	assert.True(t, errors.Is(wrapped, base))
	assert.Equal(t, "fetch_failed[Observations]: page 3: connection[Observations]: dial", wrapped.Error())
}

func TestIsType_WalksChain(t *testing.T) {
	err := fmt.Errorf("outer: %w",
		Wrap(New(ErrorTypeNotFound, "no such dataset"), ErrorTypeInternal, "discover"))

	assert.True(t, IsType(err, ErrorTypeInternal))
	assert.True(t, IsType(err, ErrorTypeNotFound))
	assert.False(t, IsType(err, ErrorTypeData))
	assert.False(t, IsType(io.EOF, ErrorTypeData))
}

func TestStageOf(t *testing.T) {
	err := Wrap(New(ErrorTypeData, "bad"), ErrorTypeConversionFailed, "convert").WithStage("Converting")
	assert.Equal(t, "Converting", StageOf(err))
	assert.Equal(t, "", StageOf(io.EOF))
	assert.Equal(t, "", TableOf(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection", New(ErrorTypeConnection, "x"), true},
		{"fetch", New(ErrorTypeFetchFailed, "x"), true},
		{"catalog", New(ErrorTypeCatalogRegistrationFailed, "x"), true},
		{"not found", New(ErrorTypeNotFound, "x"), false},
		{"unsupported", New(ErrorTypeUnsupportedCombination, "x"), false},
		{"plain", io.EOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
