package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultSlipLimit},
		{5, 5},
		{100, 100},
		{500, MaxSlipLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Options{SlipLimit: tt.limit}.Limit())
	}
}
