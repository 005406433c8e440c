package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/model"
)

func options(weights ...int) []model.VariantOption {
	out := make([]model.VariantOption, len(weights))
	for i, w := range weights {
		out[i] = model.VariantOption{
			Type:       model.VariantTypeTreatment,
			ID:         string(rune('a' + i)),
			Percentage: w,
			PaywallID:  "pw",
		}
	}
	return out
}

func TestChooseVariant(t *testing.T) {
	t.Run("Should error on empty options", func(t *testing.T) {
		_, err := ChooseVariant(nil, nil)
		assert.ErrorIs(t, err, ErrNoVariants)
	})

	t.Run("Should return a single option without drawing", func(t *testing.T) {
		drew := false
		v, err := ChooseVariant(options(100), func(int) int { drew = true; return 0 })

		require.NoError(t, err)
		assert.Equal(t, "a", v.ID)
		assert.False(t, drew)
	})

	t.Run("Should walk cumulative weights", func(t *testing.T) {
		opts := options(70, 20, 10)

		tests := []struct {
			threshold int
			wantID    string
		}{
			{0, "a"},
			{69, "a"},
			{70, "b"},
			{89, "b"},
			{90, "c"},
			{99, "c"},
		}
		for _, tt := range tests {
			v, err := ChooseVariant(opts, func(n int) int {
				assert.Equal(t, 100, n, "threshold must be drawn over the weight sum")
				return tt.threshold
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, v.ID, "threshold %d", tt.threshold)
		}
	})

	t.Run("Should not require weights to sum to 100", func(t *testing.T) {
		v, err := ChooseVariant(options(1, 2), func(n int) int {
			assert.Equal(t, 3, n)
			return 2
		})

		require.NoError(t, err)
		assert.Equal(t, "b", v.ID)
	})

	t.Run("Should fall back to uniform choice when all weights are zero", func(t *testing.T) {
		v, err := ChooseVariant(options(0, 0, 0), func(n int) int {
			assert.Equal(t, 3, n, "uniform draw is over the option count")
			return 1
		})

		require.NoError(t, err)
		assert.Equal(t, "b", v.ID)
	})
}
