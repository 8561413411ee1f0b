package storefronttests

import (
	"context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Products of the demo catalog used by the cart scenarios.
const (
	IPhoneProductID  = 40
	MacBookProductID = 43
)

func DoCartTests(t *T) {
	t.RunParallel(map[string]func(*T){
		"guest cart starts empty": func(t *T) {
			exec := t.Execution()
			ctx := context.Background()
			_, err := exec.Auth.StartGuestSession(ctx)
			require.NoError(t, err)
			items, err := exec.Cart.Items(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)
		},

		"added product can be updated and removed": func(t *T) {
			exec := t.Execution()
			ctx := context.Background()
			_, err := exec.Auth.StartGuestSession(ctx)
			require.NoError(t, err)
			require.NoError(t, exec.Cart.Add(ctx, IPhoneProductID, 1))
			require.NoError(t, exec.Cart.Add(ctx, MacBookProductID, 1))

			items, err := exec.Cart.Items(ctx)
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, IPhoneProductID, items[0].ProductID)

			require.NoError(t, exec.Cart.Update(ctx, items[0].Key, 3))
			require.NoError(t, exec.Cart.Remove(ctx, items[1].Key))

			items, err = exec.Cart.Items(ctx)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, IPhoneProductID, items[0].ProductID)
			assert.Equal(t, 3, items[0].Quantity)

			require.NoError(t, exec.Cart.Clear(ctx))
			items, err = exec.Cart.Items(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)
		},
	})
}
