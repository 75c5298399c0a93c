package ledgerhttp

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// readGroup collapses identical concurrent balance reads.
var readGroup singleflight.Group

func sharedRead(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := readGroup.DoChan(key, func() (any, error) {
		// the shared call outlives any single waiting caller
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}
