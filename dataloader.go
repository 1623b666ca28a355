package main

import (
	"context"
	"errors"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// DataLoaderContextKey is the key used to store dataloaders in context
type DataLoaderContextKey string

const dataLoaderKey DataLoaderContextKey = "dataloader"

var errCardNotFound = errors.New("profile card not found")

type cardSource interface {
	ProfileCards(ctx context.Context, userIDs []int) (map[int]model.ProfileCard, error)
}

// DataLoaders holds the per-request loaders.
type DataLoaders struct {
	CardLoader *dataloader.Loader[int, model.ProfileCard]
}

func NewDataLoaders(src cardSource) *DataLoaders {
	return &DataLoaders{
		CardLoader: dataloader.NewBatchedLoader(cardBatchFn(src), dataloader.WithWait[int, model.ProfileCard](2*time.Millisecond)),
	}
}

// GetDataLoadersFromContext retrieves dataloaders from context
func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// cardBatchFn loads the display cards of a batch of users in one query.
// Users without a profile get errCardNotFound.
func cardBatchFn(src cardSource) dataloader.BatchFunc[int, model.ProfileCard] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[model.ProfileCard] {
		results := make([]*dataloader.Result[model.ProfileCard], len(keys))
		if len(keys) == 0 {
			return results
		}

		cards, err := src.ProfileCards(ctx, keys)
		for i, key := range keys {
			switch card, ok := cards[key]; {
			case err != nil:
				results[i] = &dataloader.Result[model.ProfileCard]{Error: err}
			case !ok:
				results[i] = &dataloader.Result[model.ProfileCard]{Error: errCardNotFound}
			default:
				results[i] = &dataloader.Result[model.ProfileCard]{Data: card}
			}
		}
		return results
	}
}
