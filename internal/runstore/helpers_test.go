package runstore_test

import (
	"context"
	"iter"

	"assetopt/internal/datocms"
)

type emptyCatalog struct{}

func (emptyCatalog) Candidates(context.Context, int64) iter.Seq2[datocms.Asset, error] {
	return func(func(datocms.Asset, error) bool) {}
}

func (emptyCatalog) CountCandidates(context.Context, int64) (int64, error) {
	return 0, nil
}
