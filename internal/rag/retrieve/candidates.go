package retrieve

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ragpipeline/internal/persistence/databases"
)

// fetchCandidates runs the vector and lexical searches concurrently and
// awaits both before returning (§4.8 point 1, §5).
func fetchCandidates(ctx context.Context, vector databases.VectorStore, text databases.TextIndex, query string, queryVector []float32, opt Options) ([]databases.VectorResult, []databases.SearchResult, error) {
	filter := opt.buildFilter()
	k := opt.topK()

	var vecResults []databases.VectorResult
	var textResults []databases.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	if vector != nil && len(queryVector) > 0 {
		g.Go(func() error {
			res, err := vector.Search(gctx, queryVector, k, filter)
			if err != nil {
				return err
			}
			vecResults = res
			return nil
		})
	}
	if text != nil {
		g.Go(func() error {
			res, err := text.Search(gctx, query, k, filter)
			if err != nil {
				return err
			}
			textResults = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vecResults, textResults, nil
}
