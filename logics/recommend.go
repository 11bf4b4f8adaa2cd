// Copyright 2024 ReelRank Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"context"
	"sort"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/reelrank/reelrank/base/log"
	"github.com/reelrank/reelrank/config"
	"github.com/reelrank/reelrank/model/svd"
	"github.com/reelrank/reelrank/storage/data"
)

const candidatePageSize = 1000

// ScoredMovie is a movie with its recommendation score. For personalized
// recommendations the score is the predicted rating; for popular movies it
// is the mean rating.
type ScoredMovie struct {
	data.Movie
	Score float32 `json:"score"`
}

// Recommender computes recommendations for users.
type Recommender struct {
	Database data.Database
	Oracle   *svd.Store
	Config   *config.Config
}

func NewRecommender(database data.Database, oracle *svd.Store, cfg *config.Config) *Recommender {
	return &Recommender{Database: database, Oracle: oracle, Config: cfg}
}

// Recommend returns up to n movies for a user. Users with fewer ratings
// than the active user threshold receive popular movies. An unknown user
// id behaves as a user with no ratings. The request never fails because
// of the scoring model: scoring problems degrade to the popularity
// fallback or drop the affected candidate.
func (r *Recommender) Recommend(ctx context.Context, userId string, n int) ([]ScoredMovie, error) {
	// cold-start users receive popular movies
	count, err := r.Database.CountUserRatings(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if count < r.Config.Recommend.ActiveUserThreshold {
		PopularFallbackTotal.Inc()
		return r.PopularMovies(ctx, n)
	}

	if !r.Oracle.Loaded() {
		log.Logger().Info("scoring model unavailable, falling back to popular movies",
			zap.String("user_id", userId))
		PopularFallbackTotal.Inc()
		return r.PopularMovies(ctx, n)
	}

	// collect unrated candidates with a known external id
	ratedIds, err := r.Database.GetUserRatedMovies(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rated := mapset.NewSet(ratedIds...)
	var candidates []data.Movie
	cursor := ""
	for {
		var page []data.Movie
		cursor, page, err = r.Database.GetMovies(ctx, cursor, candidatePageSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, movie := range page {
			if movie.MovielensId != nil && !rated.Contains(movie.MovieId) {
				candidates = append(candidates, movie)
			}
		}
		if cursor == "" || len(candidates) >= r.Config.Recommend.MaxCandidates {
			break
		}
	}
	if len(candidates) > r.Config.Recommend.MaxCandidates {
		candidates = candidates[:r.Config.Recommend.MaxCandidates]
	}

	// score candidates
	scored := make([]ScoredMovie, 0, len(candidates))
	for _, movie := range candidates {
		score, err := r.Oracle.Predict(userId, strconv.FormatInt(*movie.MovielensId, 10))
		if err != nil {
			log.Logger().Debug("skip unscorable movie",
				zap.String("user_id", userId),
				zap.Int64("movie_id", movie.MovieId),
				zap.Error(err))
			DroppedCandidatesTotal.Inc()
			continue
		}
		ScoredCandidatesTotal.Inc()
		scored = append(scored, ScoredMovie{Movie: movie, Score: score})
	}

	// rank by score, ties by movie id
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].MovieId < scored[j].MovieId
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// PopularMovies returns up to n movies from the popularity aggregate,
// joined with catalog metadata. Aggregate entries without a catalog movie
// are skipped.
func (r *Recommender) PopularMovies(ctx context.Context, n int) ([]ScoredMovie, error) {
	topMovies, err := r.Database.GetTopMovies(ctx, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	movieIds := make([]int64, 0, len(topMovies))
	for _, topMovie := range topMovies {
		movieIds = append(movieIds, topMovie.MovieId)
	}
	movies, err := r.Database.BatchGetMovies(ctx, movieIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	catalog := make(map[int64]data.Movie, len(movies))
	for _, movie := range movies {
		catalog[movie.MovieId] = movie
	}
	results := make([]ScoredMovie, 0, len(topMovies))
	for _, topMovie := range topMovies {
		movie, exist := catalog[topMovie.MovieId]
		if !exist {
			log.Logger().Warn("popular movie missing from catalog",
				zap.Int64("movie_id", topMovie.MovieId))
			continue
		}
		results = append(results, ScoredMovie{Movie: movie, Score: float32(topMovie.MeanRating)})
	}
	return results, nil
}

// AddRating records a rating. The movie must exist and the user must not
// have rated it before.
func (r *Recommender) AddRating(ctx context.Context, userId string, movieId int64, score float32) (data.Rating, error) {
	if _, err := r.Database.GetMovie(ctx, movieId); err != nil {
		return data.Rating{}, errors.Trace(err)
	}
	// fast-path duplicate check; the unique index catches races
	if _, err := r.Database.GetRating(ctx, userId, movieId); err == nil {
		return data.Rating{}, errors.Annotatef(data.ErrRatingExists, "(%s,%d)", userId, movieId)
	} else if !errors.Is(err, data.ErrRatingNotExist) {
		return data.Rating{}, errors.Trace(err)
	}
	rating := data.Rating{
		RatingId:  uuid.NewString(),
		UserId:    userId,
		MovieId:   movieId,
		Score:     score,
		Timestamp: time.Now().UTC(),
	}
	if err := r.Database.InsertRating(ctx, rating); err != nil {
		return data.Rating{}, errors.Trace(err)
	}
	return rating, nil
}
