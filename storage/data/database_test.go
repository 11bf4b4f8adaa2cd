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

package data

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"github.com/reelrank/reelrank/storage"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupSuite() {
	var err error
	path := fmt.Sprintf("sqlite://%s", filepath.Join(suite.T().TempDir(), "reelrank.db"))
	suite.Database, err = Open(path, "reelrank_")
	suite.NoError(err)
	suite.NoError(suite.Database.Init())
}

func (suite *baseTestSuite) TearDownSuite() {
	suite.NoError(suite.Database.Close())
}

func (suite *baseTestSuite) SetupTest() {
	suite.NoError(suite.Database.Ping())
	suite.NoError(suite.Database.Purge())
}

func (suite *baseTestSuite) TestUsers() {
	ctx := context.Background()
	user := User{
		UserId:       "1eb0ae16",
		Username:     "alice",
		Email:        "alice@example.com",
		FirstName:    "Alice",
		LastName:     "Anderson",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	suite.NoError(suite.Database.InsertUser(ctx, user))
	// lookup by id, username and email
	ret, err := suite.Database.GetUser(ctx, "1eb0ae16")
	suite.NoError(err)
	suite.Equal("alice", ret.Username)
	suite.Equal("$2a$10$abcdefghijklmnopqrstuv", ret.PasswordHash)
	ret, err = suite.Database.GetUserByUsername(ctx, "alice")
	suite.NoError(err)
	suite.Equal("1eb0ae16", ret.UserId)
	ret, err = suite.Database.GetUserByEmail(ctx, "alice@example.com")
	suite.NoError(err)
	suite.Equal("1eb0ae16", ret.UserId)
	// missing user
	_, err = suite.Database.GetUser(ctx, "missing")
	suite.ErrorIs(err, ErrUserNotExist)
	// duplicate username
	err = suite.Database.InsertUser(ctx, User{
		UserId:   "2fc1bf27",
		Username: "alice",
		Email:    "alice2@example.com",
	})
	suite.ErrorIs(err, ErrUserExists)
}

func (suite *baseTestSuite) TestMovies() {
	ctx := context.Background()
	movies := []Movie{
		{MovieId: 1, MovielensId: lo.ToPtr[int64](101), Title: "The Vanishing Reel", Genres: []string{"Drama", "Mystery"}, ReleaseYear: 1999, AverageRating: 4.1, RatingCount: 320},
		{MovieId: 2, Title: "Fathoms Below", Genres: []string{"Adventure"}, ReleaseYear: 2004, AverageRating: 3.4, RatingCount: 57},
		{MovieId: 3, MovielensId: lo.ToPtr[int64](103), Title: "Static City", Genres: []string{}, ReleaseYear: 2011},
	}
	suite.NoError(suite.Database.BatchInsertMovies(ctx, movies))
	// get a single movie
	movie, err := suite.Database.GetMovie(ctx, 1)
	suite.NoError(err)
	suite.Equal("The Vanishing Reel", movie.Title)
	suite.Equal([]string{"Drama", "Mystery"}, movie.Genres)
	suite.Equal(int64(101), *movie.MovielensId)
	// nullable external id
	movie, err = suite.Database.GetMovie(ctx, 2)
	suite.NoError(err)
	suite.Nil(movie.MovielensId)
	// missing movie
	_, err = suite.Database.GetMovie(ctx, 404)
	suite.ErrorIs(err, ErrMovieNotExist)
	// upsert overwrites metadata
	suite.NoError(suite.Database.BatchInsertMovies(ctx, []Movie{
		{MovieId: 1, MovielensId: lo.ToPtr[int64](101), Title: "The Vanishing Reel: Redux", Genres: []string{"Drama"}, ReleaseYear: 1999, AverageRating: 4.2, RatingCount: 321},
	}))
	movie, err = suite.Database.GetMovie(ctx, 1)
	suite.NoError(err)
	suite.Equal("The Vanishing Reel: Redux", movie.Title)
	suite.Equal(int64(321), movie.RatingCount)
	// batch get
	batch, err := suite.Database.BatchGetMovies(ctx, []int64{2, 3})
	suite.NoError(err)
	suite.Len(batch, 2)
}

func (suite *baseTestSuite) TestMoviePagination() {
	ctx := context.Background()
	movies := make([]Movie, 0, 10)
	for i := 1; i <= 10; i++ {
		movies = append(movies, Movie{
			MovieId: int64(i),
			Title:   "movie " + strconv.Itoa(i),
			Genres:  []string{},
		})
	}
	suite.NoError(suite.Database.BatchInsertMovies(ctx, movies))
	// iterate pages of 3
	var collected []Movie
	cursor := ""
	for {
		var page []Movie
		var err error
		cursor, page, err = suite.Database.GetMovies(ctx, cursor, 3)
		suite.NoError(err)
		collected = append(collected, page...)
		if cursor == "" {
			break
		}
	}
	suite.Len(collected, 10)
	for i, movie := range collected {
		suite.Equal(int64(i+1), movie.MovieId)
	}
	// page larger than the table
	cursor, page, err := suite.Database.GetMovies(ctx, "", 100)
	suite.NoError(err)
	suite.Empty(cursor)
	suite.Len(page, 10)
}

func (suite *baseTestSuite) TestRatings() {
	ctx := context.Background()
	rating := Rating{
		RatingId:  "a2cc4ebb-3d97-4b7a-9a4c-34b826e60a00",
		UserId:    "1eb0ae16",
		MovieId:   1,
		Score:     4.5,
		Timestamp: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	suite.NoError(suite.Database.InsertRating(ctx, rating))
	// fetch it back
	ret, err := suite.Database.GetRating(ctx, "1eb0ae16", 1)
	suite.NoError(err)
	suite.Equal(float32(4.5), ret.Score)
	suite.Equal(rating.RatingId, ret.RatingId)
	// a second rating for the same pair fails
	err = suite.Database.InsertRating(ctx, Rating{
		RatingId: "b3dd5fcc-4ea8-4c8b-8b5d-45c937f71b11",
		UserId:   "1eb0ae16",
		MovieId:  1,
		Score:    2.0,
	})
	suite.ErrorIs(err, ErrRatingExists)
	// the original score survives
	ret, err = suite.Database.GetRating(ctx, "1eb0ae16", 1)
	suite.NoError(err)
	suite.Equal(float32(4.5), ret.Score)
	// missing rating
	_, err = suite.Database.GetRating(ctx, "1eb0ae16", 2)
	suite.ErrorIs(err, ErrRatingNotExist)
	// counts and rated movie ids
	suite.NoError(suite.Database.InsertRating(ctx, Rating{RatingId: "c4ee6add-5fb9-4d9c-9c6e-56da48a82c22", UserId: "1eb0ae16", MovieId: 7, Score: 3}))
	suite.NoError(suite.Database.InsertRating(ctx, Rating{RatingId: "d5ff7bee-6aca-4ead-8d7f-67eb59b93d33", UserId: "other", MovieId: 1, Score: 5}))
	count, err := suite.Database.CountUserRatings(ctx, "1eb0ae16")
	suite.NoError(err)
	suite.Equal(2, count)
	movieIds, err := suite.Database.GetUserRatedMovies(ctx, "1eb0ae16")
	suite.NoError(err)
	suite.Equal([]int64{1, 7}, movieIds)
}

func (suite *baseTestSuite) TestTopMovies() {
	ctx := context.Background()
	suite.NoError(suite.Database.ReplaceTopMovies(ctx, []TopMovie{
		{MovieId: 1, MeanRating: 3.2, RatingCount: 100},
		{MovieId: 2, MeanRating: 4.8, RatingCount: 10},
		{MovieId: 3, MeanRating: 4.8, RatingCount: 20},
		{MovieId: 4, MeanRating: 4.0, RatingCount: 50},
	}))
	// ordered by mean rating, ties by movie id
	topMovies, err := suite.Database.GetTopMovies(ctx, 3)
	suite.NoError(err)
	suite.Equal([]int64{2, 3, 4}, lo.Map(topMovies, func(t TopMovie, _ int) int64 { return t.MovieId }))
	// replacement discards the previous aggregate
	suite.NoError(suite.Database.ReplaceTopMovies(ctx, []TopMovie{
		{MovieId: 9, MeanRating: 5, RatingCount: 1},
	}))
	topMovies, err = suite.Database.GetTopMovies(ctx, 10)
	suite.NoError(err)
	suite.Len(topMovies, 1)
	suite.Equal(int64(9), topMovies[0].MovieId)
	// empty replacement
	suite.NoError(suite.Database.ReplaceTopMovies(ctx, nil))
	topMovies, err = suite.Database.GetTopMovies(ctx, 10)
	suite.NoError(err)
	suite.Empty(topMovies)
}

func TestSQLite(t *testing.T) {
	suite.Run(t, new(baseTestSuite))
}

func TestTablePrefix(t *testing.T) {
	prefix := storage.TablePrefix("reelrank_")
	if prefix.MoviesTable() != "reelrank_movies" {
		t.Fatalf("unexpected table name: %s", prefix.MoviesTable())
	}
}

func TestNoDatabase(t *testing.T) {
	ctx := context.Background()
	var database NoDatabase
	if err := database.Ping(); err != ErrNoDatabase {
		t.Fatal("expected ErrNoDatabase")
	}
	if _, err := database.GetMovie(ctx, 1); err != ErrNoDatabase {
		t.Fatal("expected ErrNoDatabase")
	}
	if err := database.InsertRating(ctx, Rating{}); err != ErrNoDatabase {
		t.Fatal("expected ErrNoDatabase")
	}
}
