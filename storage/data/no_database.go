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

import "context"

// NoDatabase means no database is configured.
type NoDatabase struct{}

func (NoDatabase) Init() error {
	return ErrNoDatabase
}

func (NoDatabase) Ping() error {
	return ErrNoDatabase
}

func (NoDatabase) Close() error {
	return ErrNoDatabase
}

func (NoDatabase) Purge() error {
	return ErrNoDatabase
}

func (NoDatabase) BatchInsertMovies(_ context.Context, _ []Movie) error {
	return ErrNoDatabase
}

func (NoDatabase) BatchGetMovies(_ context.Context, _ []int64) ([]Movie, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetMovie(_ context.Context, _ int64) (Movie, error) {
	return Movie{}, ErrNoDatabase
}

func (NoDatabase) GetMovies(_ context.Context, _ string, _ int) (string, []Movie, error) {
	return "", nil, ErrNoDatabase
}

func (NoDatabase) InsertUser(_ context.Context, _ User) error {
	return ErrNoDatabase
}

func (NoDatabase) GetUser(_ context.Context, _ string) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) GetUserByEmail(_ context.Context, _ string) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) GetUserByUsername(_ context.Context, _ string) (User, error) {
	return User{}, ErrNoDatabase
}

func (NoDatabase) InsertRating(_ context.Context, _ Rating) error {
	return ErrNoDatabase
}

func (NoDatabase) GetRating(_ context.Context, _ string, _ int64) (Rating, error) {
	return Rating{}, ErrNoDatabase
}

func (NoDatabase) CountUserRatings(_ context.Context, _ string) (int, error) {
	return 0, ErrNoDatabase
}

func (NoDatabase) GetUserRatedMovies(_ context.Context, _ string) ([]int64, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) GetTopMovies(_ context.Context, _ int) ([]TopMovie, error) {
	return nil, ErrNoDatabase
}

func (NoDatabase) ReplaceTopMovies(_ context.Context, _ []TopMovie) error {
	return ErrNoDatabase
}
