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
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/juju/errors"
	"github.com/samber/lo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reelrank/reelrank/storage"
)

var (
	ErrUserNotExist   = errors.NotFoundf("user")
	ErrMovieNotExist  = errors.NotFoundf("movie")
	ErrRatingNotExist = errors.NotFoundf("rating")
	ErrUserExists     = errors.AlreadyExistsf("user")
	ErrRatingExists   = errors.AlreadyExistsf("rating")
	ErrNoDatabase     = errors.NotAssignedf("database")
)

// User stores an account able to submit ratings.
type User struct {
	UserId       string `gorm:"primaryKey"`
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
}

// Movie stores catalog metadata about a movie. MovielensId is the join key
// into the scoring model's training vocabulary and may be absent.
type Movie struct {
	MovieId       int64 `gorm:"primaryKey"`
	MovielensId   *int64
	Title         string
	Genres        []string `gorm:"serializer:json"`
	ReleaseYear   int
	PosterPath    string
	Overview      string
	AverageRating float64
	RatingCount   int64
	CreatedAt     time.Time
}

// Rating stores one user's score for one movie. At most one rating exists
// per (user, movie) pair.
type Rating struct {
	RatingId  string `gorm:"primaryKey"`
	UserId    string
	MovieId   int64
	Score     float32
	Timestamp time.Time
}

// TopMovie is one row of the popularity aggregate, refreshed offline.
type TopMovie struct {
	MovieId     int64 `gorm:"primaryKey"`
	MeanRating  float64
	RatingCount int64
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// catalog
	BatchInsertMovies(ctx context.Context, movies []Movie) error
	BatchGetMovies(ctx context.Context, movieIds []int64) ([]Movie, error)
	GetMovie(ctx context.Context, movieId int64) (Movie, error)
	GetMovies(ctx context.Context, cursor string, n int) (string, []Movie, error)
	// users
	InsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userId string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	// ratings
	InsertRating(ctx context.Context, rating Rating) error
	GetRating(ctx context.Context, userId string, movieId int64) (Rating, error)
	CountUserRatings(ctx context.Context, userId string) (int, error)
	GetUserRatedMovies(ctx context.Context, userId string) ([]int64, error)
	// popularity
	GetTopMovies(ctx context.Context, n int) ([]TopMovie, error)
	ReplaceTopMovies(ctx context.Context, topMovies []TopMovie) error
}

// Open a connection to a database.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// probe isolation variable name
		isolationVarName, err := storage.ProbeMySQLIsolationVariableName(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":       "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			isolationVarName: "'READ-COMMITTED'",
			"parseTime":      "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_busy_timeout", B: "10000"},
			{A: "_journal_mode", B: "wal"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite3", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("unknown database: %s", path)
}
