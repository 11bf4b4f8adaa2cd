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
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/reelrank/reelrank/base/json"
	"github.com/reelrank/reelrank/storage"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// SQLDatabase uses a relational database as the data store.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	switch d.driver {
	case MySQL:
		type Users struct {
			UserId       string    `gorm:"column:user_id;type:varchar(36) not null;primaryKey"`
			Username     string    `gorm:"column:username;type:varchar(256) not null;uniqueIndex"`
			Email        string    `gorm:"column:email;type:varchar(256) not null;uniqueIndex"`
			FirstName    string    `gorm:"column:first_name;type:varchar(256) not null"`
			LastName     string    `gorm:"column:last_name;type:varchar(256) not null"`
			PasswordHash string    `gorm:"column:password_hash;type:varchar(256) not null"`
			CreatedAt    time.Time `gorm:"column:created_at;type:datetime not null"`
		}
		type Movies struct {
			MovieId       int64     `gorm:"column:movie_id;type:bigint not null;primaryKey"`
			MovielensId   *int64    `gorm:"column:movielens_id;type:bigint;uniqueIndex"`
			Title         string    `gorm:"column:title;type:varchar(256) not null"`
			Genres        string    `gorm:"column:genres;type:json not null"`
			ReleaseYear   int       `gorm:"column:release_year;type:int not null"`
			PosterPath    string    `gorm:"column:poster_path;type:text not null"`
			Overview      string    `gorm:"column:overview;type:text not null"`
			AverageRating float64   `gorm:"column:average_rating;type:double not null"`
			RatingCount   int64     `gorm:"column:rating_count;type:bigint not null"`
			CreatedAt     time.Time `gorm:"column:created_at;type:datetime not null"`
		}
		type Ratings struct {
			RatingId  string    `gorm:"column:rating_id;type:varchar(36) not null;primaryKey"`
			UserId    string    `gorm:"column:user_id;type:varchar(36) not null;uniqueIndex:user_movie;index:user_id"`
			MovieId   int64     `gorm:"column:movie_id;type:bigint not null;uniqueIndex:user_movie;index:movie_id"`
			Score     float32   `gorm:"column:score;type:float not null"`
			Timestamp time.Time `gorm:"column:time_stamp;type:datetime not null"`
		}
		type TopMovies struct {
			MovieId     int64   `gorm:"column:movie_id;type:bigint not null;primaryKey"`
			MeanRating  float64 `gorm:"column:mean_rating;type:double not null"`
			RatingCount int64   `gorm:"column:rating_count;type:bigint not null"`
		}
		err := d.gormDB.Set("gorm:table_options", "ENGINE=InnoDB").
			AutoMigrate(Users{}, Movies{}, Ratings{}, TopMovies{})
		if err != nil {
			return errors.Trace(err)
		}
	case Postgres:
		type Users struct {
			UserId       string    `gorm:"column:user_id;type:varchar(36) not null;primaryKey"`
			Username     string    `gorm:"column:username;type:varchar(256) not null;uniqueIndex"`
			Email        string    `gorm:"column:email;type:varchar(256) not null;uniqueIndex"`
			FirstName    string    `gorm:"column:first_name;type:varchar(256) not null default ''"`
			LastName     string    `gorm:"column:last_name;type:varchar(256) not null default ''"`
			PasswordHash string    `gorm:"column:password_hash;type:varchar(256) not null default ''"`
			CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz not null default '0001-01-01'"`
		}
		type Movies struct {
			MovieId       int64     `gorm:"column:movie_id;type:bigint not null;primaryKey"`
			MovielensId   *int64    `gorm:"column:movielens_id;type:bigint;uniqueIndex"`
			Title         string    `gorm:"column:title;type:varchar(256) not null"`
			Genres        string    `gorm:"column:genres;type:json not null default '[]'"`
			ReleaseYear   int       `gorm:"column:release_year;type:int not null default 0"`
			PosterPath    string    `gorm:"column:poster_path;type:text not null default ''"`
			Overview      string    `gorm:"column:overview;type:text not null default ''"`
			AverageRating float64   `gorm:"column:average_rating;type:double precision not null default 0"`
			RatingCount   int64     `gorm:"column:rating_count;type:bigint not null default 0"`
			CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz not null default '0001-01-01'"`
		}
		type Ratings struct {
			RatingId  string    `gorm:"column:rating_id;type:varchar(36) not null;primaryKey"`
			UserId    string    `gorm:"column:user_id;type:varchar(36) not null;uniqueIndex:user_movie;index:user_id_index"`
			MovieId   int64     `gorm:"column:movie_id;type:bigint not null;uniqueIndex:user_movie;index:movie_id_index"`
			Score     float32   `gorm:"column:score;type:real not null"`
			Timestamp time.Time `gorm:"column:time_stamp;type:timestamptz not null default '0001-01-01'"`
		}
		type TopMovies struct {
			MovieId     int64   `gorm:"column:movie_id;type:bigint not null;primaryKey"`
			MeanRating  float64 `gorm:"column:mean_rating;type:double precision not null"`
			RatingCount int64   `gorm:"column:rating_count;type:bigint not null"`
		}
		err := d.gormDB.AutoMigrate(Users{}, Movies{}, Ratings{}, TopMovies{})
		if err != nil {
			return errors.Trace(err)
		}
	case SQLite:
		type Users struct {
			UserId       string    `gorm:"column:user_id;primaryKey"`
			Username     string    `gorm:"column:username;uniqueIndex"`
			Email        string    `gorm:"column:email;uniqueIndex"`
			FirstName    string    `gorm:"column:first_name"`
			LastName     string    `gorm:"column:last_name"`
			PasswordHash string    `gorm:"column:password_hash"`
			CreatedAt    time.Time `gorm:"column:created_at"`
		}
		type Movies struct {
			MovieId       int64     `gorm:"column:movie_id;primaryKey"`
			MovielensId   *int64    `gorm:"column:movielens_id;uniqueIndex"`
			Title         string    `gorm:"column:title"`
			Genres        string    `gorm:"column:genres"`
			ReleaseYear   int       `gorm:"column:release_year"`
			PosterPath    string    `gorm:"column:poster_path"`
			Overview      string    `gorm:"column:overview"`
			AverageRating float64   `gorm:"column:average_rating"`
			RatingCount   int64     `gorm:"column:rating_count"`
			CreatedAt     time.Time `gorm:"column:created_at"`
		}
		type Ratings struct {
			RatingId  string    `gorm:"column:rating_id;primaryKey"`
			UserId    string    `gorm:"column:user_id;uniqueIndex:user_movie;index:user_id_index"`
			MovieId   int64     `gorm:"column:movie_id;uniqueIndex:user_movie;index:movie_id_index"`
			Score     float32   `gorm:"column:score"`
			Timestamp time.Time `gorm:"column:time_stamp"`
		}
		type TopMovies struct {
			MovieId     int64   `gorm:"column:movie_id;primaryKey"`
			MeanRating  float64 `gorm:"column:mean_rating"`
			RatingCount int64   `gorm:"column:rating_count"`
		}
		err := d.gormDB.AutoMigrate(Users{}, Movies{}, Ratings{}, TopMovies{})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// Purge removes all rows from all tables.
func (d *SQLDatabase) Purge() error {
	tables := []string{d.UsersTable(), d.MoviesTable(), d.RatingsTable(), d.TopMoviesTable()}
	for _, table := range tables {
		if err := d.gormDB.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertMovies inserts a batch of movies, overwriting metadata of
// movies already present.
func (d *SQLDatabase) BatchInsertMovies(ctx context.Context, movies []Movie) error {
	if len(movies) == 0 {
		return nil
	}
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("INSERT INTO %s(movie_id, movielens_id, title, genres, release_year, poster_path, overview, average_rating, rating_count, created_at) VALUES ", d.MoviesTable()))
	var args []interface{}
	for i, movie := range movies {
		genres, err := json.Marshal(movie.Genres)
		if err != nil {
			return errors.Trace(err)
		}
		switch d.driver {
		case MySQL, SQLite:
			builder.WriteString("(?,?,?,?,?,?,?,?,?,?)")
		case Postgres:
			builder.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5,
				len(args)+6, len(args)+7, len(args)+8, len(args)+9, len(args)+10))
		}
		if i+1 < len(movies) {
			builder.WriteString(",")
		}
		args = append(args, movie.MovieId, movie.MovielensId, movie.Title, string(genres), movie.ReleaseYear,
			movie.PosterPath, movie.Overview, movie.AverageRating, movie.RatingCount, movie.CreatedAt)
	}
	switch d.driver {
	case MySQL:
		builder.WriteString(" ON DUPLICATE KEY " +
			"UPDATE movielens_id = VALUES(movielens_id), title = VALUES(title), genres = VALUES(genres), " +
			"release_year = VALUES(release_year), poster_path = VALUES(poster_path), overview = VALUES(overview), " +
			"average_rating = VALUES(average_rating), rating_count = VALUES(rating_count)")
	case Postgres, SQLite:
		builder.WriteString(" ON CONFLICT (movie_id) " +
			"DO UPDATE SET movielens_id = EXCLUDED.movielens_id, title = EXCLUDED.title, genres = EXCLUDED.genres, " +
			"release_year = EXCLUDED.release_year, poster_path = EXCLUDED.poster_path, overview = EXCLUDED.overview, " +
			"average_rating = EXCLUDED.average_rating, rating_count = EXCLUDED.rating_count")
	}
	_, err := d.client.ExecContext(ctx, builder.String(), args...)
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchGetMovies(ctx context.Context, movieIds []int64) ([]Movie, error) {
	if len(movieIds) == 0 {
		return nil, nil
	}
	result, err := d.gormDB.WithContext(ctx).Table(d.MoviesTable()).
		Select("movie_id, movielens_id, title, genres, release_year, poster_path, overview, average_rating, rating_count, created_at").
		Where("movie_id IN ?", movieIds).Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer result.Close()
	var movies []Movie
	for result.Next() {
		movie, err := scanMovie(result)
		if err != nil {
			return nil, errors.Trace(err)
		}
		movies = append(movies, movie)
	}
	return movies, nil
}

// GetMovie gets a movie from the catalog.
func (d *SQLDatabase) GetMovie(ctx context.Context, movieId int64) (Movie, error) {
	result, err := d.gormDB.WithContext(ctx).Table(d.MoviesTable()).
		Select("movie_id, movielens_id, title, genres, release_year, poster_path, overview, average_rating, rating_count, created_at").
		Where("movie_id = ?", movieId).Rows()
	if err != nil {
		return Movie{}, errors.Trace(err)
	}
	defer result.Close()
	if result.Next() {
		return scanMovie(result)
	}
	return Movie{}, errors.Annotate(ErrMovieNotExist, strconv.FormatInt(movieId, 10))
}

// GetMovies returns movies in ascending order of movie id. The returned
// cursor fetches the next page when non-empty.
func (d *SQLDatabase) GetMovies(ctx context.Context, cursor string, n int) (string, []Movie, error) {
	var cursorId int64
	if cursor != "" {
		var err error
		if cursorId, err = strconv.ParseInt(cursor, 10, 64); err != nil {
			return "", nil, errors.Trace(err)
		}
	}
	result, err := d.gormDB.WithContext(ctx).Table(d.MoviesTable()).
		Select("movie_id, movielens_id, title, genres, release_year, poster_path, overview, average_rating, rating_count, created_at").
		Where("movie_id >= ?", cursorId).Order("movie_id").Limit(n + 1).Rows()
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	defer result.Close()
	movies := make([]Movie, 0)
	for result.Next() {
		movie, err := scanMovie(result)
		if err != nil {
			return "", nil, errors.Trace(err)
		}
		movies = append(movies, movie)
	}
	if len(movies) == n+1 {
		return strconv.FormatInt(movies[len(movies)-1].MovieId, 10), movies[:len(movies)-1], nil
	}
	return "", movies, nil
}

func scanMovie(result *sql.Rows) (Movie, error) {
	var movie Movie
	var genres string
	if err := result.Scan(&movie.MovieId, &movie.MovielensId, &movie.Title, &genres, &movie.ReleaseYear,
		&movie.PosterPath, &movie.Overview, &movie.AverageRating, &movie.RatingCount, &movie.CreatedAt); err != nil {
		return Movie{}, errors.Trace(err)
	}
	if err := json.Unmarshal([]byte(genres), &movie.Genres); err != nil {
		return Movie{}, errors.Trace(err)
	}
	return movie, nil
}

// InsertUser inserts a user. A duplicate user id, username or email fails
// with ErrUserExists.
func (d *SQLDatabase) InsertUser(ctx context.Context, user User) error {
	err := d.gormDB.WithContext(ctx).Table(d.UsersTable()).Create(map[string]interface{}{
		"user_id":       user.UserId,
		"username":      user.Username,
		"email":         user.Email,
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"password_hash": user.PasswordHash,
		"created_at":    user.CreatedAt,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Annotate(ErrUserExists, user.UserId)
	}
	return errors.Trace(err)
}

func (d *SQLDatabase) GetUser(ctx context.Context, userId string) (User, error) {
	return d.getUser(ctx, "user_id = ?", userId)
}

func (d *SQLDatabase) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return d.getUser(ctx, "email = ?", email)
}

func (d *SQLDatabase) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return d.getUser(ctx, "username = ?", username)
}

func (d *SQLDatabase) getUser(ctx context.Context, query string, arg interface{}) (User, error) {
	result, err := d.gormDB.WithContext(ctx).Table(d.UsersTable()).
		Select("user_id, username, email, first_name, last_name, password_hash, created_at").
		Where(query, arg).Rows()
	if err != nil {
		return User{}, errors.Trace(err)
	}
	defer result.Close()
	if result.Next() {
		var user User
		if err = result.Scan(&user.UserId, &user.Username, &user.Email, &user.FirstName,
			&user.LastName, &user.PasswordHash, &user.CreatedAt); err != nil {
			return User{}, errors.Trace(err)
		}
		return user, nil
	}
	return User{}, errors.Annotatef(ErrUserNotExist, "%v", arg)
}

// InsertRating inserts a rating. The unique index on (user_id, movie_id)
// is the authoritative guard against duplicate ratings: a second rating for
// the same pair fails with ErrRatingExists even under concurrent writers.
func (d *SQLDatabase) InsertRating(ctx context.Context, rating Rating) error {
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Create(map[string]interface{}{
		"rating_id":  rating.RatingId,
		"user_id":    rating.UserId,
		"movie_id":   rating.MovieId,
		"score":      rating.Score,
		"time_stamp": rating.Timestamp,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Annotatef(ErrRatingExists, "(%s,%d)", rating.UserId, rating.MovieId)
	}
	return errors.Trace(err)
}

func (d *SQLDatabase) GetRating(ctx context.Context, userId string, movieId int64) (Rating, error) {
	result, err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Select("rating_id, user_id, movie_id, score, time_stamp").
		Where("user_id = ? AND movie_id = ?", userId, movieId).Rows()
	if err != nil {
		return Rating{}, errors.Trace(err)
	}
	defer result.Close()
	if result.Next() {
		var rating Rating
		if err = result.Scan(&rating.RatingId, &rating.UserId, &rating.MovieId,
			&rating.Score, &rating.Timestamp); err != nil {
			return Rating{}, errors.Trace(err)
		}
		return rating, nil
	}
	return Rating{}, errors.Annotatef(ErrRatingNotExist, "(%s,%d)", userId, movieId)
}

func (d *SQLDatabase) CountUserRatings(ctx context.Context, userId string) (int, error) {
	var count int64
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).Count(&count).Error
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(count), nil
}

// GetUserRatedMovies returns the ids of all movies rated by a user.
func (d *SQLDatabase) GetUserRatedMovies(ctx context.Context, userId string) ([]int64, error) {
	var movieIds []int64
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).Order("movie_id").Pluck("movie_id", &movieIds).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	return movieIds, nil
}

// GetTopMovies returns the popularity aggregate ordered by mean rating
// descending. Ties are broken by ascending movie id for reproducibility.
func (d *SQLDatabase) GetTopMovies(ctx context.Context, n int) ([]TopMovie, error) {
	result, err := d.gormDB.WithContext(ctx).Table(d.TopMoviesTable()).
		Select("movie_id, mean_rating, rating_count").
		Order("mean_rating DESC, movie_id").Limit(n).Rows()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer result.Close()
	topMovies := make([]TopMovie, 0)
	for result.Next() {
		var topMovie TopMovie
		if err = result.Scan(&topMovie.MovieId, &topMovie.MeanRating, &topMovie.RatingCount); err != nil {
			return nil, errors.Trace(err)
		}
		topMovies = append(topMovies, topMovie)
	}
	return topMovies, nil
}

// ReplaceTopMovies atomically replaces the whole popularity aggregate.
func (d *SQLDatabase) ReplaceTopMovies(ctx context.Context, topMovies []TopMovie) error {
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("DELETE FROM %s", d.TopMoviesTable())).Error; err != nil {
			return errors.Trace(err)
		}
		if len(topMovies) == 0 {
			return nil
		}
		rows := make([]map[string]interface{}, 0, len(topMovies))
		for _, topMovie := range topMovies {
			rows = append(rows, map[string]interface{}{
				"movie_id":     topMovie.MovieId,
				"mean_rating":  topMovie.MeanRating,
				"rating_count": topMovie.RatingCount,
			})
		}
		return errors.Trace(tx.Table(d.TopMoviesTable()).Create(rows).Error)
	})
	return errors.Trace(err)
}
