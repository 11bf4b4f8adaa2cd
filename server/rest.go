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

package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reelrank/reelrank/base/log"
	"github.com/reelrank/reelrank/config"
	"github.com/reelrank/reelrank/logics"
	"github.com/reelrank/reelrank/model/svd"
	"github.com/reelrank/reelrank/storage/data"
)

// RestServer implements the REST-ful API server.
type RestServer struct {
	DataClient  data.Database
	Oracle      *svd.Store
	Recommender *logics.Recommender
	Config      *config.Config
	HttpHost    string
	HttpPort    int
	WebService  *restful.WebService
}

// StartHttpServer starts the REST-ful API server.
func (s *RestServer) StartHttpServer() {
	// register restful APIs
	s.CreateWebService()
	restful.DefaultContainer.Add(s.WebService)
	// register swagger
	specConfig := restfulspec.Config{
		WebServices: restful.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	restful.DefaultContainer.Add(restfulspec.NewOpenAPIService(specConfig))
	// register prometheus
	http.Handle("/metrics", promhttp.Handler())

	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	log.Logger().Fatal("failed to start http server",
		zap.Error(http.ListenAndServe(fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort), nil)))
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	chain.ProcessFilter(req, resp)
	if req.Request.URL.Path != "/api/health" {
		log.Logger().Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
			zap.Int("status_code", resp.StatusCode()))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)

	/* Authentication */

	// Sign up
	ws.Route(ws.POST("/signup").To(s.signup).
		Doc("Create an account.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"auth"}).
		Reads(SignupRequest{}).
		Writes(data.User{}))
	// Log in
	ws.Route(ws.POST("/login").To(s.login).
		Doc("Exchange credentials for an access token.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"auth"}).
		Reads(LoginRequest{}).
		Writes(TokenResponse{}))

	/* Catalog */

	// Get movies
	ws.Route(ws.GET("/movies").To(s.getMovies).
		Doc("Get movies.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"movie"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Param(ws.QueryParameter("n", "number of returned movies").DataType("integer")).
		Param(ws.QueryParameter("cursor", "cursor for the next page").DataType("string")).
		Writes(MovieIterator{}))
	// Get popular movies
	ws.Route(ws.GET("/movies/top").To(s.getTopMovies).
		Doc("Get popular movies.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"movie"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Param(ws.QueryParameter("n", "number of returned movies").DataType("integer")).
		Writes([]logics.ScoredMovie{}))
	// Get a movie
	ws.Route(ws.GET("/movie/{movie-id}").To(s.getMovie).
		Doc("Get a movie.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"movie"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Param(ws.PathParameter("movie-id", "identifier of the movie").DataType("integer")).
		Writes(data.Movie{}))
	// Insert movies
	ws.Route(ws.POST("/movies").To(s.insertMovies).
		Doc("Insert or update movies.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"movie"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Reads([]data.Movie{}).
		Writes(Success{}))

	/* Ratings */

	// Insert a rating
	ws.Route(ws.POST("/rating").To(s.insertRating).
		Doc("Rate a movie.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Reads(RatingRequest{}).
		Writes(data.Rating{}))
	// Get rated movies
	ws.Route(ws.GET("/ratings").To(s.getRatings).
		Doc("Get ids of movies rated by the authenticated user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Writes([]int64{}))

	/* Recommendations */

	ws.Route(ws.GET("/recommend").To(s.getRecommend).
		Doc("Get recommendations for the authenticated user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("Authorization", "bearer access token")).
		Param(ws.QueryParameter("n", "number of returned movies").DataType("integer")).
		Writes([]logics.ScoredMovie{}))

	/* Health */

	ws.Route(ws.GET("/health").To(s.getHealth).
		Doc("Probe database and scoring model health.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthStatus{}))
}

// SignupRequest is the payload to create an account.
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoginRequest is the payload to obtain an access token.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a signed access token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RatingRequest is the payload to rate a movie.
type RatingRequest struct {
	MovieId int64   `json:"movie_id"`
	Score   float32 `json:"score"`
}

// MovieIterator is the returned data structure for movie pagination.
type MovieIterator struct {
	Cursor string
	Movies []data.Movie
}

// Success is the returned data structure for insert operations.
type Success struct {
	RowAffected int
}

// HealthStatus is the returned data structure of the health probe.
type HealthStatus struct {
	Ready         bool   `json:"ready"`
	DatabaseError string `json:"database_error,omitempty"`
	ModelLoaded   bool   `json:"model_loaded"`
}

func (s *RestServer) signup(request *restful.Request, response *restful.Response) {
	var req SignupRequest
	if err := request.ReadEntity(&req); err != nil {
		BadRequest(response, err)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		BadRequest(response, errors.New("username, email and password are required"))
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	user := data.User{
		UserId:       uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err = s.DataClient.InsertUser(request.Request.Context(), user); err != nil {
		writeError(response, err)
		return
	}
	Ok(response, user)
}

func (s *RestServer) login(request *restful.Request, response *restful.Response) {
	var req LoginRequest
	if err := request.ReadEntity(&req); err != nil {
		BadRequest(response, err)
		return
	}
	user, err := s.DataClient.GetUserByEmail(request.Request.Context(), req.Email)
	if errors.IsNotFound(err) || (err == nil && !VerifyPassword(user.PasswordHash, req.Password)) {
		Unauthorized(response, errors.New("incorrect email or password"))
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	token, expiresAt, err := s.IssueToken(user.UserId, time.Now())
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// auth resolves the authenticated user id from the bearer token. On failure
// it writes 401 and returns false.
func (s *RestServer) auth(request *restful.Request, response *restful.Response) (string, bool) {
	if s.Config.Server.JWTSecret == "" {
		Unauthorized(response, errors.New("authentication is not configured"))
		return "", false
	}
	token, ok := bearerToken(request.HeaderParameter("Authorization"))
	if !ok {
		Unauthorized(response, errors.New("missing bearer token"))
		return "", false
	}
	userId, err := s.parseToken(token)
	if err != nil {
		log.Logger().Debug("invalid access token", zap.Error(err))
		Unauthorized(response, errors.New("invalid access token"))
		return "", false
	}
	return userId, true
}

// ParseInt parses an integer from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

func (s *RestServer) getMovies(request *restful.Request, response *restful.Response) {
	if _, ok := s.auth(request, response); !ok {
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	cursor := request.QueryParameter("cursor")
	next, movies, err := s.DataClient.GetMovies(request.Request.Context(), cursor, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, MovieIterator{Cursor: next, Movies: movies})
}

func (s *RestServer) getTopMovies(request *restful.Request, response *restful.Response) {
	if _, ok := s.auth(request, response); !ok {
		return
	}
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	movies, err := s.Recommender.PopularMovies(request.Request.Context(), n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, movies)
}

func (s *RestServer) getMovie(request *restful.Request, response *restful.Response) {
	if _, ok := s.auth(request, response); !ok {
		return
	}
	movieId, err := strconv.ParseInt(request.PathParameter("movie-id"), 10, 64)
	if err != nil {
		BadRequest(response, err)
		return
	}
	movie, err := s.DataClient.GetMovie(request.Request.Context(), movieId)
	if err != nil {
		writeError(response, err)
		return
	}
	Ok(response, movie)
}

func (s *RestServer) insertMovies(request *restful.Request, response *restful.Response) {
	if _, ok := s.auth(request, response); !ok {
		return
	}
	var movies []data.Movie
	if err := request.ReadEntity(&movies); err != nil {
		BadRequest(response, err)
		return
	}
	for _, movie := range movies {
		if movie.MovieId <= 0 {
			BadRequest(response, errors.Errorf("invalid movie id %d", movie.MovieId))
			return
		}
	}
	if err := s.DataClient.BatchInsertMovies(request.Request.Context(), movies); err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, Success{RowAffected: len(movies)})
}

func (s *RestServer) insertRating(request *restful.Request, response *restful.Response) {
	userId, ok := s.auth(request, response)
	if !ok {
		return
	}
	start := time.Now()
	var req RatingRequest
	if err := request.ReadEntity(&req); err != nil {
		BadRequest(response, err)
		return
	}
	if req.Score < svd.MinScore || req.Score > svd.MaxScore {
		BadRequest(response, errors.Errorf("score must be between %v and %v", svd.MinScore, svd.MaxScore))
		return
	}
	rating, err := s.Recommender.AddRating(request.Request.Context(), userId, req.MovieId, req.Score)
	if err != nil {
		writeError(response, err)
		return
	}
	InsertRatingSeconds.Observe(time.Since(start).Seconds())
	Ok(response, rating)
}

func (s *RestServer) getRatings(request *restful.Request, response *restful.Response) {
	userId, ok := s.auth(request, response)
	if !ok {
		return
	}
	movieIds, err := s.DataClient.GetUserRatedMovies(request.Request.Context(), userId)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	if movieIds == nil {
		movieIds = []int64{}
	}
	Ok(response, movieIds)
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	userId, ok := s.auth(request, response)
	if !ok {
		return
	}
	start := time.Now()
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	movies, err := s.Recommender.Recommend(request.Request.Context(), userId, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	GetRecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, movies)
}

func (s *RestServer) getHealth(_ *restful.Request, response *restful.Response) {
	status := HealthStatus{Ready: true, ModelLoaded: s.Oracle.Loaded()}
	if err := s.DataClient.Ping(); err != nil {
		status.Ready = false
		status.DatabaseError = err.Error()
	}
	Ok(response, status)
}

// writeError maps storage errors to status codes.
func writeError(response *restful.Response, err error) {
	switch {
	case errors.IsNotFound(err):
		PageNotFound(response, err)
	case errors.IsAlreadyExists(err):
		Conflict(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.Logger().Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns an internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.Logger().Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Conflict returns a conflict error.
func Conflict(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusConflict, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Unauthorized returns an unauthorized error.
func Unauthorized(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusUnauthorized, err); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}
