package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

// AdminMiddlewareSuite checks that a wrong token never reaches the handler.
type AdminMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAdminMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AdminMiddlewareSuite))
}

func (s *AdminMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AdminMiddlewareSuite) serve(expected string, headers map[string]string) (*httptest.ResponseRecorder, bool, string) {
	called := false
	actor := ""
	handler := RequireToken(expected, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		actor = ActorID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/rescore", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called, actor
}

func (s *AdminMiddlewareSuite) TestTokenValidation() {
	s.Run("correct token passes and records the actor", func() {
		w, called, actor := s.serve("secret", map[string]string{HeaderToken: "secret", HeaderActorID: "ops-1"})
		s.Equal(http.StatusOK, w.Code)
		s.True(called)
		s.Equal("ops-1", actor)
	})

	s.Run("wrong token is rejected", func() {
		w, called, _ := s.serve("secret", map[string]string{HeaderToken: "guess"})
		s.Equal(http.StatusUnauthorized, w.Code)
		s.False(called)
		s.Contains(w.Body.String(), "unauthorized")
	})

	s.Run("missing token is rejected", func() {
		w, called, _ := s.serve("secret", nil)
		s.Equal(http.StatusUnauthorized, w.Code)
		s.False(called)
	})

	s.Run("unconfigured token rejects everything", func() {
		w, called, _ := s.serve("", map[string]string{HeaderToken: ""})
		s.Equal(http.StatusUnauthorized, w.Code)
		s.False(called)
	})
}
