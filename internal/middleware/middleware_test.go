package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, GetSessionID(c))
	}
}

func TestSession_CreatesCookieAndReusesIt(t *testing.T) {
	r := gin.New()
	r.GET("/", Session("shuq_"), echoSession())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Body.String()
	require.NotEmpty(t, id)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "shuq_session_id", cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, id, w.Body.String())
	assert.Empty(t, w.Result().Cookies())
}

func TestSession_HeaderWins(t *testing.T) {
	r := gin.New()
	r.GET("/", Session("shuq_"), echoSession())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderSessionID, "from-header")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "from-header", w.Body.String())
}

func TestAdminToken(t *testing.T) {
	r := gin.New()
	r.GET("/", AdminToken("secret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAdminToken, "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRedisRateLimit_PerSession(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.POST("/", Session("shuq_"), RedisRateLimit(rdb, 2, time.Minute, nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(sessionID string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(HeaderSessionID, sessionID)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"))
}

func TestRedisRateLimit_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	r := gin.New()
	r.POST("/", RedisRateLimit(rdb, 1, time.Second, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
