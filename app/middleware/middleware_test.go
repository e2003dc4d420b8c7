package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/smsdispatch/app/services"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(t *testing.T) (*fiber.App, services.TokenService) {
	t.Helper()

	tokens, err := services.NewTokenService(time.Hour, 0, "smsdispatch", "api", "test-secret")
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/me", NewAuthMiddleware(tokens).Authenticate(), func(c fiber.Ctx) error {
		id, ok := GetAccountIDFromContext(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"account_id": id})
	})
	return app, tokens
}

func TestAuthenticate(t *testing.T) {
	app, tokens := newAuthApp(t)
	access, refresh, err := tokens.GenerateTokens(42)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid access token", header: "Bearer " + access, want: http.StatusOK},
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.jwt", want: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + refresh, want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics("/metrics"))
	app.Get("/campaigns/:uuid", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/metrics", func(c fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/campaigns/:uuid", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/campaigns/"+id, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	scrape := httpRequestsTotal.WithLabelValues(http.MethodGet, "/metrics", "200")
	scrapesBefore := testutil.ToFloat64(scrape)
	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
	assert.Equal(t, scrapesBefore, testutil.ToFloat64(scrape), "the scrape path is not measured")
}
