package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/threadflow/configs"
	"github.com/maheshrc27/threadflow/pkg/utils"
)

func newApp(cfg config.Config) *fiber.App {
	app := fiber.New()
	app.Use(NewAuthMiddleware(cfg).AuthMiddleware())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string) + " " + c.Locals("email").(string))
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Config{SecretKey: "secret", CookieName: "session"}
	valid, err := utils.GenerateToken(cfg.SecretKey, 42, "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	expired, _ := utils.GenerateToken(cfg.SecretKey, 42, "a@example.com", -time.Hour)
	foreign, _ := utils.GenerateToken("other-secret", 42, "a@example.com", time.Hour)

	tests := []struct {
		name   string
		cookie string
		bearer string
		status int
		body   string
	}{
		{name: "missing", status: fiber.StatusUnauthorized},
		{name: "cookie", cookie: valid, status: fiber.StatusOK, body: "42 a@example.com"},
		{name: "bearer", bearer: valid, status: fiber.StatusOK, body: "42 a@example.com"},
		{name: "expired", cookie: expired, status: fiber.StatusUnauthorized},
		{name: "wrong secret", bearer: foreign, status: fiber.StatusUnauthorized},
		{name: "garbage", cookie: "not-a-token", status: fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: cfg.CookieName, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tt.bearer)
			}

			resp, err := newApp(cfg).Test(req)
			if err != nil {
				t.Fatalf("Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.body != "" {
				b, _ := io.ReadAll(resp.Body)
				if string(b) != tt.body {
					t.Fatalf("body = %q, want %q", b, tt.body)
				}
			}
		})
	}
}
