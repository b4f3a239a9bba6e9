package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
)

// TokenValidator resolves an access token to its user
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.User, *auth.JWTClaims, error)
}

// AuthConfig holds the auth middleware configuration
type AuthConfig struct {
	Validator TokenValidator
	// AllowQueryToken accepts ?token= for clients that cannot set headers (websockets)
	AllowQueryToken bool
}

// AuthRequired creates a middleware that requires a bearer token
func AuthRequired(v TokenValidator) fiber.Handler {
	return AuthMiddleware(AuthConfig{Validator: v})
}

// WebSocketAuth accepts the token from the query string as well as the header
func WebSocketAuth(v TokenValidator) fiber.Handler {
	return AuthMiddleware(AuthConfig{Validator: v, AllowQueryToken: true})
}

// AuthMiddleware is the main authentication middleware
func AuthMiddleware(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractTokenFromBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" && config.AllowQueryToken {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		user, _, err := config.Validator.ValidateAccessToken(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		storeUserContext(c, user)
		return c.Next()
	}
}

// storeUserContext stores user information in the fiber context
func storeUserContext(c *fiber.Ctx, user *models.User) {
	c.Locals("user_id", user.ID.String())
	c.Locals("user_context", &models.UserContext{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Plan:     user.Plan,
	})
}

// GetUserContext retrieves the user context from the fiber context
func GetUserContext(c *fiber.Ctx) *models.UserContext {
	if ctx := c.Locals("user_context"); ctx != nil {
		if userContext, ok := ctx.(*models.UserContext); ok {
			return userContext
		}
	}
	return nil
}

// GetUserID retrieves the user ID from the fiber context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	if uc := GetUserContext(c); uc != nil {
		return uc.UserID, nil
	}
	return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "User not authenticated")
}
