package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Plan     string `json:"plan"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"`
	User        *UserResponse `json:"user"`
}

func toUserResponse(u *models.User) *UserResponse {
	return &UserResponse{
		ID:       u.ID.String(),
		Email:    u.Email,
		Username: u.Username,
		FullName: u.FullName,
		Plan:     u.Plan,
	}
}

// Login exchanges email and password for an access token
func Login(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || req.Password == "" {
			return badRequest(c, "Email and password are required")
		}

		user, token, err := svc.Auth.Login(c.UserContext(), req.Email, req.Password)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, auth.ErrUserInactive):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		case err != nil:
			return internalError(c, err)
		}

		return c.JSON(LoginResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int(svc.Auth.JWT().TTL().Seconds()),
			User:        toUserResponse(user),
		})
	}
}

// GetCurrentUser returns the authenticated user
func GetCurrentUser(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userContext := middleware.GetUserContext(c)
		if userContext == nil {
			return unauthorized(c)
		}
		user, err := svc.Users.GetByID(c.UserContext(), userContext.UserID)
		if err != nil {
			return notFoundOr(c, err, "User not found")
		}
		return c.JSON(toUserResponse(user))
	}
}
