package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/api/middleware"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/sirupsen/logrus"
)

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
}

func internalError(c *fiber.Ctx, err error) error {
	logrus.WithError(err).WithField("path", c.Path()).Error("Request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

// notFoundOr maps repository.ErrNotFound to 404 and anything else to 500
func notFoundOr(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": msg})
	}
	return internalError(c, err)
}

// caller returns the authenticated user and the :id route parameter
func caller(c *fiber.Ctx) (*models.UserContext, uuid.UUID, error) {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return nil, uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "Not authenticated")
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, uuid.Nil, fiber.NewError(fiber.StatusNotFound, "Session not found")
	}
	return userContext, id, nil
}

// ErrorHandler renders errors as {"error": message}
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		logrus.WithError(err).WithField("path", c.Path()).Error("Unhandled error")
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
