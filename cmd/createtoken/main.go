package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/database"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository/postgres"
	"github.com/sirupsen/logrus"
)

// createtoken issues an access token for an existing user, for use with
// the chat client's --token flag or JURIST_TOKEN
func main() {
	email := flag.String("email", "", "User email")
	flag.Parse()
	if *email == "" {
		logrus.Fatal("-email is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Auth.JWTSecret == "" {
		logrus.Fatal("auth.jwt_secret (or JURIST_JWT_SECRET) must match the server's secret")
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	user, err := postgres.NewUserRepository(db.DB).GetByEmail(ctx, strings.ToLower(strings.TrimSpace(*email)))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to find user")
	}

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, auth.Issuer, cfg.Auth.AccessTokenTTL)
	token, err := jwtService.GenerateAccessToken(user.ID.String(), user.Email, user.Username, user.Plan)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to generate token")
	}

	fmt.Printf("Access token for %s (user %s):\n", user.Email, user.ID)
	fmt.Println(token)
	fmt.Printf("\nexport JURIST_TOKEN=%s\nexport JURIST_USER_ID=%s\n", token, user.ID)
}
