package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/database"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository/postgres"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		email    = flag.String("email", "", "User email")
		password = flag.String("password", "", "User password")
		username = flag.String("username", "", "Username (defaults to the email's local part)")
		fullName = flag.String("name", "", "Full name")
		plan     = flag.String("plan", models.PlanFree, "Plan (free, pro, unlimited)")
	)
	flag.Parse()

	*email = strings.ToLower(strings.TrimSpace(*email))
	if *email == "" {
		logrus.Fatal("-email is required")
	}
	if err := auth.ValidatePassword(*password); err != nil {
		logrus.WithError(err).Fatal("Invalid password")
	}
	if !models.ValidPlan(*plan) {
		logrus.Fatalf("Unknown plan %q", *plan)
	}
	if *username == "" {
		*username = strings.Split(*email, "@")[0]
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to hash password")
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        *email,
		Username:     *username,
		PasswordHash: hash,
		FullName:     *fullName,
		Plan:         *plan,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, err := postgres.NewUserRepository(db.DB).Upsert(ctx, user)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to save user")
	}

	if id == user.ID {
		fmt.Println("Created user:")
	} else {
		fmt.Println("Updated existing user:")
	}
	fmt.Printf("   Email: %s\n", *email)
	fmt.Printf("   Username: %s\n", *username)
	fmt.Printf("   Plan: %s\n", *plan)
	fmt.Printf("   ID: %s\n", id)
}
