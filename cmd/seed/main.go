// Package main provides a utility to seed users for development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/nd-se/auth-service/internal/auth"
	"github.com/nd-se/auth-service/internal/domain"
	"github.com/nd-se/auth-service/internal/store/file"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	username := flag.String("username", "admin", "Username")
	email := flag.String("email", "admin@example.com", "Email address")
	password := flag.String("password", "password123", "Password")
	role := flag.String("role", "admin", "Role (user, moderator, admin)")
	flag.Parse()

	if !domain.Role(*role).Valid() {
		log.Fatalf("Unknown role: %s", *role)
	}

	st, err := file.NewStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     *username,
		Email:        *email,
		PasswordHash: hash,
		Role:         domain.Role(*role),
		Active:       true,
		AuthProvider: domain.ProviderLocal,
	}

	if err := st.Users().Create(ctx, user); err != nil {
		fmt.Printf("User may already exist: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created user: %s (%s, role %s)\n", user.Username, user.Email, user.Role)
	fmt.Println("\nTest with:")
	fmt.Println("  1. Start server: go run ./cmd/authd")
	fmt.Printf("  2. curl -X POST http://localhost:8000/api/auth/login -d '{\"username\":\"%s\",\"password\":\"%s\"}'\n", *username, *password)
}
