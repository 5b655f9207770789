// seed creates verified demo accounts in the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ErlanBelekov/authsvc/internal/domain"
	"github.com/ErlanBelekov/authsvc/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/authsvc/internal/password"
)

type account struct {
	name     string
	email    string
	password string
	verified bool
}

var accounts = []account{
	{"Seed Verified", "seed@test.local", "Seed-pass-123", true},
	{"Seed Unverified", "seed-unverified@test.local", "Seed-pass-123", false},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	users := postgres.NewUserRepository(pool)
	hasher := password.NewHasher(password.DefaultParams, 1)

	var created, refreshed int
	for _, a := range accounts {
		hash, err := hasher.Hash(ctx, a.password)
		if err != nil {
			log.Fatalf("hash %s: %v", a.email, err)
		}

		u, err := users.Create(ctx, a.email, a.name, hash)
		switch {
		case errors.Is(err, domain.ErrDuplicateEmail):
			// Re-runs reset the password so the printed credentials always work.
			existing, err := users.FindByEmail(ctx, a.email)
			if err != nil {
				log.Fatalf("find %s: %v", a.email, err)
			}
			if u, err = users.Update(ctx, existing.ID, domain.UserUpdate{SecretHash: &hash}); err != nil {
				log.Fatalf("refresh %s: %v", a.email, err)
			}
			refreshed++
		case err != nil:
			log.Fatalf("create %s: %v", a.email, err)
		default:
			created++
		}

		if a.verified && !u.IsVerified {
			if _, err := users.Update(ctx, u.ID, domain.UserUpdate{MarkVerified: true, ClearVerifyOTP: true}); err != nil {
				log.Fatalf("verify %s: %v", a.email, err)
			}
		}
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Created:   %d\n", created)
	fmt.Printf("  Refreshed: %d\n", refreshed)
	fmt.Println()
	for _, a := range accounts {
		fmt.Printf("  %-28s %s (verified=%t)\n", a.email, a.password, a.verified)
	}
	fmt.Println()
	fmt.Println("Log in with:")
	fmt.Printf(`  curl -i -X POST localhost:8080/api/auth/login -H 'Content-Type: application/json' -d '{"email":"%s","password":"%s"}'`+"\n", accounts[0].email, accounts[0].password)
}
