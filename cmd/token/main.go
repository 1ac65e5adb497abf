// Package main is a development utility that signs a bearer token for the audit API using
// the shared GGR_JWT_SECRET. Production tokens are issued by the hosted backend; this tool
// lets developers call a local server as any dashboard role without it.
//
// Usage:
//
//	GGR_JWT_SECRET=... go run ./cmd/token -role super_admin -email admin@dev.local
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/go-green-rwanda/admin-backend/internal/auth"
)

func main() {
	role := flag.String("role", auth.RoleAdmin, "dashboard role: super_admin, admin, moderator or user")
	userID := flag.String("user", "", "subject claim (random when empty)")
	email := flag.String("email", "admin@dev.local", "email claim")
	name := flag.String("name", "Local Admin", "name claim")
	issuer := flag.String("issuer", auth.DefaultIssuer, "issuer claim")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if os.Getenv(auth.SecretEnv) == "" {
		log.Fatalf("%s must be set to the server's signing secret", auth.SecretEnv)
	}

	if *userID == "" {
		*userID = uuid.NewString()
	}

	token, err := auth.GenerateJWT(auth.TokenRequest{
		UserID:    *userID,
		Email:     *email,
		Name:      *name,
		Role:      *role,
		Issuer:    *issuer,
		ExpiresIn: *ttl,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Fprintf(os.Stderr, "role=%s scopes=%v expires=%s\n",
		*role, auth.ScopesForRole(*role), time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println(token)
}
