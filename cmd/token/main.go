package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Jacobpac15/chatapp-parcial3/internal/config"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

func main() {
	userID := flag.Int64("id", 0, "User id to embed in the token")
	username := flag.String("username", "", "Username to embed in the token")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to TOKEN_TTL)")
	verify := flag.String("verify", "", "Verify a token instead of issuing one")
	header := flag.Bool("header", false, "Print as an Authorization header")
	flag.Parse()

	cfg := config.Load()
	tokenConfig := crypto.TokenConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.TokenTTL}
	if *ttl > 0 {
		tokenConfig.TTL = *ttl
	}
	tokens := crypto.NewTokenManager(tokenConfig)

	if *verify != "" {
		identity, err := tokens.Verify(*verify)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("id=%d username=%s\n", identity.ID, identity.Username)
		return
	}

	if *userID <= 0 || *username == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -id <user-id> -username <name> [-ttl 24h] [-header]")
		fmt.Fprintln(os.Stderr, "       token -verify <token>")
		os.Exit(1)
	}

	token, err := tokens.Issue(models.Identity{ID: *userID, Username: *username})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	if *header {
		fmt.Printf("Authorization: Bearer %s\n", token)
		return
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(tokenConfig.TTL).UTC().Format(time.RFC3339))
}
