package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Prints a bcrypt hash for API_TOKEN_HASH. The token is read from the first
// argument, or generated when none is given.
func main() {
	var token string
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		token = base64.RawURLEncoding.EncodeToString(buf)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}

	fmt.Printf("✅ API token hashed successfully!\n")
	fmt.Printf("   Token: %s\n", token)
	fmt.Printf("   API_TOKEN_HASH=%s\n", hash)
}
