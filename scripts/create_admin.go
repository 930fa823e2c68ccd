package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// Creates or resets a counselor account in the admins collection
// Usage: go run scripts/create_admin.go <email> <password> [display name]
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run scripts/create_admin.go <email> <password> [display name]")
		fmt.Println("Example: go run scripts/create_admin.go counselor@haven.org 0i2rinbcp12yc31h \"Dr. Rao\"")
		os.Exit(1)
	}
	_ = godotenv.Load()

	email := strings.ToLower(strings.TrimSpace(os.Args[1]))
	displayName := email
	if len(os.Args) > 3 {
		displayName = os.Args[3]
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(os.Args[2]), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Error generating hash: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("DB_URI")))
	if err != nil {
		fmt.Printf("Error connecting to mongo: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect(ctx)

	now := time.Now().UTC()
	res, err := client.Database(os.Getenv("DB_NAME")).Collection("admins").UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set": bson.M{
				"passwordHash": string(hashedPassword),
				"displayName":  displayName,
				"active":       true,
				"updatedAt":    now,
			},
			"$setOnInsert": bson.M{"email": email, "roles": []string{"counselor"}, "createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		fmt.Printf("Error saving admin: %v\n", err)
		os.Exit(1)
	}
	if res.UpsertedCount > 0 {
		fmt.Printf("Created admin %s\n", email)
		return
	}
	fmt.Printf("Reset password for admin %s\n", email)
}
