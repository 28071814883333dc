package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"chat_gateway/internal/auth"
	"chat_gateway/internal/config"
	"chat_gateway/internal/storage"
)

func main() {
	email := flag.String("email", os.Getenv("CREATE_USER_EMAIL"), "account email (env CREATE_USER_EMAIL)")
	password := flag.String("password", os.Getenv("CREATE_USER_PASSWORD"), "account password (env CREATE_USER_PASSWORD)")
	name := flag.String("name", os.Getenv("CREATE_USER_NAME"), "display name (env CREATE_USER_NAME)")
	flag.Parse()

	fmt.Println("Chat API - Create User")

	if *email == "" || *password == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "ERROR: email, password and name are required")
		flag.Usage()
		os.Exit(2)
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          dbCfg.Driver,
		DSN:             dbCfg.URL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
		ConnMaxIdleTime: dbCfg.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to migrate database: %v\n", err)
		os.Exit(1)
	}

	user, err := auth.NewAuthenticator(db.NewUserRepository()).Register(ctx, *email, *password, *name)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		fmt.Printf("INFO: A user with email %s already exists\n", *email)
		fmt.Println("Exiting successfully (no action taken)")
		return
	case errors.Is(err, auth.ErrValidation):
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SUCCESS: User created")
	fmt.Printf("Email: %s\n", user.Email)
	fmt.Printf("ID: %s\n", user.ID)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format(time.RFC3339))
}
